package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/excuse"
	"github.com/kalambet/alibi/internal/proof"
	"github.com/kalambet/alibi/internal/speech"
	"github.com/kalambet/alibi/internal/storage"
	"github.com/kalambet/alibi/internal/store"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP handlers need.
type Deps struct {
	Excuses  *excuse.Service
	Registry *store.Store
	Saved    *store.SavedStore
	Proofs   *proof.Orchestrator
	Speech   *speech.Service // optional; nil disables /speak_excuse
	History  *storage.Store  // optional; nil disables /history
	Limiter  *IPRateLimiter  // optional; nil disables rate limiting
}

// NewHandler returns the alibi REST API. The legacy paths used by the
// original web front end are routed to the same handlers.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	limited := func(h http.HandlerFunc) http.Handler {
		if deps.Limiter == nil {
			return h
		}
		return deps.Limiter.Middleware(h)
	}

	r.Get("/health", handleHealth(deps))

	r.Method(http.MethodPost, "/generate", limited(handleGenerate(deps)))
	r.Get("/excuses/{id}", handleGetExcuse(deps))
	r.Post("/excuses/{id}/feedback", handleFeedback(deps))
	r.Post("/feedback", handleFeedback(deps))

	r.Method(http.MethodPost, "/speak_excuse", limited(handleSpeak(deps)))
	r.Method(http.MethodPost, "/generate_proof/{excuse_id}", limited(handleGenerateProof(deps)))

	r.Get("/proofs/{name}", handleServeFile(deps.Proofs.Dir(), contentTypeByExt))
	audioDir := ""
	if deps.Speech != nil {
		audioDir = deps.Speech.Dir()
	}
	r.Get("/audio/{name}", handleServeFile(audioDir, contentTypeByExt))
	r.Get("/audio_files/{name}", handleServeFile(audioDir, contentTypeByExt))

	r.Get("/saved", handleListSaved(deps))
	r.Post("/saved", handleSave(deps))
	r.Delete("/saved/{id}", handleDeleteSaved(deps))
	r.Get("/get_saved_excuses", handleListSaved(deps))
	r.Post("/save_excuse", handleSave(deps))
	r.Delete("/delete_saved_excuse/{id}", handleDeleteSaved(deps))

	r.Get("/insights", handleInsights(deps))
	r.Get("/history", handleHistory(deps))

	return r
}

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version,omitempty"`
}

// handleHealth reports liveness and, when history is enabled, the latest
// applied schema migration.
func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if deps.History != nil {
			versions, err := deps.History.AppliedMigrations()
			if err != nil {
				writeError(w, r, err)
				return
			}
			if n := len(versions); n > 0 {
				resp.SchemaVersion = versions[n-1]
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type generateResponse struct {
	Excuse   string        `json:"excuse"`
	ExcuseID string        `json:"excuse_id"`
	Record   excuse.Excuse `json:"record"`
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req excuse.Request
		if !decodeBody(w, r, &req) {
			return
		}

		e, err := deps.Excuses.Generate(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, generateResponse{Excuse: e.Text, ExcuseID: e.ID, Record: e})
	}
}

func handleGetExcuse(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.Registry.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

type feedbackRequest struct {
	ExcuseID    string `json:"excuse_id"`
	Effective   *bool  `json:"effective"`
	IsEffective *bool  `json:"is_effective"`
}

type feedbackResponse struct {
	ExcuseID       string  `json:"excuse_id"`
	EffectiveCount int     `json:"effective_count"`
	FeedbackCount  int     `json:"feedback_count"`
	Effectiveness  float64 `json:"effectiveness"`
	Message        string  `json:"message"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			id = strings.TrimSpace(req.ExcuseID)
		}
		if id == "" {
			httpError(w, http.StatusBadRequest, string(apperr.KindInvalidInput), "excuse_id is required")
			return
		}
		effective := req.Effective
		if effective == nil {
			effective = req.IsEffective
		}
		if effective == nil {
			httpError(w, http.StatusBadRequest, string(apperr.KindInvalidInput), "effective is required")
			return
		}

		e, err := deps.Excuses.Feedback(r.Context(), id, *effective)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, feedbackResponse{
			ExcuseID:       e.ID,
			EffectiveCount: e.EffectiveCount,
			FeedbackCount:  e.FeedbackCount,
			Effectiveness:  e.EffectivenessRatio(),
			Message:        "Feedback recorded.",
		})
	}
}

type speakRequest struct {
	Excuse   string `json:"excuse"`
	ExcuseID string `json:"excuse_id"`
	Language string `json:"language"`
}

func handleSpeak(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Speech == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "speech synthesis is disabled")
			return
		}
		var req speakRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if e, err := deps.Registry.Get(req.ExcuseID); err == nil {
			if strings.TrimSpace(req.Excuse) == "" {
				req.Excuse = e.Text
			}
			if req.Language == "" {
				req.Language = e.Language
			}
		}

		audio, err := deps.Speech.Speak(r.Context(), req.ExcuseID, req.Excuse, req.Language)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, audio)
	}
}

type proofRequest struct {
	ProofType string `json:"proof_type"`
	Excuse    string `json:"excuse"`
	Scenario  string `json:"scenario"`
}

type proofResponse struct {
	ProofURL string     `json:"proof_url"`
	Name     string     `json:"name"`
	Kind     proof.Kind `json:"kind"`
}

func handleGenerateProof(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req proofRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ProofType == "" {
			req.ProofType = string(proof.KindDoctorNote)
		}

		id := chi.URLParam(r, "excuse_id")
		if e, err := deps.Registry.Get(id); err == nil {
			if strings.TrimSpace(req.Excuse) == "" {
				req.Excuse = e.Text
			}
			if strings.TrimSpace(req.Scenario) == "" {
				req.Scenario = e.Scenario
			}
		}

		a, err := deps.Proofs.Generate(r.Context(), proof.Request{
			ExcuseID:   id,
			Kind:       proof.Kind(req.ProofType),
			ExcuseText: req.Excuse,
			Scenario:   req.Scenario,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, proofResponse{ProofURL: a.URL, Name: a.Name, Kind: a.Kind})
	}
}

func handleInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Registry.Insights())
	}
}

type historyResponse struct {
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
	Excuses []storage.HistoryRecord `json:"excuses"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, string(apperr.KindNotFound), "history archive is disabled")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		records, err := deps.History.ListExcuses(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, string(apperr.KindInternal), "failed to list history: %v", err)
			return
		}
		if records == nil {
			records = []storage.HistoryRecord{}
		}
		total, err := deps.History.CountExcuses()
		if err != nil {
			httpError(w, http.StatusInternalServerError, string(apperr.KindInternal), "failed to count history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, historyResponse{Total: total, Limit: limit, Offset: offset, Excuses: records})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
