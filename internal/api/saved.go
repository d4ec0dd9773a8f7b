package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/alibi/internal/excuse"
	"github.com/kalambet/alibi/internal/store"
)

type saveRequest struct {
	ExcuseID      string               `json:"excuse_id"`
	Text          string               `json:"text"`
	ExcuseText    string               `json:"excuse_text"`
	Scenario      string               `json:"scenario"`
	UserRole      string               `json:"user_role"`
	Recipient     string               `json:"recipient"`
	Urgency       string               `json:"urgency"`
	Believability excuse.Believability `json:"believability"`
	Language      string               `json:"language"`
}

// toSaved merges the request over the registered excuse, if any. Fields
// given in the request win.
func (req saveRequest) toSaved(registry *store.Store) store.SavedExcuse {
	var s store.SavedExcuse
	if req.ExcuseID != "" {
		if e, err := registry.Get(req.ExcuseID); err == nil {
			s = store.FromExcuse(e)
		}
	}
	s.ExcuseID = req.ExcuseID

	text := req.Text
	if strings.TrimSpace(text) == "" {
		text = req.ExcuseText
	}
	setIf(&s.Text, text)
	setIf(&s.Scenario, excuse.NormalizeScenario(req.Scenario))
	setIf(&s.UserRole, req.UserRole)
	setIf(&s.Recipient, req.Recipient)
	setIf(&s.Urgency, req.Urgency)
	setIf(&s.Language, req.Language)
	if req.Believability != 0 {
		s.Believability = int(req.Believability)
	}
	return s
}

func setIf(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

type saveResponse struct {
	Message string            `json:"message"`
	Saved   store.SavedExcuse `json:"saved"`
}

func handleSave(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveRequest
		if !decodeBody(w, r, &req) {
			return
		}

		saved, err := deps.Saved.Save(req.toSaved(deps.Registry))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, saveResponse{Message: "Excuse saved.", Saved: saved})
	}
}

type savedListResponse struct {
	Excuses []store.SavedExcuse `json:"excuses"`
}

func handleListSaved(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := deps.Saved.List()
		if err != nil {
			writeError(w, r, err)
			return
		}
		if all == nil {
			all = []store.SavedExcuse{}
		}
		writeJSON(w, http.StatusOK, savedListResponse{Excuses: all})
	}
}

func handleDeleteSaved(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Saved.Delete(chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Excuse deleted."})
	}
}
