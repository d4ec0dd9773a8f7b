package excuse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/alibi/internal/apperr"
)

const (
	defaultRole          = "generic"
	defaultRecipient     = "generic"
	defaultUrgency       = "medium"
	defaultBelievability = 5
)

var urgencies = map[string]bool{"low": true, "medium": true, "high": true}

// Completer produces sanitized text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Registry keeps generated excuses and their feedback for the process
// lifetime. Implemented by store.Store.
type Registry interface {
	Record(e Excuse)
	Feedback(id string, effective bool, at time.Time) (Excuse, error)
}

// Archive persists excuses and feedback beyond the process lifetime.
// Implemented by storage.Store.
type Archive interface {
	SaveExcuse(e Excuse) error
	RecordFeedback(excuseID string, effective bool, at time.Time) error
}

// Service generates excuses and tracks feedback on them.
type Service struct {
	provider Completer
	registry Registry
	archive  Archive
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. archive may be nil.
func NewService(provider Completer, registry Registry, archive Archive) *Service {
	return &Service{
		provider: provider,
		registry: registry,
		archive:  archive,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Normalize applies defaults and validates req.
func Normalize(req Request) (Request, error) {
	req.Scenario = NormalizeScenario(req.Scenario)
	if !IsScenario(req.Scenario) {
		return req, apperr.New(apperr.KindInvalidInput, "Invalid scenario provided.")
	}

	req.UserRole = strings.TrimSpace(req.UserRole)
	if req.UserRole == "" {
		req.UserRole = defaultRole
	}
	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.Recipient == "" {
		req.Recipient = defaultRecipient
	}

	req.Urgency = strings.ToLower(strings.TrimSpace(req.Urgency))
	if req.Urgency == "" {
		req.Urgency = defaultUrgency
	}
	if !urgencies[req.Urgency] {
		return req, apperr.New(apperr.KindInvalidInput, "urgency must be one of low, medium, high")
	}

	if req.Believability == 0 {
		req.Believability = defaultBelievability
	}
	if req.Believability < 1 || req.Believability > 10 {
		return req, apperr.New(apperr.KindInvalidInput, "believability must be between 1 and 10")
	}

	tag, err := ResolveLanguage(strings.TrimSpace(req.Language))
	if err != nil {
		return req, err
	}
	req.Language = tag.String()
	return req, nil
}

// Generate validates req, asks the provider for an excuse and records it.
func (s *Service) Generate(ctx context.Context, req Request) (Excuse, error) {
	req, err := Normalize(req)
	if err != nil {
		return Excuse{}, err
	}
	tag, err := ResolveLanguage(req.Language)
	if err != nil {
		return Excuse{}, err
	}

	text, err := s.provider.Complete(ctx, BuildPrompt(req, LanguageName(tag)))
	if err != nil {
		return Excuse{}, fmt.Errorf("generating excuse: %w", err)
	}

	e := Excuse{
		ID:            uuid.New().String(),
		Text:          text,
		Scenario:      req.Scenario,
		UserRole:      req.UserRole,
		Recipient:     req.Recipient,
		Urgency:       req.Urgency,
		Believability: int(req.Believability),
		Language:      req.Language,
		CreatedAt:     s.now().UTC(),
	}
	s.registry.Record(e)

	if s.archive != nil {
		if err := s.archive.SaveExcuse(e); err != nil {
			s.logger.Warn("archiving excuse failed", "excuse_id", e.ID, "error", err)
		}
	}

	s.logger.Debug("excuse generated", "excuse_id", e.ID, "scenario", e.Scenario, "language", e.Language)
	return e, nil
}

// Feedback records whether the excuse worked. Unknown ids fail with a
// not_found error and change nothing.
func (s *Service) Feedback(ctx context.Context, id string, effective bool) (Excuse, error) {
	at := s.now().UTC()
	e, err := s.registry.Feedback(id, effective, at)
	if err != nil {
		return Excuse{}, err
	}

	if s.archive != nil {
		if err := s.archive.RecordFeedback(id, effective, at); err != nil {
			s.logger.Warn("archiving feedback failed", "excuse_id", id, "error", err)
		}
	}
	return e, nil
}
