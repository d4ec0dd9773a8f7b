package store

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/excuse"
	"github.com/kalambet/alibi/internal/fsx"
)

// SavedExcuse is a user-kept copy of an excuse.
type SavedExcuse struct {
	ID            string    `json:"id"`
	ExcuseID      string    `json:"excuse_id,omitempty"`
	Text          string    `json:"text"`
	Scenario      string    `json:"scenario"`
	UserRole      string    `json:"user_role"`
	Recipient     string    `json:"recipient"`
	Urgency       string    `json:"urgency"`
	Believability int       `json:"believability"`
	Language      string    `json:"language"`
	CreatedAt     time.Time `json:"created_at"`
	SavedAt       time.Time `json:"saved_at"`
}

// FromExcuse copies the fields of a generated excuse.
func FromExcuse(e excuse.Excuse) SavedExcuse {
	return SavedExcuse{
		ExcuseID:      e.ID,
		Text:          e.Text,
		Scenario:      e.Scenario,
		UserRole:      e.UserRole,
		Recipient:     e.Recipient,
		Urgency:       e.Urgency,
		Believability: e.Believability,
		Language:      e.Language,
		CreatedAt:     e.CreatedAt,
	}
}

// SavedStore keeps saved excuses in a single JSON object keyed by id. Every
// mutation rewrites the whole document atomically while holding both an
// in-process mutex and a lock file, so the file is always valid JSON or
// absent and concurrent writers from other processes serialize.
type SavedStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewSavedStore(path string) *SavedStore {
	return &SavedStore{path: path, now: time.Now}
}

// Path returns the backing file.
func (s *SavedStore) Path() string {
	return s.path
}

// Save stores e under a new id and returns the stored copy.
func (s *SavedStore) Save(e SavedExcuse) (SavedExcuse, error) {
	if strings.TrimSpace(e.Text) == "" {
		return SavedExcuse{}, apperr.New(apperr.KindInvalidInput, "Excuse text is required.")
	}
	e.ID = uuid.New().String()
	e.SavedAt = s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.SavedAt
	}

	err := s.update(func(all map[string]SavedExcuse) error {
		all[e.ID] = e
		return nil
	})
	if err != nil {
		return SavedExcuse{}, err
	}
	return e, nil
}

// Delete removes the saved excuse with the given id.
func (s *SavedStore) Delete(id string) error {
	return s.update(func(all map[string]SavedExcuse) error {
		if _, ok := all[id]; !ok {
			return apperr.New(apperr.KindNotFound, "Saved excuse %s not found.", id)
		}
		delete(all, id)
		return nil
	})
}

// Get returns one saved excuse.
func (s *SavedStore) Get(id string) (SavedExcuse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return SavedExcuse{}, err
	}
	e, ok := all[id]
	if !ok {
		return SavedExcuse{}, apperr.New(apperr.KindNotFound, "Saved excuse %s not found.", id)
	}
	return e, nil
}

// List returns all saved excuses, most recently saved first.
func (s *SavedStore) List() ([]SavedExcuse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]SavedExcuse, 0, len(all))
	for _, e := range all {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b SavedExcuse) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *SavedStore) update(fn func(map[string]SavedExcuse) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fsx.WithLock(s.path, func() error {
		all, err := s.load()
		if err != nil {
			return err
		}
		if err := fn(all); err != nil {
			return err
		}
		data, err := json.MarshalIndent(all, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding saved excuses: %w", err)
		}
		if err := fsx.WriteFileAtomic(s.path, append(data, '\n'), 0o600); err != nil {
			return fmt.Errorf("writing saved excuses: %w", err)
		}
		return nil
	})
}

func (s *SavedStore) load() (map[string]SavedExcuse, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]SavedExcuse), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading saved excuses: %w", err)
	}
	all := make(map[string]SavedExcuse)
	if len(strings.TrimSpace(string(data))) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	// A literal null decodes to a nil map.
	if all == nil {
		all = make(map[string]SavedExcuse)
	}
	return all, nil
}
