// Package store keeps process-lifetime excuse state: the registry of
// generated excuses with their insights aggregate, and the flat-file
// collection of excuses users chose to keep.
package store

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/excuse"
)

const (
	topN = 5

	// minExcusesForPrediction is the number of excuses that must be exceeded
	// before a busiest hour is reported.
	minExcusesForPrediction = 5

	noPrediction = "Not enough excuses yet to predict your busiest hour."
)

type textStats struct {
	effective    int
	total        int
	lastFeedback time.Time
}

// Store is the in-memory excuse registry. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	excuses   map[string]excuse.Excuse
	scenarios map[string]int
	daily     map[string]int
	hours     [24]int
	texts     map[string]*textStats
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		excuses:   make(map[string]excuse.Excuse),
		scenarios: make(map[string]int),
		daily:     make(map[string]int),
		texts:     make(map[string]*textStats),
	}
}

// Record adds a freshly generated excuse and counts it. Recording an id
// twice replaces the excuse without counting it again.
func (s *Store) Record(e excuse.Excuse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.excuses[e.ID]; ok {
		s.excuses[e.ID] = e
		return
	}
	s.excuses[e.ID] = e
	s.scenarios[e.Scenario]++
	s.daily[e.CreatedAt.Format(time.DateOnly)]++
	s.hours[e.CreatedAt.Hour()]++
}

// Get returns the excuse with the given id.
func (s *Store) Get(id string) (excuse.Excuse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.excuses[id]
	if !ok {
		return excuse.Excuse{}, apperr.New(apperr.KindNotFound, "Excuse %s not found.", id)
	}
	return e, nil
}

// Len returns the number of recorded excuses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.excuses)
}

// Feedback tallies one effectiveness vote for the excuse. Unknown ids leave
// the store untouched.
func (s *Store) Feedback(id string, effective bool, at time.Time) (excuse.Excuse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.excuses[id]
	if !ok {
		return excuse.Excuse{}, apperr.New(apperr.KindNotFound, "Excuse %s not found.", id)
	}

	e.FeedbackCount++
	if effective {
		e.EffectiveCount++
	}
	s.excuses[id] = e

	st := s.texts[e.Text]
	if st == nil {
		st = &textStats{}
		s.texts[e.Text] = st
	}
	st.total++
	if effective {
		st.effective++
	}
	if at.After(st.lastFeedback) {
		st.lastFeedback = at
	}
	return e, nil
}

// ExcuseStat is the effectiveness of one distinct excuse text.
type ExcuseStat struct {
	Text           string    `json:"text"`
	Effectiveness  float64   `json:"effectiveness"`
	EffectiveCount int       `json:"effective_count"`
	FeedbackCount  int       `json:"feedback_count"`
	LastFeedback   time.Time `json:"last_feedback"`
}

type ScenarioCount struct {
	Scenario string `json:"scenario"`
	Count    int    `json:"count"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Insights is a read-only snapshot of the aggregate.
type Insights struct {
	TotalExcuses int             `json:"total_excuses"`
	TopExcuses   []ExcuseStat    `json:"top_excuses"`
	TopScenarios []ScenarioCount `json:"top_scenarios"`
	DailyCounts  []DailyCount    `json:"daily_counts"`
	BusiestHour  *int            `json:"busiest_hour,omitempty"`
	Prediction   string          `json:"prediction"`
}

// Insights computes the current aggregate.
//
// Excuses rank by effectiveness ratio; ties go to the text with more
// feedback, then the most recent feedback, then text order. Scenarios rank
// by count with ties in name order. The busiest hour is the most common
// creation hour, earliest on ties.
func (s *Store) Insights() Insights {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Insights{
		TotalExcuses: len(s.excuses),
		TopExcuses:   []ExcuseStat{},
		TopScenarios: []ScenarioCount{},
		DailyCounts:  []DailyCount{},
		Prediction:   noPrediction,
	}

	for text, st := range s.texts {
		out.TopExcuses = append(out.TopExcuses, ExcuseStat{
			Text:           text,
			Effectiveness:  float64(st.effective) / float64(st.total),
			EffectiveCount: st.effective,
			FeedbackCount:  st.total,
			LastFeedback:   st.lastFeedback,
		})
	}
	slices.SortFunc(out.TopExcuses, func(a, b ExcuseStat) int {
		if c := cmp.Compare(b.Effectiveness, a.Effectiveness); c != 0 {
			return c
		}
		if c := cmp.Compare(b.FeedbackCount, a.FeedbackCount); c != 0 {
			return c
		}
		if c := b.LastFeedback.Compare(a.LastFeedback); c != 0 {
			return c
		}
		return cmp.Compare(a.Text, b.Text)
	})
	if len(out.TopExcuses) > topN {
		out.TopExcuses = out.TopExcuses[:topN]
	}

	for name, n := range s.scenarios {
		out.TopScenarios = append(out.TopScenarios, ScenarioCount{Scenario: name, Count: n})
	}
	slices.SortFunc(out.TopScenarios, func(a, b ScenarioCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Scenario, b.Scenario)
	})
	if len(out.TopScenarios) > topN {
		out.TopScenarios = out.TopScenarios[:topN]
	}

	for day, n := range s.daily {
		out.DailyCounts = append(out.DailyCounts, DailyCount{Date: day, Count: n})
	}
	slices.SortFunc(out.DailyCounts, func(a, b DailyCount) int {
		return cmp.Compare(a.Date, b.Date)
	})

	if len(s.excuses) > minExcusesForPrediction {
		hour := 0
		for h := 1; h < len(s.hours); h++ {
			if s.hours[h] > s.hours[hour] {
				hour = h
			}
		}
		out.BusiestHour = &hour
		out.Prediction = fmt.Sprintf("You usually need an excuse around %02d:00.", hour)
	}
	return out
}
