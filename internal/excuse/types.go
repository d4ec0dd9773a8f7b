// Package excuse holds the excuse domain: scenarios, generation requests and
// the service that turns a request into provider-generated text.
package excuse

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scenarios the generator accepts.
const (
	ScenarioLateForWork       = "late for work"
	ScenarioMissedClass       = "missed class"
	ScenarioForgotAnniversary = "forgot anniversary"
	ScenarioMissedDeadline    = "missed deadline"
	ScenarioDidntTextBack     = "didn't text back"
)

var scenarios = []string{
	ScenarioLateForWork,
	ScenarioMissedClass,
	ScenarioForgotAnniversary,
	ScenarioMissedDeadline,
	ScenarioDidntTextBack,
}

// Scenarios returns the supported scenarios in display order.
func Scenarios() []string {
	return append([]string(nil), scenarios...)
}

// IsScenario reports whether s is a supported scenario. Underscores are
// accepted in place of spaces.
func IsScenario(s string) bool {
	s = NormalizeScenario(s)
	for _, v := range scenarios {
		if v == s {
			return true
		}
	}
	return false
}

// NormalizeScenario lower-cases s and maps "late_for_work" style keys to
// their spaced form.
func NormalizeScenario(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
}

// Believability is a 1-10 score. It decodes from a JSON number or a numeric
// string, since form-driven clients send "7".
type Believability int

func (b *Believability) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*b = Believability(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("believability must be a number: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*b = 0
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("believability must be a number: %w", err)
	}
	*b = Believability(n)
	return nil
}

// Request describes the excuse to generate.
type Request struct {
	Scenario      string        `json:"scenario"`
	UserRole      string        `json:"user_role"`
	Recipient     string        `json:"recipient"`
	Urgency       string        `json:"urgency"`
	Believability Believability `json:"believability"`
	Language      string        `json:"language"`
}

// Excuse is a generated excuse plus the request that produced it.
type Excuse struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Scenario       string    `json:"scenario"`
	UserRole       string    `json:"user_role"`
	Recipient      string    `json:"recipient"`
	Urgency        string    `json:"urgency"`
	Believability  int       `json:"believability"`
	Language       string    `json:"language"`
	CreatedAt      time.Time `json:"created_at"`
	EffectiveCount int       `json:"effective_count"`
	FeedbackCount  int       `json:"feedback_count"`
}

// EffectivenessRatio is effective feedback over total feedback, or 0 when
// no feedback was submitted.
func (e Excuse) EffectivenessRatio() float64 {
	if e.FeedbackCount == 0 {
		return 0
	}
	return float64(e.EffectiveCount) / float64(e.FeedbackCount)
}
