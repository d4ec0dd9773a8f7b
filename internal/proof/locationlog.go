package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kalambet/alibi/internal/excuse"
)

const (
	baseLatitude  = 37.7749
	baseLongitude = -122.4194
	maxOffsetDeg  = 0.005
	minAccuracyM  = 5.0
	maxAccuracyM  = 50.0

	defaultEvent = "location_update"
)

type locationEvent struct {
	event string
	note  string
}

var locationEvents = map[string]locationEvent{
	excuse.ScenarioLateForWork:       {"traffic_delay", "Stationary for 25 minutes on the usual route to work."},
	excuse.ScenarioMissedClass:       {"clinic_visit", "Visited a walk-in clinic during class hours."},
	excuse.ScenarioForgotAnniversary: {"work_site", "Stayed at the office late to finish an urgent task."},
	excuse.ScenarioMissedDeadline:    {"power_outage_area", "Device offline in an area reporting a power outage."},
	excuse.ScenarioDidntTextBack:     {"no_signal_zone", "Phone had no cellular signal for several hours."},
}

// LocationLog is the document a location-log artifact holds.
type LocationLog struct {
	ExcuseID  string  `json:"excuse_id,omitempty"`
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AccuracyM float64 `json:"accuracy_m"`
	Event     string  `json:"event"`
	Place     string  `json:"place"`
	Note      string  `json:"note"`
	Source    string  `json:"source"`
}

// LocationLogRenderer writes a synthetic GPS fix near a fixed base point.
type LocationLogRenderer struct {
	dir    string
	now    func() time.Time
	random func() float64
}

func NewLocationLogRenderer(dir string) *LocationLogRenderer {
	return &LocationLogRenderer{dir: dir, now: time.Now, random: rand.Float64}
}

func (r *LocationLogRenderer) Render(_ context.Context, req Request) (string, error) {
	data, err := json.MarshalIndent(r.build(req), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding location log: %w", err)
	}
	path := newArtifactPath(r.dir, KindLocationLog)
	if err := writeArtifact(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

func (r *LocationLogRenderer) build(req Request) LocationLog {
	scenario := req.scenario()
	ev, ok := locationEvents[excuse.NormalizeScenario(scenario)]
	if !ok {
		ev = locationEvent{defaultEvent, fmt.Sprintf("Location recorded in connection with %s.", excuse.NormalizeScenario(scenario))}
	}
	return LocationLog{
		ExcuseID:  req.ExcuseID,
		Timestamp: r.now().Format(time.RFC3339),
		Latitude:  round(baseLatitude+r.offset(), 6),
		Longitude: round(baseLongitude+r.offset(), 6),
		AccuracyM: round(minAccuracyM+r.random()*(maxAccuracyM-minAccuracyM), 1),
		Event:     ev.event,
		Place:     "Related to " + excuse.Title(scenario),
		Note:      ev.note,
		Source:    "gps",
	}
}

// offset returns a value in [-maxOffsetDeg, maxOffsetDeg).
func (r *LocationLogRenderer) offset() float64 {
	return (r.random()*2 - 1) * maxOffsetDeg
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
