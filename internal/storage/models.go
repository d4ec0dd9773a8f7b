package storage

import (
	"errors"

	"github.com/kalambet/alibi/internal/excuse"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// HistoryRecord is an archived excuse with feedback tallied from the
// feedback table. Feedback counters on the embedded Excuse are filled from
// those tallies.
type HistoryRecord struct {
	excuse.Excuse
	Effectiveness float64 `json:"effectiveness"`
}
