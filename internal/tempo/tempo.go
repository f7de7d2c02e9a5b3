// Package tempo estimates the tempo of an audio stream.
package tempo

import (
	"fmt"
	"math"
)

// Tempo is a single tempo estimate.
type Tempo struct {
	// BPM is the estimated tempo in beats per minute.
	BPM float64 `json:"bpm"`
	// Count is the number of peak intervals that voted for this tempo.
	Count int `json:"count"`
	// Confidence is Count relative to all votes, in (0, 1].
	Confidence float64 `json:"confidence"`
}

func (t Tempo) String() string {
	return fmt.Sprintf("%.2f bpm (%d votes)", t.BPM, t.Count)
}

// Valid reports whether the tempo can drive a pulse: it must be finite and
// positive.
func (t Tempo) Valid() bool {
	return t.BPM > 0 && !math.IsInf(t.BPM, 0) && !math.IsNaN(t.BPM)
}

// Estimator is the capability that turns sample buffers into tempo
// estimates. Implementations are interchangeable; the daemon only relies on
// this interface.
type Estimator interface {
	// Ingest consumes one fixed-size mono sample buffer. Callbacks may be
	// invoked synchronously from within Ingest.
	Ingest(buf []float64)
	// OnEstimate sets the callback receiving estimates at a fixed cadence.
	// The list is empty while no tempo is known yet, otherwise it is ordered
	// most confident first.
	OnEstimate(f func([]Tempo))
	// OnStabilized sets the callback invoked when the leading estimate has
	// settled. The argument is the peak threshold the estimate was found at.
	OnStabilized(f func(threshold float64))
	// ClearHistory drops the recorded peaks for every threshold at or below
	// the given one.
	ClearHistory(threshold float64)
}
