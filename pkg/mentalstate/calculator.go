// Package mentalstate derives energy and stress timelines from the event
// record. Nothing here is measured; every sample is an estimate layered from
// a circadian baseline, the user's own history, and event influence, with a
// confidence that says which layers contributed.
package mentalstate

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// EventSource reads events for a window. Satisfied by the event repository.
type EventSource interface {
	ListByRange(ctx context.Context, username string, from, to time.Time) ([]*models.Event, error)
}

// ScoreStore persists samples and feeds the personal-adjustment lookup.
type ScoreStore interface {
	Insert(ctx context.Context, s *models.MentalStateScore) error
	Since(ctx context.Context, username string, cutoff time.Time) ([]*models.MentalStateScore, error)
}

// Tuning constants for the layered estimate.
const (
	// Event deltas are measured against the scale midpoints.
	energyMidpoint = 5.5
	stressMidpoint = 5.0

	// Lingering influence decays exponentially with hours since the event
	// ended; stress lingers harder than energy.
	decayRate        = 0.5
	stressLingerBias = 1.3

	// Events are loaded for a window around the target moment; anything
	// outside it contributes nothing measurable.
	eventWindow = 6 * time.Hour

	// Anticipation applies up to an hour before an event starts.
	anticipationWindow = time.Hour
	workStressBump     = 0.5
	socialEnergyBump   = 0.3
	tenseStressBump    = 0.4

	// Personal adjustment pulls the baseline toward the user's own history:
	// same day-type samples at hour plus or minus one over 30 days, at least
	// three of them.
	personalWeight     = 0.3
	personalMinSamples = 3
	personalLookback   = 30 * 24 * time.Hour

	// Confidence ladder, keyed on distance to the nearest event.
	confidenceInEvent   = 0.95
	confidenceHalfHour  = 0.85
	confidenceTwoHours  = 0.70
	confidenceFourHours = 0.50
	confidenceBaseline  = 0.30
)

// Sample is one point of the derived timeline.
type Sample struct {
	Timestamp  time.Time         `json:"timestamp"`
	Energy     float64           `json:"energy_score"`
	Stress     float64           `json:"stress_score"`
	Confidence float64           `json:"confidence"`
	Source     models.DataSource `json:"data_source"`
	EventID    *string           `json:"event_id,omitempty"`
}

// Calculator derives mental-state timelines.
type Calculator struct {
	events EventSource
	scores ScoreStore
	logger *slog.Logger
}

// NewCalculator creates a calculator. scores may be nil, which disables the
// personal adjustment and persistence.
func NewCalculator(events EventSource, scores ScoreStore, logger *slog.Logger) *Calculator {
	if events == nil {
		panic("mentalstate: event source must not be nil")
	}
	return &Calculator{events: events, scores: scores, logger: logger.With("component", "mentalstate")}
}

// At computes one sample for a moment, using the provided events and
// history. t carries the user's location; baselines follow its wall clock.
func (c *Calculator) At(t time.Time, events []*models.Event, history []*models.MentalStateScore) Sample {
	energy, stress := baselineAt(t)
	energy, stress = c.personalAdjust(t, energy, stress, history)

	sample := Sample{
		Timestamp: t,
		Source:    models.SourceBaseline,
	}

	// Deltas from every event overlapping the window sum.
	var contributed bool
	for _, e := range events {
		if e.EndTimestamp.Before(t.Add(-eventWindow)) || e.StartTimestamp.After(t.Add(eventWindow)) {
			continue
		}
		switch {
		case !t.Before(e.StartTimestamp) && !t.After(e.EndTimestamp):
			energy += float64(e.EnergyLevel) - energyMidpoint
			stress += float64(e.StressLevel) - stressMidpoint
			contributed = true
			if sample.EventID == nil {
				sample.Source = models.SourceEvent
				id := e.ID
				sample.EventID = &id
			}
		case e.EndTimestamp.Before(t):
			decay := math.Exp(-decayRate * t.Sub(e.EndTimestamp).Hours())
			energy += (float64(e.EnergyLevel) - energyMidpoint) * decay
			stress += (float64(e.StressLevel) - stressMidpoint) * decay * stressLingerBias
			contributed = true
		default:
			if e.StartTimestamp.Sub(t) > anticipationWindow {
				continue
			}
			switch e.ActivityType {
			case models.ActivityWork:
				stress += workStressBump
				contributed = true
			case models.ActivitySocial:
				energy += socialEnergyBump
				contributed = true
			}
			if hasMood(e, "tense") {
				stress += tenseStressBump
				contributed = true
			}
		}
	}
	if sample.Source != models.SourceEvent && contributed {
		sample.Source = models.SourceInterpolated
	}
	sample.Confidence = confidenceAt(t, events)

	// High stress drains energy; running on empty reads as stress. The two
	// extremes then reinforce themselves: an optimal state compounds, a
	// depleted-and-stressed one spirals.
	if stress > 7 {
		energy -= 0.3 * (stress - 7)
	}
	if energy < 3 {
		stress += 0.2 * (3 - energy)
	}
	if energy > 7 && stress < 3 {
		energy *= 1.1
		stress *= 0.9
	}
	if energy < 3 && stress > 7 {
		energy *= 0.9
		stress *= 1.1
	}

	sample.Energy = clamp(energy)
	sample.Stress = clamp(stress)
	return sample
}

// confidenceAt grades the estimate by how close t sits to the nearest event.
func confidenceAt(t time.Time, events []*models.Event) float64 {
	nearest := time.Duration(math.MaxInt64)
	for _, e := range events {
		switch {
		case !t.Before(e.StartTimestamp) && !t.After(e.EndTimestamp):
			return confidenceInEvent
		case e.EndTimestamp.Before(t):
			if d := t.Sub(e.EndTimestamp); d < nearest {
				nearest = d
			}
		default:
			if d := e.StartTimestamp.Sub(t); d < nearest {
				nearest = d
			}
		}
	}
	switch {
	case nearest <= 30*time.Minute:
		return confidenceHalfHour
	case nearest <= 2*time.Hour:
		return confidenceTwoHours
	case nearest <= 4*time.Hour:
		return confidenceFourHours
	default:
		return confidenceBaseline
	}
}

// personalAdjust pulls the baseline toward the user's own persisted samples
// at the same hour (plus or minus one) and day-type over the last 30 days.
func (c *Calculator) personalAdjust(t time.Time, energy, stress float64, history []*models.MentalStateScore) (float64, float64) {
	if len(history) == 0 {
		return energy, stress
	}
	var (
		sumEnergy, sumStress float64
		n                    int
	)
	weekend := isWeekend(t)
	for _, s := range history {
		local := s.Timestamp.In(t.Location())
		if isWeekend(local) != weekend {
			continue
		}
		if hourDistance(local.Hour(), t.Hour()) > 1 {
			continue
		}
		sumEnergy += s.Energy
		sumStress += s.Stress
		n++
	}
	if n < personalMinSamples {
		return energy, stress
	}
	energy += personalWeight * (sumEnergy/float64(n) - energy)
	stress += personalWeight * (sumStress/float64(n) - stress)
	return energy, stress
}

func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}

func hasMood(e *models.Event, label string) bool {
	for _, m := range e.MoodLabels {
		if m == label {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
