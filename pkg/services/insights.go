package services

import (
	"context"
	"fmt"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/mentalstate"
)

// StateComputer derives the mental-state snapshot. Satisfied by
// mentalstate.Calculator.
type StateComputer interface {
	Compute(ctx context.Context, username string, now time.Time, loc *time.Location) (*mentalstate.Snapshot, error)
}

// InsightsService serves the mental-state read path.
type InsightsService struct {
	calc StateComputer
	kv   ContextStore
	now  func() time.Time
}

// NewInsightsService creates the service. kv may be nil, which pins the
// timezone fallback to UTC.
func NewInsightsService(calc StateComputer, kv ContextStore) *InsightsService {
	if calc == nil {
		panic("services.NewInsightsService: calculator must not be nil")
	}
	return &InsightsService{calc: calc, kv: kv, now: time.Now}
}

// MentalState computes the full snapshot. An empty date means "now"; a past
// date anchors the computation to the end of that local day so the 24-hour
// timeline covers it.
func (s *InsightsService) MentalState(ctx context.Context, username, date, tz string) (*mentalstate.Snapshot, error) {
	loc, err := resolveLocation(ctx, s.kv, username, tz)
	if err != nil {
		return nil, err
	}

	at := s.now().In(loc)
	if date != "" {
		day, err := parseDate(date, loc)
		if err != nil {
			return nil, err
		}
		// Same local day: keep "now" so no sample lands in the future.
		if day.Year() != at.Year() || day.YearDay() != at.YearDay() {
			at = day.Add(24*time.Hour - time.Second)
		}
	}

	snap, err := s.calc.Compute(ctx, username, at, loc)
	if err != nil {
		return nil, fmt.Errorf("compute mental state: %w", err)
	}
	return snap, nil
}
