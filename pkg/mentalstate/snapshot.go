package mentalstate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// Timeline cadence: the last 24 hours at 30-minute steps (exactly 48
// samples, none in the future) plus seven days hourly.
const (
	dailySamples   = 48
	dailyStep      = 30 * time.Minute
	weeklyDays     = 7
	weeklyStep     = time.Hour
	weeklySamples  = weeklyDays * 24
)

// DailyStats summarizes the last 24 hours of the timeline. Optimal is
// energy>7 with stress<3; burnout is energy<3 with stress>7.
type DailyStats struct {
	AvgEnergy           float64   `json:"avg_energy"`
	AvgStress           float64   `json:"avg_stress"`
	PeakEnergyTime      time.Time `json:"peak_energy_time"`
	PeakStressTime      time.Time `json:"peak_stress_time"`
	OptimalStateMinutes int       `json:"optimal_state_minutes"`
	BurnoutRiskMinutes  int       `json:"burnout_risk_minutes"`
	RecoveryPeriods     int       `json:"recovery_periods"`
}

// Patterns flags recurring daily shapes worth surfacing.
type Patterns struct {
	AfternoonDip  bool `json:"afternoon_dip"`
	MorningStress bool `json:"morning_stress"`
}

// Risk aggregates the intervention signals as sample counts over the daily
// timeline, each graded low, medium, or high.
type Risk struct {
	BurnoutSamples    int    `json:"burnout_samples"`
	BurnoutLevel      string `json:"burnout_level"`
	HighStressSamples int    `json:"high_stress_samples"`
	HighStressLevel   string `json:"high_stress_level"`
	LowEnergySamples  int    `json:"low_energy_samples"`
	LowEnergyLevel    string `json:"low_energy_level"`
	NeedsIntervention bool   `json:"needs_intervention"`
}

// Snapshot is the full derived mental-state view for one user.
type Snapshot struct {
	Current         Sample   `json:"current"`
	Timeline        []Sample `json:"timeline"`
	Weekly          []Sample `json:"weekly"`
	Stats           DailyStats `json:"daily_stats"`
	Patterns        Patterns `json:"patterns"`
	Recommendations []string `json:"recommendations"`
	Risk            Risk     `json:"risk"`
}

// Compute derives the full snapshot for a user at now, with baselines and
// bucketing in loc. The current sample is persisted so future computations
// can personal-adjust against it.
func (c *Calculator) Compute(ctx context.Context, username string, now time.Time, loc *time.Location) (*Snapshot, error) {
	now = now.In(loc)
	// Pad both ends so the oldest weekly sample and near-future anticipation
	// both see their full event window.
	from := now.Add(-weeklyDays*24*time.Hour - eventWindow)
	events, err := c.events.ListByRange(ctx, username, from, now.Add(eventWindow))
	if err != nil {
		return nil, err
	}

	var history []*models.MentalStateScore
	if c.scores != nil {
		history, err = c.scores.Since(ctx, username, now.Add(-personalLookback))
		if err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{Current: c.At(now, events, history)}

	// 48 half-hour samples ending at now; nothing in the future.
	snap.Timeline = make([]Sample, 0, dailySamples)
	for i := dailySamples - 1; i >= 0; i-- {
		t := now.Add(-time.Duration(i) * dailyStep)
		snap.Timeline = append(snap.Timeline, c.At(t, events, history))
	}

	snap.Weekly = make([]Sample, 0, weeklySamples)
	for i := weeklySamples - 1; i >= 0; i-- {
		t := now.Add(-time.Duration(i) * weeklyStep)
		snap.Weekly = append(snap.Weekly, c.At(t, events, history))
	}

	snap.Stats = dailyStats(snap.Timeline)
	snap.Patterns = detectPatterns(snap.Timeline)
	snap.Risk = assessRisk(snap.Timeline)
	snap.Recommendations = recommend(snap.Current, snap.Timeline, snap.Patterns)

	if c.scores != nil {
		score := &models.MentalStateScore{
			ID:         uuid.New().String(),
			Username:   username,
			Timestamp:  now.UTC(),
			Energy:     snap.Current.Energy,
			Stress:     snap.Current.Stress,
			Confidence: snap.Current.Confidence,
			DataSource: snap.Current.Source,
			EventID:    snap.Current.EventID,
		}
		if err := c.scores.Insert(ctx, score); err != nil {
			// The snapshot is still good; history just misses one point.
			c.logger.Warn("persist mental-state sample failed", "username", username, "error", err)
		}
	}
	return snap, nil
}

func dailyStats(timeline []Sample) DailyStats {
	var stats DailyStats
	if len(timeline) == 0 {
		return stats
	}
	var sumEnergy, sumStress, peakEnergy, peakStress float64
	var prevStress float64
	for i, s := range timeline {
		sumEnergy += s.Energy
		sumStress += s.Stress
		if s.Energy > peakEnergy {
			peakEnergy = s.Energy
			stats.PeakEnergyTime = s.Timestamp
		}
		if s.Stress > peakStress {
			peakStress = s.Stress
			stats.PeakStressTime = s.Timestamp
		}
		if s.Energy > 7 && s.Stress < 3 {
			stats.OptimalStateMinutes += int(dailyStep.Minutes())
		}
		if s.Energy < 3 && s.Stress > 7 {
			stats.BurnoutRiskMinutes += int(dailyStep.Minutes())
		}
		if i > 0 && prevStress-s.Stress >= 2 {
			stats.RecoveryPeriods++
		}
		prevStress = s.Stress
	}
	stats.AvgEnergy = sumEnergy / float64(len(timeline))
	stats.AvgStress = sumStress / float64(len(timeline))
	return stats
}

func detectPatterns(timeline []Sample) Patterns {
	var p Patterns
	afternoonEnergy := meanOverHours(timeline, 13, 15, func(s Sample) float64 { return s.Energy })
	if afternoonEnergy > 0 && afternoonEnergy < 5 {
		p.AfternoonDip = true
	}
	morningStress := meanOverHours(timeline, 7, 10, func(s Sample) float64 { return s.Stress })
	if morningStress > 6 {
		p.MorningStress = true
	}
	return p
}

// meanOverHours averages a metric over samples whose local hour falls in
// [fromHour, toHour]. Returns 0 when no samples match.
func meanOverHours(timeline []Sample, fromHour, toHour int, metric func(Sample) float64) float64 {
	var sum float64
	var n int
	for _, s := range timeline {
		h := s.Timestamp.Hour()
		if h >= fromHour && h <= toHour {
			sum += metric(s)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func assessRisk(timeline []Sample) Risk {
	var risk Risk
	for _, s := range timeline {
		if s.Energy < 3 && s.Stress > 7 {
			risk.BurnoutSamples++
		}
		if s.Stress > 7 {
			risk.HighStressSamples++
		}
		if s.Energy < 3 {
			risk.LowEnergySamples++
		}
	}
	risk.BurnoutLevel = riskLevel(risk.BurnoutSamples, 2, 4)
	risk.HighStressLevel = riskLevel(risk.HighStressSamples, 8, 15)
	risk.LowEnergyLevel = riskLevel(risk.LowEnergySamples, 8, 15)
	risk.NeedsIntervention = risk.BurnoutSamples > 4 || risk.HighStressSamples > 15
	return risk
}

// riskLevel grades a sample count: low up to medium, medium up to high,
// high beyond.
func riskLevel(count, medium, high int) string {
	switch {
	case count > high:
		return "high"
	case count > medium:
		return "medium"
	default:
		return "low"
	}
}

func recommend(current Sample, timeline []Sample, p Patterns) []string {
	var recs []string
	switch {
	case current.Energy < 3 && current.Stress > 7:
		recs = append(recs, "You are running on empty under high stress. Take an urgent break; nothing on the list matters more right now.")
	case current.Stress > 7:
		recs = append(recs, "Stress is peaking. A few minutes of slow breathing brings it down faster than pushing through.")
	case current.Energy < 3:
		recs = append(recs, "Energy is very low. A short rest, a snack, or a walk outside would help more than caffeine.")
	}
	if sustainedStress(timeline) {
		recs = append(recs, "Stress has held high for a while now. Schedule deliberate recovery time before taking on anything new.")
	}
	if p.MorningStress {
		recs = append(recs, "Mornings are running stressful. Try starting the day with a slower routine before the first obligation.")
	}
	if p.AfternoonDip {
		recs = append(recs, "Energy dips hard in the early afternoon. A short walk or daylight break around lunch usually softens it.")
	}
	if len(recs) > 3 {
		recs = recs[:3]
	}
	return recs
}

// sustainedStress reports whether the last three samples all sit above 6.
func sustainedStress(timeline []Sample) bool {
	if len(timeline) < 3 {
		return false
	}
	for _, s := range timeline[len(timeline)-3:] {
		if s.Stress <= 6 {
			return false
		}
	}
	return true
}
