package mentalstate

import "time"

// Hourly circadian baselines on the 0-10 scale. Energy climbs to a late-
// morning peak at 11:00 and dips after lunch (13:00-15:00); stress builds
// through the workday and peaks at 15:00.
var (
	energyBase = [24]float64{
		2.5, 2.2, 2.0, 2.0, 2.2, 3.0,
		4.0, 5.0, 6.0, 6.8, 7.2, 7.5,
		6.8, 5.8, 5.5, 5.6, 6.2, 6.5,
		6.3, 6.0, 5.5, 4.8, 4.0, 3.2,
	}
	stressBase = [24]float64{
		2.0, 1.8, 1.6, 1.5, 1.6, 2.0,
		2.8, 3.5, 4.2, 4.8, 5.2, 5.5,
		5.0, 5.4, 6.0, 6.5, 6.2, 5.6,
		4.8, 4.2, 3.8, 3.4, 3.0, 2.4,
	}
)

// Weekend scaling: less ambient stress, a little more energy.
const (
	weekendStressFactor = 0.7
	weekendEnergyFactor = 1.1
)

// baselineAt returns the circadian (energy, stress) baseline for a local
// time.
func baselineAt(t time.Time) (energy, stress float64) {
	hour := t.Hour()
	energy = energyBase[hour]
	stress = stressBase[hour]
	if isWeekend(t) {
		energy *= weekendEnergyFactor
		stress *= weekendStressFactor
	}
	return energy, stress
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
