package estimators

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dbourene/kinjo-production/internal/production"
)

// DefaultYieldKWhPerKWc is the mean French specific yield used by the simulation.
const DefaultYieldKWhPerKWc = 1100.0

// SimulationEstimator fabricates a plausible hourly series without calling
// any service. It is only used when explicitly selected by configuration.
type SimulationEstimator struct {
	yield float64
	year  int
}

// NewSimulationEstimator creates a SimulationEstimator. yield is the annual
// specific yield in kWh/kWc at the default losses.
func NewSimulationEstimator(yield float64, year int) *SimulationEstimator {
	if yield <= 0 {
		yield = DefaultYieldKWhPerKWc
	}
	if year == 0 {
		year = 2024
	}
	return &SimulationEstimator{yield: yield, year: year}
}

func (s *SimulationEstimator) Name() string {
	return "simulation"
}

// Estimate spreads capacity*yield over the year using a bell-shaped day
// profile centred on solar noon (shifted by azimuth, 45° per hour) whose
// amplitude and width follow the season.
func (s *SimulationEstimator) Estimate(ctx context.Context, site production.Site, cfg production.SystemConfig) (production.HourlySeries, error) {
	if err := ctx.Err(); err != nil {
		return production.HourlySeries{}, err
	}
	if site.CapacityKWc <= 0 {
		return production.HourlySeries{}, fmt.Errorf("%w: capacity must be positive", production.ErrInvalidInstallation)
	}

	hours := production.HoursInYear(s.year)
	start := time.Date(s.year, time.January, 1, 0, 0, 0, 0, time.UTC)
	peak := 12.0 + (cfg.Azimuth-180.0)/45.0

	weights := make([]float64, hours)
	var total float64
	for i := 0; i < hours; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		// 1 at the summer solstice, 0 at the winter one.
		season := (1 + math.Cos(2*math.Pi*float64(ts.YearDay()-172)/365.0)) / 2
		halfDay := 4.0 + 4.0*season
		dist := float64(ts.Hour()) + 0.5 - peak
		if math.Abs(dist) >= halfDay {
			continue
		}
		w := (0.35 + 0.65*season) * math.Cos(math.Pi/2*dist/halfDay)
		weights[i] = w
		total += w
	}

	lossFactor := (100 - cfg.Losses) / (100 - production.DefaultLosses)
	annualWh := site.CapacityKWc * s.yield * 1000 * lossFactor
	for i := range weights {
		weights[i] = weights[i] / total * annualWh
	}

	return production.HourlySeries{
		Year:      s.year,
		ACWh:      weights,
		Source:    "Simulation",
		Simulated: true,
	}, nil
}
