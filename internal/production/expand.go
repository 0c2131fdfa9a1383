package production

import (
	"math"
	"time"
)

const quarter = 15 * time.Minute

// ExpandHourly splits every hourly sample (Wh) into four 15-minute rows of
// equal energy, starting at start. Row values are rounded to 2 decimals and
// rows are returned in ascending time order; len(result) == 4*len(acWh).
func ExpandHourly(acWh []float64, start time.Time, installationID string) []QuarterHourRow {
	rows := make([]QuarterHourRow, 0, len(acWh)*QuartersPerHour)
	for i, v := range acWh {
		hour := start.Add(time.Duration(i) * time.Hour)
		q := Round2(v / QuartersPerHour)
		for k := 0; k < QuartersPerHour; k++ {
			rows = append(rows, QuarterHourRow{
				Timestamp:      hour.Add(time.Duration(k) * quarter),
				ValueWh:        q,
				IntervalLength: IntervalLength,
				InstallationID: installationID,
			})
		}
	}
	return rows
}

// TotalKWh sums row energies and converts to kWh rounded to 2 decimals.
func TotalKWh(rows []QuarterHourRow) float64 {
	var sum float64
	for _, r := range rows {
		sum += r.ValueWh
	}
	return Round2(sum / 1000)
}

// HoursInYear returns 8760, or 8784 for leap years.
func HoursInYear(year int) int {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(start.AddDate(1, 0, 0).Sub(start).Hours())
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
