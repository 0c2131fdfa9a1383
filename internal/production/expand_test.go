package production

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHourlySingleSample(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows := ExpandHourly([]float64{1000}, start, "inst-1")

	require.Len(t, rows, 4)
	for k, r := range rows {
		assert.Equal(t, start.Add(time.Duration(k)*15*time.Minute), r.Timestamp)
		assert.Equal(t, 250.0, r.ValueWh)
		assert.Equal(t, "15min", r.IntervalLength)
		assert.Equal(t, "inst-1", r.InstallationID)
	}
	assert.Equal(t, "00:45:00", rows[3].Time())
	assert.Equal(t, "2024-01-01", rows[3].Date())
	assert.Equal(t, 1.0, TotalKWh(rows))
}

func TestExpandHourlyOrderingAndLength(t *testing.T) {
	start := time.Date(2023, time.December, 31, 22, 0, 0, 0, time.UTC)
	rows := ExpandHourly([]float64{0, 400, 10}, start, "x")

	require.Len(t, rows, 12)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Timestamp.After(rows[i-1].Timestamp))
	}
	assert.Equal(t, "2024-01-01", rows[8].Date())
	assert.Equal(t, "00:00:00", rows[8].Time())
	assert.Equal(t, 0.0, rows[0].ValueWh)
	assert.Equal(t, 100.0, rows[4].ValueWh)
	assert.Equal(t, 2.5, rows[11].ValueWh)
}

func TestExpandHourlyRoundsQuarters(t *testing.T) {
	rows := ExpandHourly([]float64{1.01}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "x")
	assert.Equal(t, 0.25, rows[0].ValueWh)

	rows = ExpandHourly([]float64{333.333}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "x")
	assert.Equal(t, 83.33, rows[0].ValueWh)
}

func TestExpandHourlyEmpty(t *testing.T) {
	rows := ExpandHourly(nil, time.Now(), "x")
	assert.Empty(t, rows)
	assert.Equal(t, 0.0, TotalKWh(rows))
}

func TestHoursInYear(t *testing.T) {
	assert.Equal(t, 8760, HoursInYear(2023))
	assert.Equal(t, 8784, HoursInYear(2024))
	assert.Equal(t, 8760, HoursInYear(2100))
}

func TestTotalKWhFullYear(t *testing.T) {
	ac := make([]float64, HoursInYear(2023))
	for i := range ac {
		ac[i] = 500
	}
	rows := ExpandHourly(ac, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), "x")
	assert.Len(t, rows, 8760*4)
	assert.Equal(t, 4380.0, TotalKWh(rows))
}
