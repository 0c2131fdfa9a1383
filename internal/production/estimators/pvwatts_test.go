package estimators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbourene/kinjo-production/internal/production"
)

var testSite = production.Site{Latitude: 45.76, Longitude: 4.83, CapacityKWc: 3}

var fastBackoff = BackoffConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func newTestEstimator(t *testing.T, handler http.HandlerFunc) (*PVWattsEstimator, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	est := NewPVWattsEstimator(srv.Client(), PVWattsConfig{
		APIKey:  "secret-key-1234567890",
		BaseURL: srv.URL + "/api/pvwatts/v8.json",
		Backoff: fastBackoff,
	}, nil)
	return est, &calls
}

func TestPVWattsEstimateSuccess(t *testing.T) {
	var query url.Values
	est, calls := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":[],"warnings":["dataset fallback"],"outputs":{"ac":[0,1000.5,2000]}}`))
	})

	series, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []float64{0, 1000.5, 2000}, series.ACWh)
	assert.Equal(t, 2024, series.Year)
	assert.False(t, series.Simulated)

	assert.Equal(t, "secret-key-1234567890", query.Get("api_key"))
	assert.Equal(t, "45.76", query.Get("lat"))
	assert.Equal(t, "4.83", query.Get("lon"))
	assert.Equal(t, "3", query.Get("system_capacity"))
	assert.Equal(t, "180", query.Get("azimuth"))
	assert.Equal(t, "30", query.Get("tilt"))
	assert.Equal(t, "14", query.Get("losses"))
	assert.Equal(t, "1", query.Get("array_type"))
	assert.Equal(t, "0", query.Get("module_type"))
	assert.Equal(t, "hourly", query.Get("timeframe"))
	assert.Equal(t, "intl", query.Get("dataset"))
}

func TestPVWattsEstimateUsesResponseYear(t *testing.T) {
	est, _ := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"outputs":{"ac":[1,2],"year":2023}}`))
	})

	series, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	require.NoError(t, err)
	assert.Equal(t, 2023, series.Year)
}

func TestPVWattsEstimateErrorPayload(t *testing.T) {
	est, calls := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":["lat must be between -90 and 90"],"outputs":{}}`))
	})

	_, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, production.ErrUpstream))
	assert.Contains(t, err.Error(), "lat must be between -90 and 90")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPVWattsEstimateErrorPayloadWithOK(t *testing.T) {
	est, _ := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":["invalid api key"],"outputs":{"ac":[1,2,3]}}`))
	})

	_, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	assert.True(t, errors.Is(err, production.ErrUpstream))
}

func TestPVWattsEstimateMissingAC(t *testing.T) {
	est, _ := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"outputs":{"ac_annual":1234}}`))
	})

	_, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, production.ErrUpstream))
	assert.Contains(t, err.Error(), "outputs.ac")
}

func TestPVWattsEstimateMalformedBody(t *testing.T) {
	est, calls := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	assert.True(t, errors.Is(err, production.ErrUpstream))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPVWattsEstimateMissingKey(t *testing.T) {
	est, calls := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {})
	est.apiKey = ""

	_, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	assert.True(t, errors.Is(err, production.ErrConfiguration))
	assert.Equal(t, int32(0), calls.Load())
}

func TestPVWattsEstimateRetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	est, calls := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"outputs":{"ac":[5]}}`))
	})

	series, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, series.ACWh)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPVWattsEstimateGivesUpAfterRetries(t *testing.T) {
	est, calls := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	assert.True(t, errors.Is(err, production.ErrUpstream))
	assert.Equal(t, int32(fastBackoff.MaxRetries+1), calls.Load())
}

func TestPVWattsEstimateRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	est := NewPVWattsEstimator(&http.Client{Timeout: time.Second}, PVWattsConfig{
		APIKey:  "secret-key-1234567890",
		BaseURL: base,
		Backoff: BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
	}, nil)

	_, err := est.Estimate(context.Background(), testSite, production.DefaultSystemConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, production.ErrUpstream))
	assert.False(t, strings.Contains(err.Error(), "secret-key"), err.Error())
}

func TestPVWattsEstimateContextCancelled(t *testing.T) {
	est, _ := newTestEstimator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	est.httpCfg.Backoff = BackoffConfig{MaxRetries: 5, InitialInterval: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := est.Estimate(ctx, testSite, production.DefaultSystemConfig())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
