package estimators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dbourene/kinjo-production/internal/production"
)

// DefaultPVWattsURL is the NREL PVWatts v8 JSON endpoint.
const DefaultPVWattsURL = "https://developer.nrel.gov/api/pvwatts/v8.json"

// PVWattsConfig is the explicit configuration of the PVWatts client.
type PVWattsConfig struct {
	APIKey string
	// BaseURL defaults to DefaultPVWattsURL.
	BaseURL string
	// DefaultYear stamps series whose response carries no year.
	DefaultYear int
	Backoff     BackoffConfig
}

// PVWattsEstimator implements production.Estimator on top of NREL PVWatts.
type PVWattsEstimator struct {
	name        string
	apiKey      string
	baseURL     string
	defaultYear int
	httpCfg     HTTPClientConfig
	circuit     *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

// NewPVWattsEstimator creates the client. A missing API key is reported by
// Estimate as production.ErrConfiguration.
func NewPVWattsEstimator(client *http.Client, cfg PVWattsConfig, logger *zap.Logger) *PVWattsEstimator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPVWattsURL
	}
	if cfg.DefaultYear == 0 {
		cfg.DefaultYear = 2024
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PVWattsEstimator{
		name:        "pvwatts",
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		defaultYear: cfg.DefaultYear,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: cfg.Backoff,
		},
		circuit: newCircuit("pvwatts"),
		logger:  logger,
	}
}

func (p *PVWattsEstimator) Name() string {
	return p.name
}

// pvwattsResponse is the subset of the v8 envelope we use.
type pvwattsResponse struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Outputs  *struct {
		AC   []float64 `json:"ac"`
		Year *int      `json:"year"`
	} `json:"outputs"`
}

func (p *PVWattsEstimator) Estimate(ctx context.Context, site production.Site, cfg production.SystemConfig) (production.HourlySeries, error) {
	if p.apiKey == "" {
		return production.HourlySeries{}, fmt.Errorf("%w: pvwatts api key is not configured", production.ErrConfiguration)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("api_key", p.apiKey)
		values.Set("lat", formatFloat(site.Latitude))
		values.Set("lon", formatFloat(site.Longitude))
		values.Set("system_capacity", formatFloat(site.CapacityKWc))
		values.Set("azimuth", formatFloat(cfg.Azimuth))
		values.Set("tilt", formatFloat(cfg.Tilt))
		values.Set("losses", formatFloat(cfg.Losses))
		values.Set("array_type", strconv.Itoa(int(cfg.ArrayType)))
		values.Set("module_type", strconv.Itoa(int(cfg.ModuleType)))
		values.Set("timeframe", cfg.Timeframe)
		values.Set("dataset", cfg.Dataset)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	started := time.Now()
	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		if ctx.Err() != nil {
			return production.HourlySeries{}, ctx.Err()
		}
		return production.HourlySeries{}, fmt.Errorf("%w: pvwatts request: %v", production.ErrUpstream, redactURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return production.HourlySeries{}, fmt.Errorf("%w: read pvwatts body: %v", production.ErrUpstream, err)
	}

	var payload pvwattsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return production.HourlySeries{}, fmt.Errorf("%w: decode pvwatts response (status %d): %v", production.ErrUpstream, resp.StatusCode, err)
	}
	if len(payload.Errors) > 0 {
		return production.HourlySeries{}, fmt.Errorf("%w: pvwatts: %s", production.ErrUpstream, strings.Join(payload.Errors, "; "))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return production.HourlySeries{}, fmt.Errorf("%w: pvwatts status %d", production.ErrUpstream, resp.StatusCode)
	}
	if payload.Outputs == nil || payload.Outputs.AC == nil {
		return production.HourlySeries{}, fmt.Errorf("%w: pvwatts response has no outputs.ac", production.ErrUpstream)
	}
	for _, w := range payload.Warnings {
		p.logger.Warn("pvwatts warning", zap.String("warning", w))
	}

	year := p.defaultYear
	if payload.Outputs.Year != nil && *payload.Outputs.Year > 0 {
		year = *payload.Outputs.Year
	}

	p.logger.Debug("pvwatts series fetched",
		zap.Int("samples", len(payload.Outputs.AC)),
		zap.Int("year", year),
		zap.Duration("elapsed", time.Since(started)))

	return production.HourlySeries{
		Year:   year,
		ACWh:   payload.Outputs.AC,
		Source: "NREL PVWatts v8",
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// redactURL drops the request URL (which carries api_key) from transport errors.
func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
