// Package geo resolves installation addresses to coordinates through the
// Google Maps geocoding API.
package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
)

// ErrNoAPIKey is returned when no geocoding key is configured.
var ErrNoAPIKey = errors.New("geocoder api key is not configured")

// the geocoder package keeps its key in a package variable
var keyMu sync.Mutex

// Geocoder implements production.Geocoder.
type Geocoder struct {
	apiKey string
	lookup func(geocoder.Address) (geocoder.Location, error)
}

func NewGeocoder(apiKey string) *Geocoder {
	return &Geocoder{apiKey: apiKey, lookup: geocoder.Geocoding}
}

// Geocode resolves a free-form address. The lookup itself is not
// cancellable; ctx bounds how long the caller waits for it.
func (g *Geocoder) Geocode(ctx context.Context, address string) (float64, float64, error) {
	if g.apiKey == "" {
		return 0, 0, ErrNoAPIKey
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, 0, fmt.Errorf("empty address")
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		keyMu.Lock()
		geocoder.ApiKey = g.apiKey
		loc, err := g.lookup(geocoder.Address{Street: address})
		keyMu.Unlock()
		done <- result{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return 0, 0, fmt.Errorf("geocode: %w", r.err)
		}
		if r.loc.Latitude == 0 && r.loc.Longitude == 0 {
			return 0, 0, fmt.Errorf("geocode: no result for %q", address)
		}
		return r.loc.Latitude, r.loc.Longitude, nil
	}
}
