package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeocode(t *testing.T) {
	g := NewGeocoder("key")
	var got geocoder.Address
	g.lookup = func(a geocoder.Address) (geocoder.Location, error) {
		got = a
		assert.Equal(t, "key", geocoder.ApiKey)
		return geocoder.Location{Latitude: 45.76, Longitude: 4.83}, nil
	}

	lat, lon, err := g.Geocode(context.Background(), "  1 place Bellecour, Lyon ")
	require.NoError(t, err)
	assert.Equal(t, 45.76, lat)
	assert.Equal(t, 4.83, lon)
	assert.Equal(t, "1 place Bellecour, Lyon", got.Street)
}

func TestGeocodeErrors(t *testing.T) {
	_, _, err := NewGeocoder("").Geocode(context.Background(), "Lyon")
	assert.True(t, errors.Is(err, ErrNoAPIKey))

	g := NewGeocoder("key")
	g.lookup = func(geocoder.Address) (geocoder.Location, error) {
		return geocoder.Location{}, nil
	}
	_, _, err = g.Geocode(context.Background(), "nowhere")
	assert.Error(t, err)

	_, _, err = g.Geocode(context.Background(), " ")
	assert.Error(t, err)

	g.lookup = func(geocoder.Address) (geocoder.Location, error) {
		time.Sleep(200 * time.Millisecond)
		return geocoder.Location{Latitude: 1, Longitude: 1}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = g.Geocode(ctx, "Lyon")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
