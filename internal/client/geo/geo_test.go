package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/noah-isme/ireporter/internal/models"
)

type geocoderFunc func(ctx context.Context, lat, lng float64) (string, error)

func (f geocoderFunc) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	return f(ctx, lat, lng)
}

func TestNominatimSendsUserAgentAndBuildsName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ireporter-test/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "0.347600", r.URL.Query().Get("lat"))
		assert.Equal(t, "32.582500", r.URL.Query().Get("lon"))
		_, _ = w.Write([]byte(`{"address":{"road":"Kampala Road","city":"Kampala","state":"Central Region","country":"Uganda"}}`))
	}))
	t.Cleanup(srv.Close)

	g := NewNominatimGeocoder("ireporter-test/1.0", srv.Client())
	g.BaseURL = srv.URL
	name, err := g.ReverseGeocode(context.Background(), 0.3476, 32.5825)
	require.NoError(t, err)
	assert.Equal(t, "Kampala Road, Kampala, Central Region, Uganda", name)
}

func TestNominatimThrottles(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"display_name":"Somewhere"}`))
	}))
	t.Cleanup(srv.Close)

	g := NewNominatimGeocoder("ua", srv.Client())
	g.BaseURL = srv.URL
	_, err := g.ReverseGeocode(context.Background(), 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = g.ReverseGeocode(ctx, 1, 1)
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	g.limiter = rate.NewLimiter(rate.Inf, 1)
	name, err := g.ReverseGeocode(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Somewhere", name)
}

func TestMapboxReadsFirstFeature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"features":[{"properties":{"full_address":"Plot 1, Jinja Road, Kampala"}}]}`))
	}))
	t.Cleanup(srv.Close)

	name, err := (&MapboxGeocoder{BaseURL: srv.URL, AccessToken: "tok", Client: srv.Client()}).ReverseGeocode(context.Background(), 0.3, 32.6)
	require.NoError(t, err)
	assert.Equal(t, "Plot 1, Jinja Road, Kampala", name)

	_, err = (&MapboxGeocoder{BaseURL: srv.URL}).ReverseGeocode(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestFallbackUsesSecondary(t *testing.T) {
	g := &FallbackGeocoder{
		Primary:   geocoderFunc(func(context.Context, float64, float64) (string, error) { return "", errors.New("quota") }),
		Secondary: geocoderFunc(func(context.Context, float64, float64) (string, error) { return "Gulu", nil }),
	}
	name, err := g.ReverseGeocode(context.Background(), 2.7, 32.3)
	require.NoError(t, err)
	assert.Equal(t, "Gulu", name)
}

func TestResolveDegradesToUnknownLocation(t *testing.T) {
	failing := geocoderFunc(func(context.Context, float64, float64) (string, error) { return "", errors.New("offline") })
	r := NewResolver(StaticLocator{Latitude: 1.5, Longitude: 30.2, Set: true}, failing, nil)

	loc, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Location{Name: models.UnknownLocation, Latitude: 1.5, Longitude: 30.2}, loc)
	assert.Equal(t, models.UnknownLocation, NewResolver(nil, nil, nil).PlaceName(context.Background(), 1, 1))
}

func TestResolveFailsWithoutPosition(t *testing.T) {
	_, err := NewResolver(StaticLocator{}, nil, nil).Resolve(context.Background())
	assert.Error(t, err)

	_, err = NewResolver(StaticLocator{Latitude: 95, Set: true}, nil, nil).Resolve(context.Background())
	assert.Error(t, err)
}
