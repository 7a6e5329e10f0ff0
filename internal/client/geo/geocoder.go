package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReverseGeocoder turns coordinates into a place name.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// ErrNoMatch is returned when a provider knows nothing about a point.
var ErrNoMatch = errors.New("no place found for coordinates")

const (
	nominatimURL = "https://nominatim.openstreetmap.org/reverse"
	mapboxURL    = "https://api.mapbox.com/search/geocode/v6/reverse"
)

// NominatimGeocoder queries OpenStreetMap Nominatim. The public instance
// requires a User-Agent and allows one request per second.
type NominatimGeocoder struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	limiter   *rate.Limiter
}

// NewNominatimGeocoder returns a geocoder throttled to one call per second.
func NewNominatimGeocoder(userAgent string, client *http.Client) *NominatimGeocoder {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &NominatimGeocoder{
		BaseURL:   nominatimURL,
		UserAgent: userAgent,
		Client:    client,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// ReverseGeocode implements ReverseGeocoder.
func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))
	q.Set("addressdetails", "1")

	var data struct {
		DisplayName string `json:"display_name"`
		Address     struct {
			Road    string `json:"road"`
			Suburb  string `json:"suburb"`
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"address"`
	}
	header := http.Header{}
	header.Set("User-Agent", g.UserAgent)
	if err := getJSON(ctx, g.Client, g.BaseURL+"?"+q.Encode(), header, "nominatim", &data); err != nil {
		return "", err
	}

	a := data.Address
	city := firstOf(a.City, a.Town, a.Village, a.Suburb)
	name := joinNonEmpty(a.Road, city, a.State, a.Country)
	if name == "" {
		name = strings.TrimSpace(data.DisplayName)
	}
	if name == "" {
		return "", ErrNoMatch
	}
	return name, nil
}

// MapboxGeocoder queries the Mapbox v6 reverse geocoding endpoint.
type MapboxGeocoder struct {
	BaseURL     string
	AccessToken string
	Client      *http.Client
}

// ReverseGeocode implements ReverseGeocoder.
func (g *MapboxGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if g.AccessToken == "" {
		return "", errors.New("mapbox access token missing")
	}
	base := g.BaseURL
	if base == "" {
		base = mapboxURL
	}
	q := url.Values{}
	q.Set("longitude", fmt.Sprintf("%f", lng))
	q.Set("latitude", fmt.Sprintf("%f", lat))
	q.Set("access_token", g.AccessToken)
	q.Set("limit", "1")

	var data struct {
		Features []struct {
			Properties struct {
				FullAddress string `json:"full_address"`
				Name        string `json:"name"`
				PlaceFormat string `json:"place_formatted"`
			} `json:"properties"`
		} `json:"features"`
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	if err := getJSON(ctx, client, base+"?"+q.Encode(), nil, "mapbox", &data); err != nil {
		return "", err
	}
	if len(data.Features) == 0 {
		return "", ErrNoMatch
	}
	p := data.Features[0].Properties
	name := firstOf(p.FullAddress, joinNonEmpty(p.Name, p.PlaceFormat))
	if name == "" {
		return "", ErrNoMatch
	}
	return name, nil
}

// FallbackGeocoder asks Primary first and Secondary when it fails.
type FallbackGeocoder struct {
	Primary   ReverseGeocoder
	Secondary ReverseGeocoder
	Logger    *zap.Logger
}

// ReverseGeocode implements ReverseGeocoder.
func (g *FallbackGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	name, err := g.Primary.ReverseGeocode(ctx, lat, lng)
	if err == nil {
		return name, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	if g.Logger != nil {
		g.Logger.Debug("primary geocoder failed", zap.Error(err))
	}
	return g.Secondary.ReverseGeocode(ctx, lat, lng)
}

// NewReverseGeocoder builds the geocoder for a provider name: nominatim,
// mapbox, or fallback (mapbox then nominatim).
func NewReverseGeocoder(provider, userAgent, mapboxToken string, timeout time.Duration, logger *zap.Logger) ReverseGeocoder {
	client := &http.Client{Timeout: timeout}
	nominatim := NewNominatimGeocoder(userAgent, client)
	mapbox := &MapboxGeocoder{AccessToken: mapboxToken, Client: client}
	switch strings.ToLower(provider) {
	case "mapbox":
		return mapbox
	case "fallback":
		return &FallbackGeocoder{Primary: mapbox, Secondary: nominatim, Logger: logger}
	}
	return nominatim
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, header http.Header, provider string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s error (%d): %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
