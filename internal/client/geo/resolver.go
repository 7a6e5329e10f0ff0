// Package geo finds where the user is and names the place.
package geo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

// DeviceLocator reports the device position.
type DeviceLocator interface {
	Locate(ctx context.Context) (lat, lng float64, err error)
}

// StaticLocator returns fixed coordinates, for example from CLI flags.
type StaticLocator struct {
	Latitude  float64
	Longitude float64
	Set       bool
}

// Locate implements DeviceLocator.
func (s StaticLocator) Locate(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if !s.Set {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "location is not available")
	}
	return s.Latitude, s.Longitude, nil
}

// Resolver combines a locator with a reverse geocoder.
type Resolver struct {
	locator  DeviceLocator
	geocoder ReverseGeocoder
	logger   *zap.Logger
}

// NewResolver builds a Resolver. A nil geocoder names every place
// "Unknown Location".
func NewResolver(locator DeviceLocator, geocoder ReverseGeocoder, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{locator: locator, geocoder: geocoder, logger: logger}
}

// Resolve locates the device and names the place. A locator failure is an
// error; a geocoder failure only loses the name.
func (r *Resolver) Resolve(ctx context.Context) (models.Location, error) {
	if r.locator == nil {
		return models.Location{}, appErrors.Clone(appErrors.ErrValidation, "location is not available")
	}
	lat, lng, err := r.locator.Locate(ctx)
	if err != nil {
		return models.Location{}, err
	}
	if !models.ValidCoordinates(lat, lng) {
		return models.Location{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("coordinates %f, %f are out of range", lat, lng))
	}
	return models.Location{Name: r.PlaceName(ctx, lat, lng), Latitude: lat, Longitude: lng}, nil
}

// PlaceName is a best-effort name for the coordinates.
func (r *Resolver) PlaceName(ctx context.Context, lat, lng float64) string {
	if r.geocoder == nil {
		return models.UnknownLocation
	}
	name, err := r.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil || name == "" {
		r.logger.Debug("reverse geocoding failed", zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
		return models.UnknownLocation
	}
	return name
}
