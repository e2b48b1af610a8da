// Package geo answers "which providers are near this point" queries.
//
// Two backends implement Index: PostGISIndex, which delegates distance and
// radius filtering to PostgreSQL's geography type, and MemoryIndex, which
// computes WGS84 geodesic distances in process. Both return hits ordered by
// ascending distance with ties broken by provider ID.
package geo

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/model"
)

// driveTimeRadii approximates drive-time labels (minutes) as radii in meters.
var driveTimeRadii = map[int]float64{
	15: 12500,
	30: 25000,
	45: 37500,
	60: 50000,
}

// fallbackDriveTime is used for drive-time values missing from driveTimeRadii.
const fallbackDriveTime = 30

// Area is the extent of a nearby search: a plain radius or a drive-time bucket.
type Area struct {
	meters float64
}

// Radius returns an Area covering meters around the search point.
func Radius(meters float64) Area {
	return Area{meters: meters}
}

// DriveTime returns the Area for a drive-time label in minutes. Unknown labels
// map to the 30-minute bucket.
func DriveTime(minutes int) Area {
	meters, ok := driveTimeRadii[minutes]
	if !ok {
		meters = driveTimeRadii[fallbackDriveTime]
	}
	return Area{meters: meters}
}

// Meters returns the search radius in meters.
func (a Area) Meters() float64 {
	return a.meters
}

// Validate reports whether the area is a usable radius.
func (a Area) Validate() error {
	if math.IsNaN(a.meters) || math.IsInf(a.meters, 0) || a.meters <= 0 {
		return fmt.Errorf("radius %v: %w", a.meters, apperr.ErrInvalidRadius)
	}
	return nil
}

// ValidateCoordinate rejects latitudes outside [-90, 90] and longitudes
// outside [-180, 180].
func ValidateCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return fmt.Errorf("coordinate (%v, %v): %w", lat, lng, apperr.ErrInvalidCoordinate)
	}
	return nil
}

// Hit is a provider together with its distance from the search point.
type Hit struct {
	Provider       model.Provider
	DistanceMeters float64
}

// Index answers proximity queries.
type Index interface {
	QueryNearby(ctx context.Context, lat, lng float64, area Area) ([]Hit, error)
}

// Writer is implemented by indexes that keep their own copy of the catalog.
type Writer interface {
	Put(p model.Provider)
	Remove(providerID int64)
}

func validateQuery(lat, lng float64, area Area) error {
	if err := ValidateCoordinate(lat, lng); err != nil {
		return err
	}
	return area.Validate()
}

func sortHits(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(a.DistanceMeters, b.DistanceMeters); c != 0 {
			return c
		}
		return cmp.Compare(a.Provider.ID, b.Provider.ID)
	})
}
