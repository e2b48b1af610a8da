package geo

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/model"
)

// nearbySQL relies on the generated providers.location geography column, so
// ST_Distance and ST_DWithin are evaluated on the spheroid.
const nearbySQL = `SELECT p.id, p.external_id, p.name, p.address, p.phone, p.longitude, p.latitude,
	p.disabled, p.created_at, p.updated_at,
	ST_Distance(p.location, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) AS distance_meters
FROM providers p
WHERE p.disabled = false
	AND ST_DWithin(p.location, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
ORDER BY distance_meters ASC, p.id ASC`

type nearbyRow struct {
	model.Provider `gorm:"embedded"`
	DistanceMeters float64
}

// PostGISIndex queries provider locations stored in PostgreSQL/PostGIS.
type PostGISIndex struct {
	db *gorm.DB
}

// NewPostGISIndex creates a PostGIS-backed index.
func NewPostGISIndex(db *gorm.DB) *PostGISIndex {
	return &PostGISIndex{db: db}
}

// QueryNearby returns enabled providers within the area, nearest first.
func (i *PostGISIndex) QueryNearby(ctx context.Context, lat, lng float64, area Area) ([]Hit, error) {
	if err := validateQuery(lat, lng, area); err != nil {
		return nil, err
	}

	var rows []nearbyRow
	if err := i.db.WithContext(ctx).
		Raw(nearbySQL, lng, lat, lng, lat, area.Meters()).
		Scan(&rows).Error; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("nearby query: %w: %v", apperr.ErrGeoStoreUnavailable, err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{Provider: r.Provider, DistanceMeters: r.DistanceMeters})
	}
	sortHits(hits)
	return hits, nil
}
