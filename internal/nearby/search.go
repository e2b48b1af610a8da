// Package nearby merges the geospatial search with each provider's live
// status. Live data never reorders or fails a search.
package nearby

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/metrics"
	"shopqueue-backend/internal/model"
)

// Result is one enriched provider record.
type Result struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Address         string     `json:"address"`
	Phone           string     `json:"phone"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	DistanceMeters  float64    `json:"distance_meters"`
	IsOpen          bool       `json:"is_open"`
	QueueLength     int        `json:"queue_length"`
	WaitTimeMinutes int        `json:"wait_time_minutes"`
	AvailableStaff  []string   `json:"available_staff"`
	LastUpdated     *time.Time `json:"last_updated"`
	LiveDataStale   bool       `json:"live_data_stale"`
}

// Service runs nearby searches.
type Service struct {
	index       geo.Index
	live        live.Store
	concurrency int
}

// NewService creates a search service fetching at most concurrency live
// documents at once.
func NewService(index geo.Index, liveStore live.Store, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{index: index, live: liveStore, concurrency: concurrency}
}

// Search returns providers within the area, nearest first, each merged with
// its live status. A provider whose live status cannot be read is returned
// with defaults and LiveDataStale set.
func (s *Service) Search(ctx context.Context, lat, lng float64, area geo.Area) ([]Result, error) {
	hits, err := s.index.QueryNearby(ctx, lat, lng, area)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, hit := range hits {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			status, err := s.live.Get(gctx, hit.Provider.ID)
			stale := false
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				stale = true
				metrics.LiveFallbacks.Inc()
				log.WithError(err).WithField("provider_id", hit.Provider.ID).Warn("live status unavailable, serving static data")
				status = live.Default(hit.Provider.ID)
			}
			results[i] = merge(hit, status, stale)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func merge(hit geo.Hit, status model.LiveStatus, stale bool) Result {
	r := Result{
		ID:              hit.Provider.ID,
		Name:            hit.Provider.Name,
		Address:         hit.Provider.Address,
		Phone:           hit.Provider.Phone,
		Latitude:        hit.Provider.Latitude,
		Longitude:       hit.Provider.Longitude,
		DistanceMeters:  hit.DistanceMeters,
		IsOpen:          status.IsOpen,
		QueueLength:     status.QueueSize,
		WaitTimeMinutes: status.EstimatedWaitMinutes,
		AvailableStaff:  status.AvailableStaff,
		LiveDataStale:   stale,
	}
	if r.AvailableStaff == nil {
		r.AvailableStaff = []string{}
	}
	if !status.LastUpdated.IsZero() {
		t := status.LastUpdated
		r.LastUpdated = &t
	}
	return r
}
