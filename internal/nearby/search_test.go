package nearby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/model"
)

type fakeLive struct {
	mu       sync.Mutex
	docs     map[int64]model.LiveStatus
	failFor  map[int64]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeLive) Get(ctx context.Context, providerID int64) (model.LiveStatus, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.LiveStatus{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[providerID] {
		return model.LiveStatus{}, fmt.Errorf("get: %w: connection refused", apperr.ErrLiveDataUnavailable)
	}
	if d, ok := f.docs[providerID]; ok {
		return d, nil
	}
	return live.Default(providerID), nil
}

func (f *fakeLive) Update(ctx context.Context, providerID int64, patch live.Patch) error { return nil }
func (f *fakeLive) Reset(ctx context.Context, providerID int64) error                   { return nil }

func bostonIndex() *geo.MemoryIndex {
	return geo.NewMemoryIndex(
		model.Provider{ID: 1, Name: "Downtown Cuts", Latitude: 42.3601, Longitude: -71.0589},
		model.Provider{ID: 2, Name: "Cambridge Fades", Latitude: 42.3736, Longitude: -71.1097},
		model.Provider{ID: 3, Name: "Back Bay Barbers", Latitude: 42.3503, Longitude: -71.0810},
	)
}

func TestSearch_DefaultLiveFieldsWhenNeverSet(t *testing.T) {
	svc := NewService(bostonIndex(), &fakeLive{}, 4)

	results, err := svc.Search(context.Background(), 42.36, -71.06, geo.Radius(5000))
	require.NoError(t, err)
	require.NotEmpty(t, results)

	first := results[0]
	assert.Equal(t, int64(1), first.ID)
	assert.Less(t, first.DistanceMeters, 500.0)
	assert.False(t, first.IsOpen)
	assert.Equal(t, 0, first.QueueLength)
	assert.Empty(t, first.AvailableStaff)
	assert.NotNil(t, first.AvailableStaff)
	assert.Nil(t, first.LastUpdated)
	assert.False(t, first.LiveDataStale)
}

func TestSearch_MergesLiveStatusWithoutReordering(t *testing.T) {
	updated := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	lv := &fakeLive{docs: map[int64]model.LiveStatus{
		// The farthest provider has the shortest wait; order must still be by distance.
		2: {ProviderID: 2, IsOpen: true, QueueSize: 0, AvailableStaff: []string{"dana"}, LastUpdated: updated},
		1: {ProviderID: 1, IsOpen: true, QueueSize: 6, EstimatedWaitMinutes: 90, LastUpdated: updated},
	}}
	svc := NewService(bostonIndex(), lv, 2)

	results, err := svc.Search(context.Background(), 42.36, -71.06, geo.Radius(10000))
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].DistanceMeters, results[i].DistanceMeters)
	}
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, 6, results[0].QueueLength)
	assert.Equal(t, 90, results[0].WaitTimeMinutes)
	require.NotNil(t, results[0].LastUpdated)
	assert.True(t, updated.Equal(*results[0].LastUpdated))

	last := results[len(results)-1]
	assert.Equal(t, int64(2), last.ID)
	assert.Equal(t, []string{"dana"}, last.AvailableStaff)
}

func TestSearch_LiveStoreFailureMarksStale(t *testing.T) {
	lv := &fakeLive{
		docs:    map[int64]model.LiveStatus{3: {ProviderID: 3, IsOpen: true, QueueSize: 2}},
		failFor: map[int64]bool{1: true, 2: true},
	}
	svc := NewService(bostonIndex(), lv, 4)

	results, err := svc.Search(context.Background(), 42.36, -71.06, geo.Radius(10000))
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[int64]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.True(t, byID[1].LiveDataStale)
	assert.Equal(t, "Downtown Cuts", byID[1].Name)
	assert.False(t, byID[1].IsOpen)
	assert.True(t, byID[2].LiveDataStale)
	assert.False(t, byID[3].LiveDataStale)
	assert.Equal(t, 2, byID[3].QueueLength)
}

func TestSearch_InvalidInput(t *testing.T) {
	svc := NewService(bostonIndex(), &fakeLive{}, 4)

	_, err := svc.Search(context.Background(), 91, -71.06, geo.Radius(5000))
	assert.ErrorIs(t, err, apperr.ErrInvalidCoordinate)
	_, err = svc.Search(context.Background(), 42.36, -200, geo.Radius(5000))
	assert.ErrorIs(t, err, apperr.ErrInvalidCoordinate)
}

func TestSearch_Cancelled(t *testing.T) {
	lv := &fakeLive{delay: time.Second}
	svc := NewService(bostonIndex(), lv, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := svc.Search(ctx, 42.36, -71.06, geo.Radius(10000))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSearch_BoundedConcurrency(t *testing.T) {
	idx := geo.NewMemoryIndex()
	for i := int64(1); i <= 20; i++ {
		idx.Put(model.Provider{ID: i, Latitude: 42.36 + float64(i)*0.0001, Longitude: -71.06})
	}
	lv := &fakeLive{delay: 5 * time.Millisecond}
	svc := NewService(idx, lv, 3)

	results, err := svc.Search(context.Background(), 42.36, -71.06, geo.Radius(5000))
	require.NoError(t, err)
	assert.Len(t, results, 20)
	assert.LessOrEqual(t, lv.peak.Load(), int32(3))
}
