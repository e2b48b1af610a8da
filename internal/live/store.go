// Package live stores the volatile per-provider status document: open or
// closed, queue size, available staff and the current wait estimate.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/model"
)

// Patch is a partial LiveStatus update. Nil fields are left untouched.
type Patch struct {
	IsOpen               *bool     `json:"is_open"`
	QueueSize            *int      `json:"queue_size"`
	AvailableStaff       *[]string `json:"available_staff"`
	EstimatedWaitMinutes *int      `json:"estimated_wait_minutes"`
}

// Empty reports whether the patch sets no field.
func (p Patch) Empty() bool {
	return p.IsOpen == nil && p.QueueSize == nil && p.AvailableStaff == nil && p.EstimatedWaitMinutes == nil
}

// Store defines the live status document operations.
type Store interface {
	Get(ctx context.Context, providerID int64) (model.LiveStatus, error)
	Update(ctx context.Context, providerID int64, patch Patch) error
	Reset(ctx context.Context, providerID int64) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a new GORM-backed live status store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Default returns the status of a provider that never reported one.
func Default(providerID int64) model.LiveStatus {
	return model.LiveStatus{ProviderID: providerID, AvailableStaff: []string{}}
}

// Get returns the provider's status document, or the default when absent.
func (s *gormStore) Get(ctx context.Context, providerID int64) (model.LiveStatus, error) {
	var status model.LiveStatus
	err := s.db.WithContext(ctx).First(&status, "provider_id = ?", providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Default(providerID), nil
	}
	if err != nil {
		return model.LiveStatus{}, fmt.Errorf("get live status for provider %d: %w: %v", providerID, apperr.ErrLiveDataUnavailable, err)
	}
	if status.AvailableStaff == nil {
		status.AvailableStaff = []string{}
	}
	return status, nil
}

// Update merges the patch into the provider's document in a single upsert and
// stamps last_updated. Concurrent writers are last-write-wins per column.
func (s *gormStore) Update(ctx context.Context, providerID int64, patch Patch) error {
	doc := Default(providerID)
	doc.LastUpdated = s.now()
	columns := []string{"last_updated"}

	if patch.IsOpen != nil {
		doc.IsOpen = *patch.IsOpen
		columns = append(columns, "is_open")
	}
	if patch.QueueSize != nil {
		doc.QueueSize = max(*patch.QueueSize, 0)
		columns = append(columns, "queue_size")
	}
	if patch.AvailableStaff != nil {
		doc.AvailableStaff = dedupe(*patch.AvailableStaff)
		columns = append(columns, "available_staff")
	}
	if patch.EstimatedWaitMinutes != nil {
		doc.EstimatedWaitMinutes = max(*patch.EstimatedWaitMinutes, 0)
		columns = append(columns, "estimated_wait_minutes")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("update live status for provider %d: %w: %v", providerID, apperr.ErrLiveDataUnavailable, err)
	}
	return nil
}

// Reset deletes the provider's document.
func (s *gormStore) Reset(ctx context.Context, providerID int64) error {
	if err := s.db.WithContext(ctx).Delete(&model.LiveStatus{}, providerID).Error; err != nil {
		return fmt.Errorf("reset live status for provider %d: %w: %v", providerID, apperr.ErrLiveDataUnavailable, err)
	}
	return nil
}

// dedupe keeps the first occurrence of every staff ID.
func dedupe(staff []string) []string {
	seen := make(map[string]struct{}, len(staff))
	out := make([]string, 0, len(staff))
	for _, id := range staff {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
