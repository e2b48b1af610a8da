package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/model"
)

// ErrSubscriptionNotFound is returned when no subscription has the endpoint.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Store defines the interface for all catalog database operations.
type Store interface {
	CreateProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id int64) (model.Provider, error)
	DisableProvider(ctx context.Context, id int64) error
	ListProviders(ctx context.Context) ([]model.Provider, error)
	UpsertProviders(ctx context.Context, providers []model.Provider) ([]model.Provider, error)

	PutSubscription(ctx context.Context, sub model.PushSubscription, providerIDs []int64) error
	GetSubscription(ctx context.Context, endpoint, customerID string) (model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint, customerID string) error

	CreateAppointment(ctx context.Context, a *model.Appointment) error
	GetAppointment(ctx context.Context, id int64) (model.Appointment, error)
	ListAppointments(ctx context.Context, customerID string) ([]model.Appointment, error)
	CancelAppointment(ctx context.Context, id int64) (model.Appointment, error)
	BookedSlots(ctx context.Context, providerID int64, staffKey string, from, to time.Time) ([]time.Time, error)

	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateProvider(ctx context.Context, p *model.Provider) error {
	p.ID = 0
	p.Disabled = false
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create provider %q: %w", p.Name, err)
	}
	return nil
}

// GetProvider returns an enabled provider.
func (s *gormStore) GetProvider(ctx context.Context, id int64) (model.Provider, error) {
	var p model.Provider
	err := s.db.WithContext(ctx).First(&p, "id = ? AND disabled = ?", id, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Provider{}, fmt.Errorf("provider %d: %w", id, apperr.ErrProviderNotFound)
	}
	if err != nil {
		return model.Provider{}, fmt.Errorf("failed to load provider %d: %w", id, err)
	}
	return p, nil
}

// DisableProvider soft-disables a provider. Providers are never deleted.
func (s *gormStore) DisableProvider(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&model.Provider{}).
		Where("id = ? AND disabled = ?", id, false).
		Update("disabled", true)
	if res.Error != nil {
		return fmt.Errorf("failed to disable provider %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("provider %d: %w", id, apperr.ErrProviderNotFound)
	}
	return nil
}

// ListProviders returns every enabled provider ordered by id.
func (s *gormStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	var providers []model.Provider
	if err := s.db.WithContext(ctx).Where("disabled = ?", false).Order("id").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// UpsertProviders inserts or refreshes providers by external id in one
// transaction and returns the stored rows. Location is kept from the first
// registration.
func (s *gormStore) UpsertProviders(ctx context.Context, providers []model.Provider) ([]model.Provider, error) {
	if len(providers) == 0 {
		return nil, nil
	}

	externalIDs := make([]string, 0, len(providers))
	for i := range providers {
		if providers[i].ExternalID == nil || *providers[i].ExternalID == "" {
			return nil, fmt.Errorf("provider %q has no external id", providers[i].Name)
		}
		providers[i].ID = 0
		externalIDs = append(externalIDs, *providers[i].ExternalID)
	}

	var stored []model.Provider
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		log.WithField("count", len(providers)).Debug("batch upserting providers")
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "address", "phone", "updated_at"}),
		}).Create(&providers).Error; err != nil {
			return fmt.Errorf("batch upsert providers failed: %w", err)
		}
		return tx.Where("external_id IN ?", externalIDs).Order("id").Find(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// PutSubscription creates or replaces a subscription and the set of
// providers it follows. An endpoint already registered to another customer
// is left untouched and reported as forbidden.
func (s *gormStore) PutSubscription(ctx context.Context, sub model.PushSubscription, providerIDs []int64) error {
	if sub.Language == "" {
		sub.Language = "en"
	}
	sub.Providers = nil

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "language"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "push_subscriptions.customer_id = ?", Vars: []interface{}{sub.CustomerID}},
			}},
		}).Create(&sub)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("subscription endpoint held by another customer: %w", apperr.ErrForbidden)
		}

		providers := []model.Provider{}
		if len(providerIDs) > 0 {
			if err := tx.Where("disabled = ?", false).Find(&providers, providerIDs).Error; err != nil {
				return err
			}
		}

		return tx.Model(&sub).Association("Providers").Replace(&providers)
	})
}

// GetSubscription returns the customer's subscription with its followed
// providers. Another customer's endpoint is reported as not found.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint, customerID string) (model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).Preload("Providers").
		First(&sub, "endpoint = ? AND customer_id = ?", endpoint, customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PushSubscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return model.PushSubscription{}, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// DeleteSubscription removes the customer's subscription.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint, customerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub model.PushSubscription
		err := tx.First(&sub, "endpoint = ? AND customer_id = ?", endpoint, customerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&sub).Association("Providers").Clear(); err != nil {
			return err
		}
		return tx.Delete(&sub).Error
	})
}

func slotKey(providerID int64, staffKey string, startsAt time.Time) string {
	return fmt.Sprintf("%d/%s/%d", providerID, staffKey, startsAt.Unix())
}

// CreateAppointment books a scheduled appointment. The slot key index makes
// a second booking of the same provider, staff and start time fail.
func (s *gormStore) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	a.ID = 0
	a.StartsAt = a.StartsAt.UTC()
	a.Status = model.AppointmentScheduled
	key := slotKey(a.ProviderID, a.StaffKey, a.StartsAt)
	a.SlotKey = &key

	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		var taken int64
		if cerr := s.db.WithContext(ctx).Model(&model.Appointment{}).Where("slot_key = ?", key).Count(&taken).Error; cerr == nil && taken > 0 {
			return fmt.Errorf("slot %s: %w", key, apperr.ErrSlotUnavailable)
		}
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (s *gormStore) GetAppointment(ctx context.Context, id int64) (model.Appointment, error) {
	var a model.Appointment
	err := s.db.WithContext(ctx).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Appointment{}, fmt.Errorf("appointment %d: %w", id, apperr.ErrAppointmentNotFound)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("failed to load appointment %d: %w", id, err)
	}
	return a, nil
}

// ListAppointments returns the customer's appointments, soonest first.
func (s *gormStore) ListAppointments(ctx context.Context, customerID string) ([]model.Appointment, error) {
	appointments := []model.Appointment{}
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("starts_at").Order("id").
		Find(&appointments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

// CancelAppointment cancels a scheduled appointment and frees its slot.
// Cancelling twice returns the cancelled appointment.
func (s *gormStore) CancelAppointment(ctx context.Context, id int64) (model.Appointment, error) {
	err := s.db.WithContext(ctx).Model(&model.Appointment{}).
		Where("id = ? AND status = ?", id, model.AppointmentScheduled).
		Updates(map[string]interface{}{"status": model.AppointmentCancelled, "slot_key": nil}).Error
	if err != nil {
		return model.Appointment{}, fmt.Errorf("failed to cancel appointment %d: %w", id, err)
	}
	return s.GetAppointment(ctx, id)
}

// BookedSlots returns the start times of scheduled appointments in [from, to).
func (s *gormStore) BookedSlots(ctx context.Context, providerID int64, staffKey string, from, to time.Time) ([]time.Time, error) {
	var starts []time.Time
	err := s.db.WithContext(ctx).Model(&model.Appointment{}).
		Where("provider_id = ? AND staff_key = ? AND status = ?", providerID, staffKey, model.AppointmentScheduled).
		Where("starts_at >= ? AND starts_at < ?", from.UTC(), to.UTC()).
		Order("starts_at").
		Pluck("starts_at", &starts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load booked slots for provider %d: %w", providerID, err)
	}
	return starts, nil
}

// Ping checks database connectivity.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
