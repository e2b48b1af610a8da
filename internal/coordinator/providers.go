package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/auth"
	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/model"
	"shopqueue-backend/internal/notification"
	"shopqueue-backend/internal/parse"
)

// ProviderInput registers a provider. Location is fixed once registered and
// must be given explicitly.
type ProviderInput struct {
	Name      string   `json:"name" binding:"required"`
	Address   string   `json:"address" binding:"required"`
	Phone     string   `json:"phone"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// AvailabilityInput announces new time slots for one staff member.
type AvailabilityInput struct {
	Phone     string   `json:"phone" binding:"required"`
	StaffName string   `json:"staff_name" binding:"required"`
	Date      string   `json:"date" binding:"required"`
	TimeSlots []string `json:"time_slots" binding:"required"`
}

// AvailabilityResult tells the caller how the announcement was addressed.
type AvailabilityResult struct {
	StaffKey   string `json:"staff_key"`
	BookingURL string `json:"booking_url"`
	Queued     bool   `json:"queued"`
}

// RegisterProvider adds a provider to the catalog.
func (c *Coordinator) RegisterProvider(ctx context.Context, id auth.Identity, in ProviderInput) (model.Provider, error) {
	if !id.IsAdmin() {
		return model.Provider{}, fmt.Errorf("register provider: %w", apperr.ErrForbidden)
	}
	if in.Latitude == nil || in.Longitude == nil {
		return model.Provider{}, fmt.Errorf("provider location is required: %w", apperr.ErrInvalidCoordinate)
	}
	if err := geo.ValidateCoordinate(*in.Latitude, *in.Longitude); err != nil {
		return model.Provider{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return model.Provider{}, fmt.Errorf("provider name is required: %w", apperr.ErrInvalidInput)
	}

	p := model.Provider{
		Name:      strings.TrimSpace(in.Name),
		Address:   strings.TrimSpace(in.Address),
		Latitude:  *in.Latitude,
		Longitude: *in.Longitude,
	}
	if in.Phone != "" {
		phone, err := parse.NormalizePhone(in.Phone)
		if err != nil {
			return model.Provider{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
		}
		p.Phone = phone
	}

	if err := c.catalog.CreateProvider(ctx, &p); err != nil {
		return model.Provider{}, err
	}
	if c.geo != nil {
		c.geo.Put(p)
	}
	log.WithFields(log.Fields{"provider_id": p.ID, "name": p.Name}).Info("provider registered")
	return p, nil
}

// DisableProvider soft-disables a provider and drops its queue and live
// status.
func (c *Coordinator) DisableProvider(ctx context.Context, id auth.Identity, providerID int64) error {
	if !id.IsAdmin() {
		return fmt.Errorf("disable provider %d: %w", providerID, apperr.ErrForbidden)
	}
	if err := c.catalog.DisableProvider(ctx, providerID); err != nil {
		return err
	}
	if c.geo != nil {
		c.geo.Remove(providerID)
	}
	return c.ResetProvider(ctx, providerID)
}

// ResetProvider clears the provider's queue and live status document.
func (c *Coordinator) ResetProvider(ctx context.Context, providerID int64) error {
	if err := c.live.Reset(ctx, providerID); err != nil {
		log.WithError(err).WithField("provider_id", providerID).Warn("live status reset failed")
	}
	if err := c.queue.Reset(ctx, providerID); err != nil {
		return err
	}
	c.notifyWatchers(providerID, 0)
	return nil
}

// UpdateStatus applies a staff-supplied live status patch.
func (c *Coordinator) UpdateStatus(ctx context.Context, id auth.Identity, providerID int64, patch live.Patch) (model.LiveStatus, error) {
	if !id.CanManage(providerID) {
		return model.LiveStatus{}, fmt.Errorf("update status of provider %d: %w", providerID, apperr.ErrForbidden)
	}
	if patch.Empty() {
		return model.LiveStatus{}, fmt.Errorf("empty status patch: %w", apperr.ErrInvalidInput)
	}
	if _, err := c.catalog.GetProvider(ctx, providerID); err != nil {
		return model.LiveStatus{}, err
	}
	if err := c.live.Update(ctx, providerID, patch); err != nil {
		return model.LiveStatus{}, err
	}
	return c.live.Get(ctx, providerID)
}

// PublishAvailability fans an availability announcement out to every
// subscriber of the provider.
func (c *Coordinator) PublishAvailability(ctx context.Context, id auth.Identity, providerID int64, in AvailabilityInput) (AvailabilityResult, error) {
	if !id.CanManage(providerID) {
		return AvailabilityResult{}, fmt.Errorf("publish availability for provider %d: %w", providerID, apperr.ErrForbidden)
	}
	if _, err := c.catalog.GetProvider(ctx, providerID); err != nil {
		return AvailabilityResult{}, err
	}

	key, err := parse.PhoneKey(in.Phone)
	if err != nil {
		return AvailabilityResult{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	day, display, err := parse.AvailabilityDate(in.Date)
	if err != nil {
		return AvailabilityResult{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if len(in.TimeSlots) == 0 {
		return AvailabilityResult{}, fmt.Errorf("no time slots: %w", apperr.ErrInvalidInput)
	}

	q := url.Values{}
	q.Set("date", day.Format(time.DateOnly))
	q.Set("staff", key)
	bookingURL := fmt.Sprintf("/shops/%d/slots?%s", providerID, q.Encode())
	queued := c.notifier.Dispatch(notification.Message{
		Kind:       notification.KindAvailability,
		Template:   notification.TemplateAvailabilityUpdate,
		ProviderID: providerID,
		Vars: map[string]string{
			"staff_name":  in.StaffName,
			"date":        display,
			"time_slots":  strings.Join(in.TimeSlots, ", "),
			"booking_url": bookingURL,
		},
		At: c.now(),
	})
	return AvailabilityResult{StaffKey: key, BookingURL: bookingURL, Queued: queued}, nil
}
