package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/auth"
	"shopqueue-backend/internal/metrics"
	"shopqueue-backend/internal/model"
	"shopqueue-backend/internal/notification"
	"shopqueue-backend/internal/parse"
)

const maxServiceLength = 128

// Schedule is the daily booking grid shared by every provider. Open and
// Close are offsets from local midnight; the last slot starts before Close.
type Schedule struct {
	Open     time.Duration
	Close    time.Duration
	Slot     time.Duration
	Location *time.Location
	MaxAhead time.Duration
}

// DefaultSchedule is 09:00 to 17:00 UTC in 30 minute slots, bookable 60
// days ahead.
func DefaultSchedule() Schedule {
	return Schedule{
		Open:     9 * time.Hour,
		Close:    17 * time.Hour,
		Slot:     30 * time.Minute,
		Location: time.UTC,
		MaxAhead: 60 * 24 * time.Hour,
	}
}

// NewSchedule builds a schedule from "HH:MM" opening hours in the named
// time zone.
func NewSchedule(open, close string, slotMinutes int, timezone string, maxDaysAhead int) (Schedule, error) {
	o, err := clockOffset(open)
	if err != nil {
		return Schedule{}, err
	}
	c, err := clockOffset(close)
	if err != nil {
		return Schedule{}, err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Schedule{}, fmt.Errorf("booking timezone: %w", err)
	}
	slot := time.Duration(slotMinutes) * time.Minute
	if slot <= 0 || c-o < slot {
		return Schedule{}, fmt.Errorf("booking hours %s-%s cannot hold a %d minute slot", open, close, slotMinutes)
	}
	if maxDaysAhead <= 0 {
		return Schedule{}, fmt.Errorf("max_days_ahead must be positive, got %d", maxDaysAhead)
	}
	return Schedule{Open: o, Close: c, Slot: slot, Location: loc, MaxAhead: time.Duration(maxDaysAhead) * 24 * time.Hour}, nil
}

func clockOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, fmt.Errorf("invalid booking time %q: %w", hhmm, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// starts returns every slot start of the day in local wall-clock time.
func (s Schedule) starts(year int, month time.Month, day int) []time.Time {
	var out []time.Time
	for off := s.Open; off < s.Close; off += s.Slot {
		out = append(out, time.Date(year, month, day, 0, int(off/time.Minute), 0, 0, s.Location))
	}
	return out
}

func (s Schedule) onGrid(t time.Time) bool {
	local := t.In(s.Location)
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	off := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute
	return off >= s.Open && off < s.Close && (off-s.Open)%s.Slot == 0
}

// WithSchedule sets the booking grid.
func WithSchedule(s Schedule) Option {
	return func(c *Coordinator) { c.schedule = s }
}

// SlotsResult lists the free start times of one day.
type SlotsResult struct {
	ProviderID int64    `json:"provider_id"`
	Date       string   `json:"date"`
	StaffKey   string   `json:"staff_key,omitempty"`
	Slots      []string `json:"slots"`
}

// BookingInput requests one slot with a provider, optionally with a specific
// staff member.
type BookingInput struct {
	ProviderID int64     `json:"provider_id" binding:"required"`
	StartsAt   time.Time `json:"starts_at" binding:"required"`
	StaffKey   string    `json:"staff_key"`
	Service    string    `json:"service"`
}

// Slots returns the free slots of the provider on date (YYYY-MM-DD). Past
// slots, slots beyond the booking horizon and booked slots are left out.
func (c *Coordinator) Slots(ctx context.Context, providerID int64, date, staffKey string) (SlotsResult, error) {
	if staffKey != "" && !parse.IsStaffKey(staffKey) {
		return SlotsResult{}, fmt.Errorf("staff key %q: %w", staffKey, apperr.ErrInvalidInput)
	}
	day, _, err := parse.AvailabilityDate(date)
	if err != nil {
		return SlotsResult{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if _, err := c.catalog.GetProvider(ctx, providerID); err != nil {
		return SlotsResult{}, err
	}

	grid := c.schedule.starts(day.Year(), day.Month(), day.Day())
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.schedule.Location)
	booked, err := c.catalog.BookedSlots(ctx, providerID, staffKey, from, from.AddDate(0, 0, 1))
	if err != nil {
		return SlotsResult{}, err
	}
	taken := make(map[int64]bool, len(booked))
	for _, b := range booked {
		taken[b.Unix()] = true
	}

	now := c.now()
	res := SlotsResult{ProviderID: providerID, Date: day.Format(time.DateOnly), StaffKey: staffKey, Slots: []string{}}
	for _, start := range grid {
		if !c.bookable(start, now) || taken[start.Unix()] {
			continue
		}
		res.Slots = append(res.Slots, start.Format("15:04"))
	}
	return res, nil
}

func (c *Coordinator) bookable(start, now time.Time) bool {
	return start.After(now) && !start.After(now.Add(c.schedule.MaxAhead))
}

// Book reserves a slot for the calling customer and sends a confirmation.
func (c *Coordinator) Book(ctx context.Context, id auth.Identity, in BookingInput) (model.Appointment, error) {
	if id.Role != auth.RoleCustomer {
		return model.Appointment{}, fmt.Errorf("book appointment: %w", apperr.ErrForbidden)
	}
	if in.StaffKey != "" && !parse.IsStaffKey(in.StaffKey) {
		return model.Appointment{}, fmt.Errorf("staff key %q: %w", in.StaffKey, apperr.ErrInvalidInput)
	}
	service := strings.TrimSpace(in.Service)
	if len(service) > maxServiceLength {
		return model.Appointment{}, fmt.Errorf("service name too long: %w", apperr.ErrInvalidInput)
	}
	if !c.schedule.onGrid(in.StartsAt) || !c.bookable(in.StartsAt, c.now()) {
		err := fmt.Errorf("start %s: %w", in.StartsAt.Format(time.RFC3339), apperr.ErrInvalidSlot)
		c.countAppointment("book", err)
		return model.Appointment{}, err
	}
	if _, err := c.catalog.GetProvider(ctx, in.ProviderID); err != nil {
		return model.Appointment{}, err
	}

	a := model.Appointment{
		ProviderID: in.ProviderID,
		CustomerID: id.Subject,
		StaffKey:   in.StaffKey,
		Service:    service,
		StartsAt:   in.StartsAt,
	}
	if err := c.catalog.CreateAppointment(ctx, &a); err != nil {
		c.countAppointment("book", err)
		return model.Appointment{}, err
	}
	c.countAppointment("book", nil)
	log.WithFields(log.Fields{"provider_id": a.ProviderID, "customer_id": a.CustomerID, "appointment_id": a.ID}).Info("appointment booked")

	c.notifyAppointment(a, notification.TemplateAppointmentBooked)
	return a, nil
}

// Appointments lists the caller's own appointments.
func (c *Coordinator) Appointments(ctx context.Context, id auth.Identity) ([]model.Appointment, error) {
	return c.catalog.ListAppointments(ctx, id.Subject)
}

// CancelAppointment cancels an appointment on behalf of its customer or the
// provider's staff. Anyone else sees it as missing.
func (c *Coordinator) CancelAppointment(ctx context.Context, id auth.Identity, appointmentID int64) (model.Appointment, error) {
	a, err := c.catalog.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if a.CustomerID != id.Subject && !id.CanManage(a.ProviderID) {
		return model.Appointment{}, fmt.Errorf("appointment %d: %w", appointmentID, apperr.ErrAppointmentNotFound)
	}
	if a.Status != model.AppointmentScheduled {
		return a, nil
	}

	a, err = c.catalog.CancelAppointment(ctx, appointmentID)
	if err != nil {
		c.countAppointment("cancel", err)
		return model.Appointment{}, err
	}
	c.countAppointment("cancel", nil)
	log.WithFields(log.Fields{"appointment_id": a.ID, "by": id.Subject}).Info("appointment cancelled")

	c.notifyAppointment(a, notification.TemplateAppointmentCancel)
	return a, nil
}

func (c *Coordinator) notifyAppointment(a model.Appointment, template string) {
	local := a.StartsAt.In(c.schedule.Location)
	c.notifier.Dispatch(notification.Message{
		Kind:       notification.KindAppointment,
		Template:   template,
		ProviderID: a.ProviderID,
		CustomerID: a.CustomerID,
		Vars: map[string]string{
			"date": local.Format("January 02, 2006"),
			"time": local.Format("15:04"),
		},
		At: c.now(),
	})
}

func (c *Coordinator) countAppointment(op string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrSlotUnavailable):
		status = "taken"
	case errors.Is(err, apperr.ErrInvalidSlot):
		status = "invalid"
	default:
		status = "error"
	}
	metrics.Appointments.WithLabelValues(op, status).Inc()
}
