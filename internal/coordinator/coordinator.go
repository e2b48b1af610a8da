// Package coordinator turns queue joins and leaves into a consistent
// position, a refreshed live status and one-way notifications.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/auth"
	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/metrics"
	"shopqueue-backend/internal/model"
	"shopqueue-backend/internal/notification"
	"shopqueue-backend/internal/queue"
)

// upcomingWindow is how many customers at the head of a queue are told
// their new position after someone leaves.
const upcomingWindow = 3

// Catalog is the subset of the provider catalog and appointment book the
// coordinator needs.
type Catalog interface {
	CreateProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id int64) (model.Provider, error)
	DisableProvider(ctx context.Context, id int64) error

	CreateAppointment(ctx context.Context, a *model.Appointment) error
	GetAppointment(ctx context.Context, id int64) (model.Appointment, error)
	ListAppointments(ctx context.Context, customerID string) ([]model.Appointment, error)
	CancelAppointment(ctx context.Context, id int64) (model.Appointment, error)
	BookedSlots(ctx context.Context, providerID int64, staffKey string, from, to time.Time) ([]time.Time, error)
}

// Dispatcher accepts one-way notification messages.
type Dispatcher interface {
	Dispatch(msg notification.Message) bool
}

// Coordinator orchestrates queue state changes.
type Coordinator struct {
	queue      queue.Store
	live       live.Store
	catalog    Catalog
	notifier   Dispatcher
	geo        geo.Writer
	avgMinutes int
	schedule   Schedule
	now        func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGeoWriter keeps an in-process geo index in step with registrations.
func WithGeoWriter(w geo.Writer) Option {
	return func(c *Coordinator) { c.geo = w }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator. avgMinutes is the average service time per
// customer used for wait estimates.
func New(q queue.Store, l live.Store, catalog Catalog, notifier Dispatcher, avgMinutes int, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:      q,
		live:       l,
		catalog:    catalog,
		notifier:   notifier,
		avgMinutes: avgMinutes,
		schedule:   DefaultSchedule(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JoinResult is returned by a successful join.
type JoinResult struct {
	Position             int `json:"position"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

// PositionResult is a customer's read-time view of a queue.
type PositionResult struct {
	Position             int `json:"position"`
	QueueLength          int `json:"queue_length"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

// StatusResult is the public view of a queue.
type StatusResult struct {
	QueueLength int       `json:"queue_length"`
	Timestamp   time.Time `json:"timestamp"`
}

// Join puts the caller at the tail of the provider's queue. The returned
// position is the queue length right after the append.
func (c *Coordinator) Join(ctx context.Context, id auth.Identity, providerID int64) (JoinResult, error) {
	if _, err := c.catalog.GetProvider(ctx, providerID); err != nil {
		return JoinResult{}, err
	}

	position, err := c.queue.Join(ctx, providerID, id.Subject)
	if err != nil {
		c.count("join", err)
		return JoinResult{}, err
	}
	c.count("join", nil)

	res := JoinResult{Position: position, EstimatedWaitMinutes: c.estimate(position)}
	log.WithFields(log.Fields{"provider_id": providerID, "customer_id": id.Subject, "position": position}).Info("customer joined queue")

	c.refreshLive(ctx, providerID, position)
	c.notifier.Dispatch(notification.Message{
		Kind:        notification.KindQueuePosition,
		Template:    notification.TemplateQueueJoined,
		ProviderID:  providerID,
		CustomerID:  id.Subject,
		Position:    position,
		WaitMinutes: res.EstimatedWaitMinutes,
		At:          c.now(),
	})
	c.notifyWatchers(providerID, position)
	return res, nil
}

// Leave cancels the caller's place in the queue.
func (c *Coordinator) Leave(ctx context.Context, id auth.Identity, providerID int64) error {
	return c.remove(ctx, "leave", providerID, id.Subject)
}

// Complete marks a waiting customer as served. Only the provider's staff
// may do this.
func (c *Coordinator) Complete(ctx context.Context, id auth.Identity, providerID int64, customerID string) error {
	if !id.CanManage(providerID) {
		return fmt.Errorf("complete in queue %d: %w", providerID, apperr.ErrForbidden)
	}
	return c.remove(ctx, "complete", providerID, customerID)
}

func (c *Coordinator) remove(ctx context.Context, op string, providerID int64, customerID string) error {
	removed, err := c.queue.Leave(ctx, providerID, customerID)
	if err != nil {
		c.count(op, err)
		return err
	}
	if !removed {
		err := fmt.Errorf("customer %s in queue %d: %w", customerID, providerID, apperr.ErrNotQueued)
		c.count(op, err)
		return err
	}
	c.count(op, nil)
	log.WithFields(log.Fields{"provider_id": providerID, "customer_id": customerID, "op": op}).Info("customer left queue")

	c.afterShrink(ctx, providerID)
	return nil
}

// afterShrink refreshes the live status and tells watchers and the head of
// the queue about the new state. Failures here never undo the removal.
func (c *Coordinator) afterShrink(ctx context.Context, providerID int64) {
	entries, err := c.queue.Entries(ctx, providerID)
	if err != nil {
		log.WithError(err).WithField("provider_id", providerID).Warn("could not read queue after removal")
		return
	}

	c.refreshLive(ctx, providerID, len(entries))
	c.notifyWatchers(providerID, len(entries))
	for _, e := range entries {
		if e.Position > upcomingWindow {
			break
		}
		c.notifier.Dispatch(notification.Message{
			Kind:        notification.KindQueuePosition,
			Template:    notification.TemplateQueueUpdate,
			ProviderID:  providerID,
			CustomerID:  e.CustomerID,
			Position:    e.Position,
			WaitMinutes: c.estimate(e.Position),
			At:          c.now(),
		})
	}
}

// Status returns the provider's current queue length.
func (c *Coordinator) Status(ctx context.Context, providerID int64) (StatusResult, error) {
	if _, err := c.catalog.GetProvider(ctx, providerID); err != nil {
		return StatusResult{}, err
	}
	n, err := c.queue.Length(ctx, providerID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{QueueLength: n, Timestamp: c.now()}, nil
}

// Position returns the caller's read-time position.
func (c *Coordinator) Position(ctx context.Context, id auth.Identity, providerID int64) (PositionResult, error) {
	pos, found, err := c.queue.Position(ctx, providerID, id.Subject)
	if err != nil {
		return PositionResult{}, err
	}
	if !found {
		return PositionResult{}, fmt.Errorf("customer %s in queue %d: %w", id.Subject, providerID, apperr.ErrNotQueued)
	}
	n, err := c.queue.Length(ctx, providerID)
	if err != nil {
		return PositionResult{}, err
	}
	return PositionResult{Position: pos, QueueLength: n, EstimatedWaitMinutes: c.estimate(pos)}, nil
}

// Entries lists the queue for the provider's staff.
func (c *Coordinator) Entries(ctx context.Context, id auth.Identity, providerID int64) ([]model.QueueEntry, error) {
	if !id.CanManage(providerID) {
		return nil, fmt.Errorf("list queue %d: %w", providerID, apperr.ErrForbidden)
	}
	return c.queue.Entries(ctx, providerID)
}

func (c *Coordinator) estimate(position int) int {
	return position * c.avgMinutes
}

func (c *Coordinator) refreshLive(ctx context.Context, providerID int64, length int) {
	metrics.QueueLength.WithLabelValues(strconv.FormatInt(providerID, 10)).Set(float64(length))

	wait := c.estimate(length)
	err := c.live.Update(ctx, providerID, live.Patch{QueueSize: &length, EstimatedWaitMinutes: &wait})
	if err != nil {
		log.WithError(err).WithField("provider_id", providerID).Warn("live status refresh failed")
	}
}

func (c *Coordinator) notifyWatchers(providerID int64, length int) {
	c.notifier.Dispatch(notification.Message{
		Kind:        notification.KindQueueLength,
		ProviderID:  providerID,
		QueueLength: length,
		At:          c.now(),
	})
}

func (c *Coordinator) count(op string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrAlreadyQueued):
		status = "duplicate"
	case errors.Is(err, apperr.ErrNotQueued):
		status = "not_queued"
	default:
		status = "error"
	}
	metrics.QueueOperations.WithLabelValues(op, status).Inc()
}
