package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/auth"
	"shopqueue-backend/internal/coordinator"
	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/health"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/model"
	"shopqueue-backend/internal/mw"
	"shopqueue-backend/internal/nearby"
	"shopqueue-backend/internal/store"
)

// Searcher answers nearby searches with live status merged in.
type Searcher interface {
	Search(ctx context.Context, lat, lng float64, area geo.Area) ([]nearby.Result, error)
}

// QueueService is the queue side of the coordinator.
type QueueService interface {
	Join(ctx context.Context, id auth.Identity, providerID int64) (coordinator.JoinResult, error)
	Leave(ctx context.Context, id auth.Identity, providerID int64) error
	Complete(ctx context.Context, id auth.Identity, providerID int64, customerID string) error
	Status(ctx context.Context, providerID int64) (coordinator.StatusResult, error)
	Position(ctx context.Context, id auth.Identity, providerID int64) (coordinator.PositionResult, error)
	Entries(ctx context.Context, id auth.Identity, providerID int64) ([]model.QueueEntry, error)
}

// ProviderService is the provider management side of the coordinator.
type ProviderService interface {
	RegisterProvider(ctx context.Context, id auth.Identity, in coordinator.ProviderInput) (model.Provider, error)
	DisableProvider(ctx context.Context, id auth.Identity, providerID int64) error
	UpdateStatus(ctx context.Context, id auth.Identity, providerID int64, patch live.Patch) (model.LiveStatus, error)
	PublishAvailability(ctx context.Context, id auth.Identity, providerID int64, in coordinator.AvailabilityInput) (coordinator.AvailabilityResult, error)
}

// BookingService is the appointment side of the coordinator.
type BookingService interface {
	Slots(ctx context.Context, providerID int64, date, staffKey string) (coordinator.SlotsResult, error)
	Book(ctx context.Context, id auth.Identity, in coordinator.BookingInput) (model.Appointment, error)
	Appointments(ctx context.Context, id auth.Identity) ([]model.Appointment, error)
	CancelAppointment(ctx context.Context, id auth.Identity, appointmentID int64) (model.Appointment, error)
}

// Options tunes request handling.
type Options struct {
	DefaultRadiusMeters float64
	SearchTimeout       time.Duration
	RateLimitPerSec     float64
	RateLimitBurst      int
	CacheTTL            time.Duration
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store       store.Store
	search      Searcher
	queue       QueueService
	providers   ProviderService
	bookings    BookingService
	health      *health.Checker
	webpush     *webpush.Options
	cache       *cache.Cache
	watcher     Watcher
	watchPrefix string
	opts        Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, search Searcher, queue QueueService, providers ProviderService, bookings BookingService,
	checker *health.Checker, webpushOptions *webpush.Options, opts Options) *Handler {
	if opts.DefaultRadiusMeters <= 0 {
		opts.DefaultRadiusMeters = 5000
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 10
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Handler{
		store:     s,
		search:    search,
		queue:     queue,
		providers: providers,
		bookings:  bookings,
		health:    checker,
		webpush:   webpushOptions,
		cache:     cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		opts:      opts,
	}
}

// respondError writes {"error": Kind} with the mapped status. Store and driver
// messages stay in the log.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	entry := log.WithError(err).WithFields(log.Fields{
		"request_id": c.GetString(mw.RequestIDKey),
		"path":       c.FullPath(),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Kind(err)})
}

func invalidInput(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": apperr.Kind(apperr.ErrInvalidInput)})
}

// identity returns the caller verified by mw.Authenticate.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := mw.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.Kind(apperr.ErrUnauthorized)})
	}
	return id, ok
}

// pathID parses a numeric path parameter. Non-numeric ids cannot name a
// provider.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperr.ErrProviderNotFound)
		return 0, false
	}
	return id, true
}
