package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"shopqueue-backend/internal/api"
	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/auth"
	"shopqueue-backend/internal/coordinator"
	"shopqueue-backend/internal/db"
	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/health"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/model"
	"shopqueue-backend/internal/nearby"
	"shopqueue-backend/internal/notification"
	"shopqueue-backend/internal/queue"
	"shopqueue-backend/internal/store"
)

const keyPrefix = "it:"

// flakyLive fails every read while broken is set.
type flakyLive struct {
	live.Store
	broken bool
}

func (f *flakyLive) Get(ctx context.Context, providerID int64) (model.LiveStatus, error) {
	if f.broken {
		return model.LiveStatus{}, fmt.Errorf("get live status: %w", apperr.ErrLiveDataUnavailable)
	}
	return f.Store.Get(ctx, providerID)
}

type system struct {
	router   *gin.Engine
	rdb      *redis.Client
	live     *flakyLive
	verifier *auth.HMACVerifier
}

func newSystem(t *testing.T) *system {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(testDB))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	catalog := store.NewGormStore(testDB)
	liveStore := &flakyLive{Store: live.NewGormStore(testDB)}
	queueStore := queue.NewRedisStore(rdb, keyPrefix)
	index := geo.NewMemoryIndex()

	pool := notification.NewWorkerPool(1, 64, testDB, &webpush.Options{}, rdb, keyPrefix)
	pool.Start(ctx)

	coord := coordinator.New(queueStore, liveStore, catalog, pool, 15, coordinator.WithGeoWriter(index))
	checker := health.NewChecker(time.Second, map[string]health.Pinger{
		"geo_store":   catalog,
		"queue_store": queueStore,
	})
	verifier := auth.NewHMACVerifier("integration-secret", "shopqueue")
	h := api.NewHandler(catalog, nearby.NewService(index, liveStore, 4), coord, coord, coord, checker,
		&webpush.Options{VAPIDPublicKey: "pub"}, api.Options{RateLimitPerSec: 1000, RateLimitBurst: 1000}).
		WithWatch(rdb, keyPrefix)

	return &system{router: api.NewRouter(h, verifier), rdb: rdb, live: liveStore, verifier: verifier}
}

func (s *system) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := s.verifier.Issue(id, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *system) call(t *testing.T, method, path, token, body string, out any) int {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

// TestQueueLifecycle registers a shop, finds it nearby, queues two customers
// and checks that search, status and watcher events follow the queue.
func TestQueueLifecycle(t *testing.T) {
	s := newSystem(t)
	ctx := context.Background()
	admin := s.token(t, auth.Identity{Subject: "root", Role: auth.RoleAdmin})
	alice := s.token(t, auth.Identity{Subject: "alice", Role: auth.RoleCustomer})
	bob := s.token(t, auth.Identity{Subject: "bob", Role: auth.RoleCustomer})

	var provider model.Provider
	code := s.call(t, http.MethodPost, "/providers", admin,
		`{"name":"Downtown Cuts","address":"1 City Hall Sq","phone":"617-555-0100","latitude":42.3601,"longitude":-71.0589}`, &provider)
	require.Equal(t, http.StatusCreated, code)
	require.NotZero(t, provider.ID)

	var results []nearby.Result
	code = s.call(t, http.MethodGet, "/shops?lat=42.36&lng=-71.06&radius=5000", "", "", &results)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, results, 1)
	assert.Equal(t, provider.ID, results[0].ID)
	assert.False(t, results[0].IsOpen)
	assert.Zero(t, results[0].QueueLength)
	assert.Less(t, results[0].DistanceMeters, 500.0)
	assert.False(t, results[0].LiveDataStale)

	sub := s.rdb.Subscribe(ctx, notification.WatchChannel(keyPrefix, provider.ID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	events := sub.Channel()

	joinPath := fmt.Sprintf("/queue/%d/join", provider.ID)
	var joined coordinator.JoinResult
	code = s.call(t, http.MethodPost, joinPath, alice, "", &joined)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, coordinator.JoinResult{Position: 1, EstimatedWaitMinutes: 15}, joined)

	select {
	case msg := <-events:
		var ev notification.QueueLengthEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, provider.ID, ev.ProviderID)
		assert.Equal(t, 1, ev.QueueLength)
	case <-time.After(2 * time.Second):
		t.Fatal("no queue length event published")
	}

	var errBody map[string]string
	code = s.call(t, http.MethodPost, joinPath, alice, "", &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "AlreadyQueued", errBody["error"])

	var status coordinator.StatusResult
	code = s.call(t, http.MethodGet, fmt.Sprintf("/queue/%d", provider.ID), "", "", &status)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, status.QueueLength)

	code = s.call(t, http.MethodPost, joinPath, bob, "", &joined)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, coordinator.JoinResult{Position: 2, EstimatedWaitMinutes: 30}, joined)

	code = s.call(t, http.MethodGet, "/shops?lat=42.36&lng=-71.06&radius=5000", "", "", &results)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].QueueLength)
	assert.Equal(t, 30, results[0].WaitTimeMinutes)

	code = s.call(t, http.MethodPost, fmt.Sprintf("/queue/%d/leave", provider.ID), alice, "", nil)
	require.Equal(t, http.StatusNoContent, code)

	var pos coordinator.PositionResult
	code = s.call(t, http.MethodGet, fmt.Sprintf("/queue/%d/position", provider.ID), bob, "", &pos)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, coordinator.PositionResult{Position: 1, QueueLength: 1, EstimatedWaitMinutes: 15}, pos)

	code = s.call(t, http.MethodGet, fmt.Sprintf("/queue/%d/position", provider.ID), alice, "", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotQueued", errBody["error"])
}

// TestSearchSurvivesLiveOutage checks that a failing live store degrades
// search results instead of failing the request.
func TestSearchSurvivesLiveOutage(t *testing.T) {
	s := newSystem(t)
	admin := s.token(t, auth.Identity{Subject: "root", Role: auth.RoleAdmin})

	var provider model.Provider
	code := s.call(t, http.MethodPost, "/providers", admin,
		`{"name":"Downtown Cuts","address":"1 City Hall Sq","latitude":42.3601,"longitude":-71.0589}`, &provider)
	require.Equal(t, http.StatusCreated, code)

	s.live.broken = true

	var results []nearby.Result
	code = s.call(t, http.MethodGet, "/shops?lat=42.36&lng=-71.06&radius=5000", "", "", &results)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, results, 1)
	assert.True(t, results[0].LiveDataStale)
	assert.False(t, results[0].IsOpen)
	assert.Equal(t, []string{}, results[0].AvailableStaff)
}

// TestStaffFlow covers status updates, serving a customer and disabling a
// shop.
func TestStaffFlow(t *testing.T) {
	s := newSystem(t)
	admin := s.token(t, auth.Identity{Subject: "root", Role: auth.RoleAdmin})
	alice := s.token(t, auth.Identity{Subject: "alice", Role: auth.RoleCustomer})

	var provider model.Provider
	code := s.call(t, http.MethodPost, "/providers", admin,
		`{"name":"Harbor Barbers","address":"2 Atlantic Ave","latitude":42.359,"longitude":-71.05}`, &provider)
	require.Equal(t, http.StatusCreated, code)
	staff := s.token(t, auth.Identity{Subject: "sam", Role: auth.RoleStaff, ProviderID: provider.ID})

	var status model.LiveStatus
	code = s.call(t, http.MethodPatch, fmt.Sprintf("/providers/%d/status", provider.ID), staff,
		`{"is_open":true,"available_staff":["Sam"]}`, &status)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, status.IsOpen)

	code = s.call(t, http.MethodPatch, fmt.Sprintf("/providers/%d/status", provider.ID), alice, `{"is_open":false}`, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code = s.call(t, http.MethodPost, fmt.Sprintf("/queue/%d/join", provider.ID), alice, "", nil)
	require.Equal(t, http.StatusCreated, code)

	var listed struct {
		Entries []model.QueueEntry `json:"entries"`
	}
	code = s.call(t, http.MethodGet, fmt.Sprintf("/queue/%d/entries", provider.ID), staff, "", &listed)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, listed.Entries, 1)
	assert.Equal(t, "alice", listed.Entries[0].CustomerID)

	code = s.call(t, http.MethodPost, fmt.Sprintf("/queue/%d/complete", provider.ID), staff, `{"customer_id":"alice"}`, nil)
	require.Equal(t, http.StatusNoContent, code)

	var results []nearby.Result
	code = s.call(t, http.MethodGet, "/shops?lat=42.36&lng=-71.06&radius=5000", "", "", &results)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsOpen)
	assert.Equal(t, []string{"Sam"}, results[0].AvailableStaff)
	assert.Zero(t, results[0].QueueLength)

	code = s.call(t, http.MethodDelete, fmt.Sprintf("/providers/%d", provider.ID), admin, "", nil)
	require.Equal(t, http.StatusNoContent, code)

	code = s.call(t, http.MethodGet, "/shops?lat=42.36&lng=-71.06&radius=5000", "", "", &results)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, results)

	code = s.call(t, http.MethodGet, fmt.Sprintf("/shops/%d", provider.ID), "", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthReportsComponents(t *testing.T) {
	s := newSystem(t)

	var report health.Report
	code := s.call(t, http.MethodGet, "/health", "", "", &report)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, map[string]string{"geo_store": "ok", "queue_store": "ok"}, report.Components)

	require.NoError(t, s.rdb.Close())
	code = s.call(t, http.MethodGet, "/health", "", "", &report)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "down", report.Components["queue_store"])
}

func TestUnknownProviderJoin(t *testing.T) {
	s := newSystem(t)
	alice := s.token(t, auth.Identity{Subject: "alice", Role: auth.RoleCustomer})

	var errBody map[string]string
	code := s.call(t, http.MethodPost, "/queue/12345/join", alice, "", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ProviderNotFound", errBody["error"])
}

func TestRegisterProviderRequiresLocation(t *testing.T) {
	s := newSystem(t)
	admin := s.token(t, auth.Identity{Subject: "root", Role: auth.RoleAdmin})

	var errBody map[string]string
	code := s.call(t, http.MethodPost, "/providers", admin, `{"name":"Nowhere Cuts","address":"Null Island"}`, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidCoordinate", errBody["error"])

	var results []nearby.Result
	code = s.call(t, http.MethodGet, "/shops?lat=0&lng=0&radius=1000", "", "", &results)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, results)
}

// TestBookingFlow follows a published booking link, books the first free
// slot with that staff member, and cancels it again.
func TestBookingFlow(t *testing.T) {
	s := newSystem(t)
	admin := s.token(t, auth.Identity{Subject: "root", Role: auth.RoleAdmin})
	alice := s.token(t, auth.Identity{Subject: "alice", Role: auth.RoleCustomer})
	bob := s.token(t, auth.Identity{Subject: "bob", Role: auth.RoleCustomer})

	var provider model.Provider
	code := s.call(t, http.MethodPost, "/providers", admin,
		`{"name":"Downtown Cuts","address":"1 City Hall Sq","latitude":42.3601,"longitude":-71.0589}`, &provider)
	require.Equal(t, http.StatusCreated, code)
	staff := s.token(t, auth.Identity{Subject: "sam", Role: auth.RoleStaff, ProviderID: provider.ID})

	date := time.Now().UTC().AddDate(0, 0, 1).Format(time.DateOnly)
	var published coordinator.AvailabilityResult
	code = s.call(t, http.MethodPost, fmt.Sprintf("/providers/%d/availability", provider.ID), staff,
		fmt.Sprintf(`{"phone":"617-555-0100","staff_name":"Sam","date":%q,"time_slots":["09:00","09:30"]}`, date), &published)
	require.Equal(t, http.StatusAccepted, code)

	var slots coordinator.SlotsResult
	code = s.call(t, http.MethodGet, published.BookingURL, "", "", &slots)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, date, slots.Date)
	assert.Equal(t, published.StaffKey, slots.StaffKey)
	require.Len(t, slots.Slots, 16)
	assert.Equal(t, "09:00", slots.Slots[0])

	booking := fmt.Sprintf(`{"provider_id":%d,"starts_at":"%sT09:00:00Z","staff_key":%q,"service":"Haircut"}`,
		provider.ID, date, published.StaffKey)
	var appt model.Appointment
	code = s.call(t, http.MethodPost, "/appointments", alice, booking, &appt)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "alice", appt.CustomerID)
	assert.Equal(t, model.AppointmentScheduled, appt.Status)

	var errBody map[string]string
	code = s.call(t, http.MethodPost, "/appointments", bob, booking, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SlotUnavailable", errBody["error"])

	code = s.call(t, http.MethodGet, published.BookingURL, "", "", &slots)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, slots.Slots, "09:00")

	var listed struct {
		Appointments []model.Appointment `json:"appointments"`
	}
	code = s.call(t, http.MethodGet, "/appointments", alice, "", &listed)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, listed.Appointments, 1)
	assert.Equal(t, appt.ID, listed.Appointments[0].ID)

	code = s.call(t, http.MethodDelete, fmt.Sprintf("/appointments/%d", appt.ID), bob, "", &errBody)
	assert.Equal(t, http.StatusNotFound, code)

	code = s.call(t, http.MethodDelete, fmt.Sprintf("/appointments/%d", appt.ID), staff, "", &appt)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.AppointmentCancelled, appt.Status)

	code = s.call(t, http.MethodPost, "/appointments", bob, booking, &appt)
	assert.Equal(t, http.StatusCreated, code)
}
