package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func up() Pinger { return pingFunc(func(context.Context) error { return nil }) }

func TestCheck_AllUp(t *testing.T) {
	c := NewChecker(time.Second, map[string]Pinger{"geo_store": up(), "queue_store": up()})

	r := c.Check(context.Background())
	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, map[string]string{"geo_store": "ok", "queue_store": "ok"}, r.Components)
	assert.Equal(t, http.StatusOK, r.HTTPStatus())
}

func TestCheck_OneDown(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	c := NewChecker(time.Second, map[string]Pinger{"geo_store": up(), "queue_store": down})

	r := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, StatusDown, r.Components["queue_store"])
	assert.Equal(t, StatusOK, r.Components["geo_store"])
	assert.Equal(t, http.StatusServiceUnavailable, r.HTTPStatus())
}

func TestCheck_PanicIsReportedDown(t *testing.T) {
	boom := pingFunc(func(context.Context) error { panic("nil client") })
	c := NewChecker(time.Second, map[string]Pinger{"geo_store": boom})

	var r Report
	assert.NotPanics(t, func() { r = c.Check(context.Background()) })
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, StatusDown, r.Components["geo_store"])
}

func TestCheck_SlowComponentTimesOut(t *testing.T) {
	slow := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := NewChecker(20*time.Millisecond, map[string]Pinger{"queue_store": slow})

	r := c.Check(context.Background())
	assert.Equal(t, StatusDown, r.Components["queue_store"])
}
