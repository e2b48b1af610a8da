// Package health reports whether the stores the service depends on answer.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Pinger is implemented by every checked component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Report is the body of the health endpoint.
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Checker pings a fixed set of named components.
type Checker struct {
	components map[string]Pinger
	timeout    time.Duration
}

// NewChecker creates a checker. Each ping gets at most timeout.
func NewChecker(timeout time.Duration, components map[string]Pinger) *Checker {
	return &Checker{components: components, timeout: timeout}
}

// Check pings every component. A panicking component is reported down.
func (c *Checker) Check(ctx context.Context) Report {
	r := Report{Status: StatusOK, Components: make(map[string]string, len(c.components))}
	for name, p := range c.components {
		if err := c.ping(ctx, p); err != nil {
			log.WithError(err).WithField("component", name).Warn("health check failed")
			r.Components[name] = StatusDown
			r.Status = StatusDegraded
			continue
		}
		r.Components[name] = StatusOK
	}
	return r
}

func (c *Checker) ping(ctx context.Context, p Pinger) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return p.Ping(ctx)
}

// HTTPStatus is 200 when every component is up and 503 otherwise.
func (r Report) HTTPStatus() int {
	if r.Status == StatusOK {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
