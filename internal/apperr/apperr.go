// Package apperr defines the error kinds that cross the service boundary and
// their mapping onto HTTP.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidCoordinate          = errors.New("InvalidCoordinate")
	ErrInvalidRadius              = errors.New("InvalidRadius")
	ErrInvalidInput               = errors.New("InvalidInput")
	ErrAlreadyQueued              = errors.New("AlreadyQueued")
	ErrNotQueued                  = errors.New("NotQueued")
	ErrProviderNotFound           = errors.New("ProviderNotFound")
	ErrLiveDataUnavailable        = errors.New("LiveDataUnavailable")
	ErrQueueStoreUnavailable      = errors.New("QueueStoreUnavailable")
	ErrGeoStoreUnavailable        = errors.New("GeoStoreUnavailable")
	ErrInvalidSlot                = errors.New("InvalidSlot")
	ErrSlotUnavailable            = errors.New("SlotUnavailable")
	ErrAppointmentNotFound        = errors.New("AppointmentNotFound")
	ErrNotificationDeliveryFailed = errors.New("NotificationDeliveryFailed")
	ErrUnauthorized               = errors.New("Unauthorized")
	ErrForbidden                  = errors.New("Forbidden")
)

var kinds = []struct {
	err    error
	status int
}{
	{ErrInvalidCoordinate, http.StatusBadRequest},
	{ErrInvalidRadius, http.StatusBadRequest},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrAlreadyQueued, http.StatusConflict},
	{ErrNotQueued, http.StatusNotFound},
	{ErrProviderNotFound, http.StatusNotFound},
	{ErrInvalidSlot, http.StatusBadRequest},
	{ErrSlotUnavailable, http.StatusConflict},
	{ErrAppointmentNotFound, http.StatusNotFound},
	{ErrQueueStoreUnavailable, http.StatusServiceUnavailable},
	{ErrGeoStoreUnavailable, http.StatusServiceUnavailable},
	// Reads recover from this one; only status writes can surface it.
	{ErrLiveDataUnavailable, http.StatusServiceUnavailable},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
}

// HTTPStatus returns the status code for err. Unknown errors are 500.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Kind returns the client-facing name of err. Errors outside the taxonomy
// are reported as "Internal" so that driver messages never leak.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err.Error()
		}
	}
	return "Internal"
}
