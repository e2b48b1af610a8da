package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/coordinator"
)

// AvailableSlots handles GET /shops/:id/slots?date=YYYY-MM-DD[&staff=key].
func (h *Handler) AvailableSlots(c *gin.Context) {
	providerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	date := c.Query("date")
	if date == "" {
		invalidInput(c)
		return
	}

	res, err := h.bookings.Slots(c.Request.Context(), providerID, date, c.Query("staff"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BookAppointment handles POST /appointments.
func (h *Handler) BookAppointment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req coordinator.BookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c)
		return
	}

	a, err := h.bookings.Book(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// ListAppointments handles GET /appointments.
func (h *Handler) ListAppointments(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	appointments, err := h.bookings.Appointments(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appointments})
}

// CancelAppointment handles DELETE /appointments/:id.
func (h *Handler) CancelAppointment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	appointmentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || appointmentID <= 0 {
		respondError(c, apperr.ErrAppointmentNotFound)
		return
	}

	a, err := h.bookings.CancelAppointment(c.Request.Context(), id, appointmentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
