package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"shopqueue-backend/internal/coordinator"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/mw"
)

// RegisterProvider handles POST /providers.
func (h *Handler) RegisterProvider(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req coordinator.ProviderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c)
		return
	}

	p, err := h.providers.RegisterProvider(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// DisableProvider handles DELETE /providers/:id.
func (h *Handler) DisableProvider(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.providers.DisableProvider(c.Request.Context(), id, providerID); err != nil {
		respondError(c, err)
		return
	}
	mw.Invalidate(h.cache, fmt.Sprintf("/shops/%d", providerID))
	c.Status(http.StatusNoContent)
}

// UpdateStatus handles PATCH /providers/:id/status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch live.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		invalidInput(c)
		return
	}

	status, err := h.providers.UpdateStatus(c.Request.Context(), id, providerID, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PublishAvailability handles POST /providers/:id/availability.
func (h *Handler) PublishAvailability(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req coordinator.AvailabilityInput
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c)
		return
	}

	res, err := h.providers.PublishAvailability(c.Request.Context(), id, providerID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}
