package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JoinQueue handles POST /queue/:provider_id/join.
func (h *Handler) JoinQueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "provider_id")
	if !ok {
		return
	}

	res, err := h.queue.Join(c.Request.Context(), id, providerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// LeaveQueue handles POST /queue/:provider_id/leave.
func (h *Handler) LeaveQueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "provider_id")
	if !ok {
		return
	}

	if err := h.queue.Leave(c.Request.Context(), id, providerID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type completeRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
}

// CompleteCustomer handles POST /queue/:provider_id/complete.
func (h *Handler) CompleteCustomer(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "provider_id")
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c)
		return
	}

	if err := h.queue.Complete(c.Request.Context(), id, providerID, req.CustomerID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// QueueStatus handles GET /queue/:provider_id.
func (h *Handler) QueueStatus(c *gin.Context) {
	providerID, ok := pathID(c, "provider_id")
	if !ok {
		return
	}

	res, err := h.queue.Status(c.Request.Context(), providerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// QueuePosition handles GET /queue/:provider_id/position.
func (h *Handler) QueuePosition(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "provider_id")
	if !ok {
		return
	}

	res, err := h.queue.Position(c.Request.Context(), id, providerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// QueueEntries handles GET /queue/:provider_id/entries.
func (h *Handler) QueueEntries(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	providerID, ok := pathID(c, "provider_id")
	if !ok {
		return
	}

	entries, err := h.queue.Entries(c.Request.Context(), id, providerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
