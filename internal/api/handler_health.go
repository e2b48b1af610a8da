package api

import "github.com/gin-gonic/gin"

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	c.JSON(report.HTTPStatus(), report)
}
