package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/geo"
)

// SearchShops handles GET /shops?lat=&lng=[&radius=|&minutes=].
func (h *Handler) SearchShops(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		respondError(c, apperr.ErrInvalidCoordinate)
		return
	}

	area, err := h.searchArea(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.SearchTimeout)
	defer cancel()

	results, err := h.search.Search(ctx, lat, lng, area)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) searchArea(c *gin.Context) (geo.Area, error) {
	if raw, ok := c.GetQuery("minutes"); ok {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			return geo.Area{}, apperr.ErrInvalidRadius
		}
		return geo.DriveTime(minutes), nil
	}
	if raw, ok := c.GetQuery("radius"); ok {
		meters, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return geo.Area{}, apperr.ErrInvalidRadius
		}
		return geo.Radius(meters), nil
	}
	return geo.Radius(h.opts.DefaultRadiusMeters), nil
}

// GetShop handles GET /shops/:id.
func (h *Handler) GetShop(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.store.GetProvider(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
