package api

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"shopqueue-backend/internal/model"
	"shopqueue-backend/internal/notification"
	"shopqueue-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint            string  `json:"endpoint" binding:"required"`
	P256DH              string  `json:"p256dh" binding:"required"`
	Auth                string  `json:"auth" binding:"required"`
	Language            string  `json:"language"`
	SubscribedProviders []int64 `json:"subscribed_providers"`
}

// PutSubscription handles the creation or replacement of a subscription. The
// subscription is bound to the caller so queue updates can reach them; an
// endpoint already bound to another customer is refused.
func (h *Handler) PutSubscription(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c)
		return
	}
	if req.Language != "" && !slices.Contains(notification.Languages, req.Language) {
		invalidInput(c)
		return
	}

	subscription := model.PushSubscription{
		Endpoint:   req.Endpoint,
		P256DH:     req.P256DH,
		Auth:       req.Auth,
		CustomerID: id.Subject,
		Language:   req.Language,
	}
	if err := h.store.PutSubscription(c.Request.Context(), subscription, req.SubscribedProviders); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of one of the caller's
// subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c)
		return
	}

	err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint, id.Subject)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "SubscriptionNotFound"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam returns a query value without URL decoding. Push endpoints
// carry escaped tokens that must be matched byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription handles the retrieval of one of the caller's
// subscriptions. Endpoints owned by someone else read as missing.
func (h *Handler) GetSubscription(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		invalidInput(c)
		return
	}

	subscription, err := h.store.GetSubscription(c.Request.Context(), raw, id.Subject)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "SubscriptionNotFound"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	providerIDs := make([]int64, len(subscription.Providers))
	for i, provider := range subscription.Providers {
		providerIDs[i] = provider.ID
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_providers": providerIDs, "language": subscription.Language})
}
