package api

import (
	"context"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/notification"
)

// Watcher subscribes to Pub/Sub channels. *redis.Client satisfies it.
type Watcher interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// WithWatch enables GET /queue/:provider_id/watch, relaying the queue length
// events the notification workers publish under channelPrefix.
func (h *Handler) WithWatch(w Watcher, channelPrefix string) *Handler {
	h.watcher = w
	h.watchPrefix = channelPrefix
	return h
}

// WatchQueue handles GET /queue/:provider_id/watch. The current length is
// sent first, then every published change until the client disconnects.
func (h *Handler) WatchQueue(c *gin.Context) {
	providerID, ok := pathID(c, "provider_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sub := h.watcher.Subscribe(ctx, notification.WatchChannel(h.watchPrefix, providerID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		respondError(c, fmt.Errorf("watch provider %d: %w: %v", providerID, apperr.ErrQueueStoreUnavailable, err))
		return
	}

	status, err := h.queue.Status(ctx, providerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("queue_length", notification.QueueLengthEvent{
		ProviderID:  providerID,
		QueueLength: status.QueueLength,
		Timestamp:   status.Timestamp,
	})
	c.Writer.Flush()

	events := sub.Channel()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("queue_length", msg.Payload)
			return true
		}
	})
}
