package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shopqueue-backend/internal/metrics"
	"shopqueue-backend/internal/model"
)

// Kind selects who receives a message and how.
type Kind string

const (
	// KindQueuePosition goes to the customer's own subscriptions.
	KindQueuePosition Kind = "queue_position"
	// KindQueueLength is published to the provider's watch channel.
	KindQueueLength Kind = "queue_length"
	// KindAvailability goes to every subscriber of the provider.
	KindAvailability Kind = "availability"
	// KindAppointment goes to the customer's own subscriptions.
	KindAppointment Kind = "appointment"
)

// Message is a one-way notification request. Delivery is at most once.
type Message struct {
	Kind        Kind
	Template    string
	ProviderID  int64
	CustomerID  string
	Position    int
	QueueLength int
	WaitMinutes int
	Vars        map[string]string
	At          time.Time
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Publisher publishes watcher events. *redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// WatchChannel is the Pub/Sub channel carrying queue length events for a provider.
func WatchChannel(prefix string, providerID int64) string {
	return fmt.Sprintf("%squeue:%d:watch", prefix, providerID)
}

// QueueLengthEvent is the payload published to watchers.
type QueueLengthEvent struct {
	ProviderID  int64     `json:"provider_id"`
	QueueLength int       `json:"queue_length"`
	Timestamp   time.Time `json:"timestamp"`
}

type pushPayload struct {
	Rendered
	Kind       Kind  `json:"kind"`
	ProviderID int64 `json:"provider_id"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size          int
	jobs          chan Message
	db            *gorm.DB
	webpush       *webpush.Options
	sender        NotificationSender
	publisher     Publisher
	channelPrefix string
}

// NewWorkerPool creates a new worker pool. Dispatch drops messages once
// buffer messages are waiting.
func NewWorkerPool(size, buffer int, db *gorm.DB, webpushOptions *webpush.Options, publisher Publisher, channelPrefix string) *WorkerPool {
	return &WorkerPool{
		size:          size,
		jobs:          make(chan Message, buffer),
		db:            db,
		webpush:       webpushOptions,
		sender:        &WebPushSender{},
		publisher:     publisher,
		channelPrefix: channelPrefix,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.WithField("worker", id).Debug("notification worker started")
	for {
		select {
		case msg := <-wp.jobs:
			wp.handle(ctx, msg)
		case <-ctx.Done():
			log.WithField("worker", id).Debug("notification worker shutting down")
			return
		}
	}
}

// Dispatch enqueues msg without blocking. It reports false when the message
// was dropped because the buffer is full.
func (wp *WorkerPool) Dispatch(msg Message) bool {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	select {
	case wp.jobs <- msg:
		return true
	default:
		metrics.Notifications.WithLabelValues(string(msg.Kind), "dropped").Inc()
		log.WithFields(log.Fields{"kind": msg.Kind, "provider_id": msg.ProviderID}).Warn("notification buffer full, message dropped")
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Message {
	return wp.jobs
}

func (wp *WorkerPool) handle(ctx context.Context, msg Message) {
	switch msg.Kind {
	case KindQueueLength:
		wp.publishQueueLength(ctx, msg)
	case KindQueuePosition:
		var subs []model.PushSubscription
		if err := wp.db.WithContext(ctx).Where("customer_id = ?", msg.CustomerID).Find(&subs).Error; err != nil {
			wp.failed(msg, fmt.Errorf("fetch subscriptions for customer: %w", err))
			return
		}
		vars := map[string]string{
			"position":  strconv.Itoa(msg.Position),
			"wait_time": strconv.Itoa(msg.WaitMinutes),
		}
		wp.pushAll(ctx, msg, subs, vars)
	case KindAppointment:
		var subs []model.PushSubscription
		if err := wp.db.WithContext(ctx).Where("customer_id = ?", msg.CustomerID).Find(&subs).Error; err != nil {
			wp.failed(msg, fmt.Errorf("fetch subscriptions for customer: %w", err))
			return
		}
		wp.pushAll(ctx, msg, subs, nil)
	case KindAvailability:
		var subs []model.PushSubscription
		err := wp.db.WithContext(ctx).
			Joins("JOIN subscription_provider_mapping spm ON spm.push_subscription_endpoint = push_subscriptions.endpoint").
			Where("spm.provider_id = ?", msg.ProviderID).
			Find(&subs).Error
		if err != nil {
			wp.failed(msg, fmt.Errorf("fetch subscriptions for provider: %w", err))
			return
		}
		wp.pushAll(ctx, msg, subs, nil)
	default:
		wp.failed(msg, fmt.Errorf("unknown message kind %q", msg.Kind))
	}
}

func (wp *WorkerPool) publishQueueLength(ctx context.Context, msg Message) {
	if wp.publisher == nil {
		return
	}
	data, err := json.Marshal(QueueLengthEvent{ProviderID: msg.ProviderID, QueueLength: msg.QueueLength, Timestamp: msg.At})
	if err != nil {
		wp.failed(msg, err)
		return
	}
	if err := wp.publisher.Publish(ctx, WatchChannel(wp.channelPrefix, msg.ProviderID), data).Err(); err != nil {
		wp.failed(msg, fmt.Errorf("publish queue length: %w", err))
		return
	}
	metrics.Notifications.WithLabelValues(string(msg.Kind), "sent").Inc()
}

// pushAll renders the message per subscriber language and sends it. A
// language that fails to render is skipped, the others still go out.
func (wp *WorkerPool) pushAll(ctx context.Context, msg Message, subs []model.PushSubscription, extra map[string]string) {
	if len(subs) == 0 {
		return
	}

	vars := map[string]string{"shop_name": wp.providerLabel(ctx, msg.ProviderID)}
	for k, v := range msg.Vars {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}

	log.WithFields(log.Fields{"kind": msg.Kind, "provider_id": msg.ProviderID, "recipients": len(subs)}).Info("sending notifications")

	payloads := make(map[string][]byte)
	for _, sub := range subs {
		lang := sub.Language
		if lang == "" {
			lang = "en"
		}
		payload, ok := payloads[lang]
		if !ok {
			rendered, err := Render(msg.Template, lang, vars)
			if err != nil {
				wp.failed(msg, err)
				payloads[lang] = nil
				continue
			}
			payload, err = json.Marshal(pushPayload{Rendered: rendered, Kind: msg.Kind, ProviderID: msg.ProviderID})
			if err != nil {
				wp.failed(msg, err)
				continue
			}
			payloads[lang] = payload
		}
		if payload == nil {
			metrics.Notifications.WithLabelValues(string(msg.Kind), "skipped").Inc()
			continue
		}
		wp.sendNotification(ctx, msg, sub, payload)
	}
}

// providerLabel returns the provider's name, or its id when the lookup fails.
func (wp *WorkerPool) providerLabel(ctx context.Context, providerID int64) string {
	var provider model.Provider
	if err := wp.db.WithContext(ctx).Select("name").First(&provider, providerID).Error; err != nil {
		log.WithError(err).WithField("provider_id", providerID).Warn("provider lookup failed")
		return strconv.FormatInt(providerID, 10)
	}
	if provider.Name == "" {
		return strconv.FormatInt(providerID, 10)
	}
	return provider.Name
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, msg Message, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.failed(msg, fmt.Errorf("send to %s: %w", sub.Endpoint, err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.WithField("endpoint", sub.Endpoint).Info("subscription expired, deleting")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.WithError(err).WithField("endpoint", sub.Endpoint).Error("failed to delete expired subscription")
		}
		metrics.Notifications.WithLabelValues(string(msg.Kind), "expired").Inc()
		return
	}
	if resp.StatusCode >= 400 {
		wp.failed(msg, fmt.Errorf("push service answered %d for %s", resp.StatusCode, sub.Endpoint))
		return
	}
	metrics.Notifications.WithLabelValues(string(msg.Kind), "sent").Inc()
}

func (wp *WorkerPool) failed(msg Message, err error) {
	metrics.Notifications.WithLabelValues(string(msg.Kind), "failed").Inc()
	log.WithError(err).WithFields(log.Fields{"kind": msg.Kind, "provider_id": msg.ProviderID}).Warn("notification delivery failed")
}
