package model

import "time"

// QueueEntry is one customer waiting in a provider's queue. Position is
// 1-based and derived from insertion order at read time.
type QueueEntry struct {
	ProviderID int64     `json:"provider_id"`
	CustomerID string    `json:"customer_id"`
	JoinedAt   time.Time `json:"joined_at"`
	Position   int       `json:"position"`
}
