package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint   string    `gorm:"primaryKey"`
	P256DH     string    `gorm:"column:p256dh;not null"`
	Auth       string    `gorm:"not null"`
	CustomerID string    `gorm:"size:128;index"`
	Language   string    `gorm:"size:8;not null;default:en"`
	CreatedAt  time.Time `gorm:"not null"`

	// Associations
	Providers []*Provider `gorm:"many2many:subscription_provider_mapping;"`
}
