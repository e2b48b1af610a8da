package model

import "time"

// LiveStatus is the volatile, overwrite-only state of a provider.
type LiveStatus struct {
	ProviderID           int64     `gorm:"primaryKey;autoIncrement:false" json:"provider_id"`
	IsOpen               bool      `gorm:"not null;default:false" json:"is_open"`
	QueueSize            int       `gorm:"not null;default:0" json:"queue_size"`
	AvailableStaff       []string  `gorm:"serializer:json" json:"available_staff"`
	EstimatedWaitMinutes int       `gorm:"not null;default:0" json:"estimated_wait_minutes"`
	LastUpdated          time.Time `json:"last_updated"`
}
