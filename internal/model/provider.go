package model

import "time"

// Provider represents a service provider's catalog record.
type Provider struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	ExternalID *string   `gorm:"uniqueIndex;size:64" json:"external_id,omitempty"` // Upstream catalog ID
	Name       string    `gorm:"size:256;not null" json:"name"`
	Address    string    `gorm:"size:512;not null" json:"address"`
	Phone      string    `gorm:"size:32" json:"phone"`
	Longitude  float64   `gorm:"not null" json:"longitude"`
	Latitude   float64   `gorm:"not null" json:"latitude"`
	Disabled   bool      `gorm:"not null;default:false;index" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
