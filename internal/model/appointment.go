package model

import "time"

const (
	AppointmentScheduled = "scheduled"
	AppointmentCancelled = "cancelled"
)

// Appointment is a customer's booked slot with a provider, optionally with
// one staff member identified by staff key.
type Appointment struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	ProviderID int64     `gorm:"not null;index" json:"provider_id"`
	CustomerID string    `gorm:"size:128;not null;index" json:"customer_id"`
	StaffKey   string    `gorm:"size:16;not null;default:''" json:"staff_key,omitempty"`
	Service    string    `gorm:"size:128" json:"service,omitempty"`
	StartsAt   time.Time `gorm:"not null;index" json:"starts_at"`
	Status     string    `gorm:"size:16;not null;default:scheduled" json:"status"`
	SlotKey    *string   `gorm:"uniqueIndex;size:64" json:"-"` // Set while scheduled, NULL once cancelled
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
