package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEntry records one mutation of an event. Written in the same
// transaction as the change it describes.
type AuditEntry struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	EventID   string         `json:"event_id" gorm:"not null;index"`
	Action    string         `json:"action" gorm:"not null"`
	Tier      string         `json:"tier"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
}
