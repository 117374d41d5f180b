package models

import (
	"time"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// All lists every table in dependency order, parents first.
func All() []any {
	return []any{
		&Event{},
		&EventDay{},
		&Team{},
		&Score{},
		&AuditEntry{},
	}
}
