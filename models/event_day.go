package models

import (
	"fmt"
	"time"
)

// EventDay is a lockable subdivision of a multi-day event. Rows are created
// the first time a day number is referenced.
type EventDay struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	EventID   string     `json:"event_id" gorm:"not null;uniqueIndex:idx_event_days_event_day"`
	DayNumber int        `json:"day_number" gorm:"not null;uniqueIndex:idx_event_days_event_day"`
	Label     string     `json:"label" gorm:"not null"`
	IsLocked  bool       `json:"is_locked" gorm:"not null;default:false"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	Timestamps
}

func DefaultDayLabel(day int) string {
	return fmt.Sprintf("Day %d", day)
}
