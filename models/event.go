package models

import (
	"slices"
	"time"

	"gorm.io/gorm"
)

type EventMode string

const (
	ModeQuick    EventMode = "quick"
	ModeCamp     EventMode = "camp"
	ModeAdvanced EventMode = "advanced"
)

func (m EventMode) Valid() bool {
	switch m {
	case ModeQuick, ModeCamp, ModeAdvanced:
		return true
	}
	return false
}

// EventStatus is the primary lifecycle state of an event.
type EventStatus string

const (
	StatusDraft     EventStatus = "draft"
	StatusActive    EventStatus = "active"
	StatusCompleted EventStatus = "completed"
	StatusArchived  EventStatus = "archived"
)

func (s EventStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Legacy status values kept for older clients. "expired" is never stored.
const (
	LegacyActive    = "active"
	LegacyExpired   = "expired"
	LegacyArchived  = "archived"
	LegacyFinalized = "finalized"
)

// LegacyStatusFor maps the lifecycle state onto the stored legacy mirror.
func LegacyStatusFor(s EventStatus) string {
	switch s {
	case StatusCompleted:
		return LegacyFinalized
	case StatusArchived:
		return LegacyArchived
	default:
		return LegacyActive
	}
}

// DayNumbers is a sorted set of day numbers stored as a JSON array.
type DayNumbers []int

func (d DayNumbers) Contains(day int) bool {
	_, found := slices.BinarySearch(d, day)
	return found
}

// With returns a copy that includes day.
func (d DayNumbers) With(day int) DayNumbers {
	out := slices.Clone(d)
	if i, found := slices.BinarySearch(out, day); !found {
		out = slices.Insert(out, i, day)
	}
	return out
}

// Without returns a copy that excludes day.
func (d DayNumbers) Without(day int) DayNumbers {
	out := slices.Clone(d)
	if i, found := slices.BinarySearch(out, day); found {
		out = slices.Delete(out, i, i+1)
	}
	return out
}

// Event is a scored competition reached through its three capability tokens.
type Event struct {
	ID          string      `json:"id" gorm:"primaryKey"`
	Name        string      `json:"name" gorm:"not null"`
	Slug        string      `json:"slug" gorm:"index"`
	Mode        EventMode   `json:"mode" gorm:"not null"`
	EventStatus EventStatus `json:"event_status" gorm:"column:event_status;not null;index"`
	// Status is the legacy mirror of EventStatus, written only by BeforeSave.
	Status string `json:"status" gorm:"not null"`

	IsFinalized     bool       `json:"is_finalized" gorm:"not null;default:false"`
	FinalizedAt     *time.Time `json:"finalized_at,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
	UnfinalizeCount int        `json:"unfinalize_count" gorm:"not null;default:0"`

	LockedDays    DayNumbers `json:"locked_days" gorm:"type:text;serializer:json"`
	AllowNegative bool       `json:"allow_negative" gorm:"not null;default:false"`

	StartsAt        time.Time  `json:"starts_at" gorm:"not null"`
	EndsAt          time.Time  `json:"ends_at" gorm:"not null"`
	NumDays         int        `json:"num_days" gorm:"not null;default:1"`
	AutoCleanupDate *time.Time `json:"auto_cleanup_date,omitempty" gorm:"index"`

	ContactEmail string `json:"-"`

	AdminToken  string `json:"-" gorm:"uniqueIndex;not null"`
	ScorerToken string `json:"-" gorm:"uniqueIndex;not null"`
	PublicToken string `json:"-" gorm:"uniqueIndex;not null"`

	Timestamps
}

// BeforeSave keeps the legacy status mirror derived from EventStatus.
func (e *Event) BeforeSave(tx *gorm.DB) error {
	e.Status = LegacyStatusFor(e.EventStatus)
	return nil
}

// LegacyStatus is the read projection for older clients, including the
// time-derived "expired" value.
func (e *Event) LegacyStatus(now time.Time) string {
	if e.EventStatus == StatusActive && !e.EndsAt.IsZero() && now.After(e.EndsAt) {
		return LegacyExpired
	}
	return LegacyStatusFor(e.EventStatus)
}
