package models

import (
	"time"
)

type Team struct {
	ID      string `json:"id" gorm:"primaryKey"`
	EventID string `json:"event_id" gorm:"not null;index;uniqueIndex:idx_teams_event_name_key"`
	Name    string `json:"name" gorm:"not null"`
	// NameKey is the case-folded name; uniqueness per event is enforced on it.
	NameKey string `json:"-" gorm:"not null;uniqueIndex:idx_teams_event_name_key"`
	Color   string `json:"color"`

	AvatarURL *string `json:"avatar_url,omitempty"`
	AvatarKey string  `json:"-"`

	// TotalPoints caches the sum of the team's scores. Only the ledger writes it.
	TotalPoints int64 `json:"total_points" gorm:"not null;default:0"`

	IsDisabled bool       `json:"is_disabled" gorm:"not null;default:false"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`

	Timestamps
}
