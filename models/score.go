package models

// Score is one ledger entry. A row is addressed either by its idempotency key,
// by the legacy (event, team, game number) identity, or by its round slot
// (event, team, day, category) when neither is given.
type Score struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	EventID   string  `json:"event_id" gorm:"not null;index;uniqueIndex:idx_scores_event_key;uniqueIndex:idx_scores_event_team_game"`
	TeamID    string  `json:"team_id" gorm:"not null;index;uniqueIndex:idx_scores_event_team_game"`
	DayID     *string `json:"day_id,omitempty" gorm:"index"`
	DayNumber *int    `json:"day_number,omitempty"`
	Category  string  `json:"category" gorm:"not null;default:''"`
	Points    int64   `json:"points" gorm:"not null"`

	GameNumber     *int    `json:"game_number,omitempty" gorm:"uniqueIndex:idx_scores_event_team_game"`
	IdempotencyKey *string `json:"idempotency_key,omitempty" gorm:"uniqueIndex:idx_scores_event_key"`

	// SubmittedBy is the capability tier that wrote the row.
	SubmittedBy string `json:"submitted_by" gorm:"not null"`

	Timestamps
}
