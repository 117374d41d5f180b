package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"scorekeeper/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxTxAttempts = 3

// runInTx runs fn in a transaction, retrying the whole unit when the store
// reports a unique, serialization or deadlock conflict. Domain errors pass
// through untouched; anything else becomes ErrTransactionFailed after the
// rollback.
func runInTx(ctx context.Context, db *gorm.DB, op string, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		var domainErr *Error
		if errors.As(err, &domainErr) {
			return err
		}
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
		log.Printf("⚠️ [TX] %s attempt %d/%d hit a conflict, retrying: %v", op, attempt, maxTxAttempts, err)
	}
	log.Printf("❌ [TX] %s failed and was rolled back: %v", op, err)
	return transactionFailed(err)
}

func isRetryable(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// lockEvent re-reads the event inside tx with the given row lock strength.
// Score writes take SHARE; lifecycle changes take UPDATE so the two exclude
// each other.
func lockEvent(tx *gorm.DB, eventID, strength string) (*models.Event, error) {
	var event models.Event
	err := tx.Clauses(clause.Locking{Strength: strength}).
		Where("id = ?", eventID).
		Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// lockEventFor is lockEvent for a capability holder: the token that was
// resolved must still match the locked row.
func lockEventFor(tx *gorm.DB, capab *Capability, eventID, strength string) (*models.Event, error) {
	event, err := lockEvent(tx, eventID, strength)
	if err != nil {
		return nil, err
	}
	if err := capab.recheck(event); err != nil {
		return nil, err
	}
	return event, nil
}

// ensureEventDay returns the day row for dayNumber, creating it unlocked if
// it does not exist yet. Concurrent first references race on the unique
// index and both end up reading the same row.
func ensureEventDay(tx *gorm.DB, eventID string, dayNumber int) (*models.EventDay, error) {
	day := models.EventDay{
		ID:        uuid.NewString(),
		EventID:   eventID,
		DayNumber: dayNumber,
		Label:     models.DefaultDayLabel(dayNumber),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "day_number"}},
		DoNothing: true,
	}).Create(&day).Error
	if err != nil {
		return nil, err
	}

	var existing models.EventDay
	if err := tx.Where("event_id = ? AND day_number = ?", eventID, dayNumber).Take(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func recordAudit(tx *gorm.DB, eventID, action string, tier Tier, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	entry := models.AuditEntry{
		ID:      uuid.NewString(),
		EventID: eventID,
		Action:  action,
		Tier:    tier.String(),
		Payload: datatypes.JSON(data),
	}
	return tx.Create(&entry).Error
}
