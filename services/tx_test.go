package services

import (
	"context"
	"errors"
	"testing"

	"scorekeeper/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestRunInTxRetriesAfterUniqueViolation(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t)
	eventID := created.Event.ID

	attempts := 0
	err := runInTx(context.Background(), f.db, "create day", func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			for i := 0; i < 2; i++ {
				day := models.EventDay{ID: uuid.NewString(), EventID: eventID, DayNumber: 1, Label: "Day 1"}
				if err := tx.Create(&day).Error; err != nil {
					return err
				}
			}
			return nil
		}
		_, err := ensureEventDay(tx, eventID, 1)
		return err
	})
	if err != nil {
		t.Fatalf("expected the retry to succeed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts: got %d, want 2", attempts)
	}
	if n := f.countRows(t, &models.EventDay{}, "event_id = ? AND day_number = ?", eventID, 1); n != 1 {
		t.Fatalf("expected one day row, got %d", n)
	}
}

func TestRunInTxDoesNotRetryOtherFailures(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")

	attempts := 0
	err := runInTx(context.Background(), f.db, "write", func(tx *gorm.DB) error {
		attempts++
		return boom
	})
	expectCode(t, err, ErrTransactionFailed)
	if !errors.Is(err, boom) {
		t.Fatalf("cause should be kept: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts: got %d, want 1", attempts)
	}
}

func TestRunInTxPassesDomainErrorsThrough(t *testing.T) {
	f := newFixture(t)

	attempts := 0
	err := runInTx(context.Background(), f.db, "write", func(tx *gorm.DB) error {
		attempts++
		return ErrDayLocked
	})
	if err != ErrDayLocked {
		t.Fatalf("got %v, want the domain error unchanged", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts: got %d, want 1", attempts)
	}
}
