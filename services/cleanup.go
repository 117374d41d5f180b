package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"scorekeeper/models"

	"gorm.io/gorm"
)

// SweepForCleanup hard-deletes quick events whose cleanup date has passed,
// one transaction per event. A failure on one event is logged and the sweep
// moves on.
func (s *EventService) SweepForCleanup(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	var candidates []string
	err := s.DB.WithContext(ctx).
		Model(&models.Event{}).
		Where("mode = ? AND auto_cleanup_date IS NOT NULL AND auto_cleanup_date <= ?", models.ModeQuick, now).
		Order("auto_cleanup_date ASC").
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, fmt.Errorf("find events due for cleanup: %w", err)
	}

	deleted := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		removed, avatarKeys, err := s.deleteEventIfDue(ctx, id, now)
		if err != nil {
			log.Printf("❌ [CLEANUP] failed to delete event %s: %v", id, err)
			continue
		}
		if !removed {
			continue
		}
		deleted = append(deleted, id)
		s.removeAvatars(ctx, avatarKeys)
	}

	if len(deleted) > 0 {
		log.Printf("🧹 [CLEANUP] deleted %d expired quick event(s)", len(deleted))
	}
	return deleted, nil
}

// deleteEventIfDue locks the event, re-checks eligibility and deletes its
// scores, teams, days and audit entries before the event row itself.
func (s *EventService) deleteEventIfDue(ctx context.Context, eventID string, now time.Time) (bool, []string, error) {
	var (
		removed    bool
		avatarKeys []string
	)
	err := runInTx(ctx, s.DB, "cleanup event", func(tx *gorm.DB) error {
		removed = false
		avatarKeys = nil

		event, err := lockEvent(tx, eventID, "UPDATE")
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if event.Mode != models.ModeQuick || event.AutoCleanupDate == nil || event.AutoCleanupDate.After(now) {
			return nil
		}

		if err := tx.Model(&models.Team{}).
			Where("event_id = ? AND avatar_key <> ''", eventID).
			Pluck("avatar_key", &avatarKeys).Error; err != nil {
			return err
		}

		steps := []struct {
			name  string
			model any
		}{
			{"scores", &models.Score{}},
			{"teams", &models.Team{}},
			{"days", &models.EventDay{}},
			{"audit entries", &models.AuditEntry{}},
		}
		for _, step := range steps {
			if err := tx.Where("event_id = ?", eventID).Delete(step.model).Error; err != nil {
				return fmt.Errorf("delete %s: %w", step.name, err)
			}
		}
		if err := tx.Where("id = ?", eventID).Delete(&models.Event{}).Error; err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		removed = true
		return nil
	})
	return removed, avatarKeys, err
}

func (s *EventService) removeAvatars(ctx context.Context, keys []string) {
	if s.Avatars == nil {
		return
	}
	for _, key := range keys {
		if err := s.Avatars.Delete(ctx, key); err != nil {
			log.Printf("⚠️ [CLEANUP] could not delete avatar %s: %v", key, err)
		}
	}
}
