package services

import (
	"scorekeeper/models"
)

func IsDayLocked(event *models.Event, day int) bool {
	return event.LockedDays.Contains(day)
}

func CanLockDay(event *models.Event, day int) Decision {
	if day < 1 {
		return deny("day number must be positive")
	}
	if event.EventStatus == models.StatusArchived {
		return deny("days of an archived event cannot be locked")
	}
	if IsDayLocked(event, day) {
		return deny("Day %d is already locked", day)
	}
	return allow()
}

func CanUnlockDay(event *models.Event, day int) Decision {
	if day < 1 {
		return deny("day number must be positive")
	}
	if event.EventStatus == models.StatusArchived {
		return deny("days of an archived event cannot be unlocked")
	}
	if !IsDayLocked(event, day) {
		return deny("Day %d is not locked", day)
	}
	return allow()
}

// CanSubmitScoreForDay is the gate every score write consults. day is nil for
// events without a day concept.
func CanSubmitScoreForDay(event *models.Event, day *int) Decision {
	if event.EventStatus == models.StatusArchived {
		return deny("event is archived")
	}
	if event.IsFinalized {
		return deny("event is finalized")
	}
	if day != nil && IsDayLocked(event, *day) {
		return deny("Day %d is locked", *day)
	}
	return allow()
}
