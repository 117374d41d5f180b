package services

import (
	"fmt"
	"time"

	"scorekeeper/models"
)

// Decision is the answer of a lifecycle or day-lock rule. Reason is set when
// Allowed is false and is meant for display.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// MaxDaysForMode is the longest an event of the given mode may run.
func MaxDaysForMode(mode models.EventMode) int {
	switch mode {
	case models.ModeQuick:
		return 1
	case models.ModeCamp:
		return 14
	case models.ModeAdvanced:
		return 60
	}
	return 0
}

// InitialStatus is the state a newly created event starts in.
func InitialStatus(mode models.EventMode) models.EventStatus {
	if mode == models.ModeQuick {
		return models.StatusActive
	}
	return models.StatusDraft
}

// IsExpired reports whether now is past the event's end boundary.
func IsExpired(event *models.Event, now time.Time) bool {
	return !event.EndsAt.IsZero() && now.After(event.EndsAt)
}

// CanTransition decides whether an event may move from one status to another.
//
//	draft -> active -> completed -> archived (draft -> active only before the end)
//	completed -> active (unfinalize)
//	any non-archived -> archived
func CanTransition(from, to models.EventStatus, mode models.EventMode, isFinalized, expired bool) Decision {
	if !to.Valid() {
		return deny("unknown status %q", to)
	}
	if from == models.StatusArchived {
		return deny("archived events cannot change status")
	}
	if from == to {
		if to == models.StatusCompleted {
			return deny("event is already finalized")
		}
		return deny("event is already %s", to)
	}
	if to == models.StatusArchived {
		return allow()
	}

	switch from {
	case models.StatusDraft:
		switch to {
		case models.StatusActive:
			if expired {
				return deny("event has already ended and can no longer be activated")
			}
			return allow()
		case models.StatusCompleted:
			return deny("a draft event cannot be completed directly; make it active first")
		}
	case models.StatusActive:
		switch to {
		case models.StatusCompleted:
			if isFinalized {
				return deny("event is already finalized")
			}
			if expired {
				if mode == models.ModeQuick {
					return deny("event has expired and is waiting for cleanup; it can no longer be finalized")
				}
				return deny("event has expired and can no longer be finalized")
			}
			return allow()
		case models.StatusDraft:
			return deny("an active event cannot return to draft")
		}
	case models.StatusCompleted:
		switch to {
		case models.StatusActive:
			if expired {
				return deny("event has expired and cannot be reopened")
			}
			return allow()
		case models.StatusDraft:
			return deny("a completed event cannot return to draft")
		}
	}
	return deny("cannot change status from %s to %s", from, to)
}

// ApplyTransition writes the new status and its side effects onto event. The
// caller must have checked CanTransition first.
func ApplyTransition(event *models.Event, to models.EventStatus, now time.Time) {
	from := event.EventStatus
	switch {
	case to == models.StatusCompleted:
		event.IsFinalized = true
		event.FinalizedAt = &now
	case from == models.StatusCompleted && to == models.StatusActive:
		event.IsFinalized = false
		event.FinalizedAt = nil
		event.UnfinalizeCount++
	case to == models.StatusArchived:
		event.ArchivedAt = &now
	}
	event.EventStatus = to
	event.Status = models.LegacyStatusFor(to)
}
