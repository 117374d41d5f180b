package services

import (
	"testing"

	"scorekeeper/models"
)

func TestDayLockDecisions(t *testing.T) {
	ev := &models.Event{EventStatus: models.StatusActive, LockedDays: models.DayNumbers{2}}

	if d := CanLockDay(ev, 1); !d.Allowed {
		t.Fatalf("lock day 1: %s", d.Reason)
	}
	if d := CanLockDay(ev, 2); d.Allowed || d.Reason != "Day 2 is already locked" {
		t.Fatalf("lock day 2 twice: %+v", d)
	}
	if d := CanUnlockDay(ev, 1); d.Allowed || d.Reason != "Day 1 is not locked" {
		t.Fatalf("unlock unlocked day: %+v", d)
	}
	if d := CanUnlockDay(ev, 2); !d.Allowed {
		t.Fatalf("unlock day 2: %s", d.Reason)
	}
	if d := CanLockDay(ev, 0); d.Allowed {
		t.Fatal("day 0 should be rejected")
	}

	archived := &models.Event{EventStatus: models.StatusArchived}
	if d := CanLockDay(archived, 1); d.Allowed {
		t.Fatal("archived events cannot lock days")
	}
}

func TestCanSubmitScoreForDay(t *testing.T) {
	cases := []struct {
		name    string
		event   models.Event
		day     *int
		allowed bool
		reason  string
	}{
		{"open day", models.Event{EventStatus: models.StatusActive}, intPtr(1), true, ""},
		{"no day concept", models.Event{EventStatus: models.StatusActive, LockedDays: models.DayNumbers{1}}, nil, true, ""},
		{"locked day", models.Event{EventStatus: models.StatusActive, LockedDays: models.DayNumbers{1, 3}}, intPtr(3), false, "Day 3 is locked"},
		{"finalized", models.Event{EventStatus: models.StatusCompleted, IsFinalized: true}, intPtr(1), false, "event is finalized"},
		{"archived", models.Event{EventStatus: models.StatusArchived}, nil, false, "event is archived"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := CanSubmitScoreForDay(&tc.event, tc.day)
			if d.Allowed != tc.allowed || d.Reason != tc.reason {
				t.Fatalf("got %+v, want allowed=%v reason=%q", d, tc.allowed, tc.reason)
			}
		})
	}
}
