package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"scorekeeper/models"
)

func TestCreateQuickEvent(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t, "Red", "Blue")
	ev := created.Event

	if ev.EventStatus != models.StatusActive || ev.Status != models.LegacyActive {
		t.Fatalf("quick events start active: %s/%s", ev.EventStatus, ev.Status)
	}
	if !ev.EndsAt.Equal(testStart.Add(24 * time.Hour)) {
		t.Fatalf("ends at: got %v", ev.EndsAt)
	}
	if ev.AutoCleanupDate == nil || !ev.AutoCleanupDate.Equal(ev.EndsAt.Add(24*time.Hour)) {
		t.Fatalf("cleanup date: got %v", ev.AutoCleanupDate)
	}
	tokens := created.Tokens
	if tokens.Admin == tokens.Scorer || tokens.Scorer == tokens.Public || tokens.Admin == tokens.Public {
		t.Fatal("tokens must be distinct")
	}
	if !strings.HasPrefix(created.Links.Public, "https://scores.example.com/e/friday-trivia-") || !strings.HasSuffix(created.Links.Public, "?t="+tokens.Public) {
		t.Fatalf("public link: %s", created.Links.Public)
	}
	if !strings.Contains(created.Links.Admin, "/admin?t="+tokens.Admin) {
		t.Fatalf("admin link: %s", created.Links.Admin)
	}
	if len(created.Teams) != 2 || created.Teams[0].Color == "" {
		t.Fatalf("teams: %+v", created.Teams)
	}
	if n := f.countRows(t, &models.AuditEntry{}, "event_id = ? AND action = ?", ev.ID, "event.created"); n != 1 {
		t.Fatalf("expected event.created audit entry, got %d", n)
	}
}

func TestCreateEventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := testStart
	before := testStart.Add(-time.Hour)

	cases := []struct {
		name string
		in   CreateEventInput
		want *Error
	}{
		{"missing name", CreateEventInput{Mode: models.ModeQuick}, ErrValidation},
		{"unknown mode", CreateEventInput{Name: "X", Mode: "league"}, ErrValidation},
		{"quick too long", CreateEventInput{Name: "X", Mode: models.ModeQuick, NumDays: 2}, ErrValidation},
		{"camp too long", CreateEventInput{Name: "X", Mode: models.ModeCamp, NumDays: 15}, ErrValidation},
		{"ends before start", CreateEventInput{Name: "X", Mode: models.ModeCamp, StartsAt: &start, EndsAt: &before}, ErrValidation},
		{"bad email", CreateEventInput{Name: "X", Mode: models.ModeCamp, ContactEmail: "nope"}, ErrValidation},
		{"duplicate teams", CreateEventInput{Name: "X", Mode: models.ModeQuick, Teams: []string{"Red", " red "}}, ErrDuplicateTeamName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.events.CreateEvent(ctx, tc.in)
			expectCode(t, err, tc.want)
		})
	}
	if n := f.countRows(t, &models.Event{}, "1 = 1"); n != 0 {
		t.Fatalf("no event should be stored, got %d", n)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	f := newFixture(t)
	created := f.createEvent(t, CreateEventInput{Name: "Science Camp", Mode: models.ModeCamp, NumDays: 5})
	admin := f.capFor(t, created.Tokens.Admin)
	eventID := created.Event.ID
	ctx := context.Background()

	if created.Event.EventStatus != models.StatusDraft {
		t.Fatalf("camp events start as draft, got %s", created.Event.EventStatus)
	}

	_, err := f.events.TransitionStatus(ctx, admin, eventID, models.StatusCompleted)
	expectCode(t, err, ErrTransitionNotAllowed)
	if !strings.Contains(err.(*Error).Message, "active") {
		t.Fatalf("reason should name the active state: %q", err.(*Error).Message)
	}

	if _, err := f.events.TransitionStatus(ctx, admin, eventID, models.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	done, err := f.events.TransitionStatus(ctx, admin, eventID, models.StatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.IsFinalized || done.Status != models.LegacyFinalized {
		t.Fatalf("completion should finalize: %+v", done)
	}

	_, err = f.events.TransitionStatus(ctx, admin, eventID, models.StatusCompleted)
	expectCode(t, err, ErrAlreadyFinalized)

	reopened, err := f.events.TransitionStatus(ctx, admin, eventID, models.StatusActive)
	if err != nil {
		t.Fatalf("unfinalize: %v", err)
	}
	if reopened.IsFinalized || reopened.UnfinalizeCount != 1 {
		t.Fatalf("unfinalize: %+v", reopened)
	}

	if _, err := f.events.TransitionStatus(ctx, admin, eventID, models.StatusArchived); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, err = f.events.TransitionStatus(ctx, admin, eventID, models.StatusActive)
	expectCode(t, err, ErrTransitionNotAllowed)

	var stored models.Event
	if err := f.db.Where("id = ?", eventID).Take(&stored).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.EventStatus != models.StatusArchived || stored.Status != models.LegacyArchived || stored.UnfinalizeCount != 1 {
		t.Fatalf("stored event: %+v", stored)
	}
	if n := f.countRows(t, &models.AuditEntry{}, "event_id = ? AND action = ?", eventID, "event.status_changed"); n != 4 {
		t.Fatalf("expected 4 status audit entries, got %d", n)
	}
}

func TestTransitionRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t)
	_, err := f.events.TransitionStatus(context.Background(), f.capFor(t, created.Tokens.Scorer), created.Event.ID, models.StatusCompleted)
	expectCode(t, err, ErrInsufficientTier)
}

func TestReopenDeniedAfterExpiry(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t)
	admin := f.capFor(t, created.Tokens.Admin)
	ctx := context.Background()

	if _, err := f.events.TransitionStatus(ctx, admin, created.Event.ID, models.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.clock.Advance(48 * time.Hour)
	_, err := f.events.TransitionStatus(ctx, admin, created.Event.ID, models.StatusActive)
	expectCode(t, err, ErrTransitionNotAllowed)
}

func TestActivationDeniedAfterEnd(t *testing.T) {
	f := newFixture(t)
	created := f.createEvent(t, CreateEventInput{Name: "Winter Camp", Mode: models.ModeCamp, NumDays: 2})
	admin := f.capFor(t, created.Tokens.Admin)
	ctx := context.Background()

	f.clock.Advance(49 * time.Hour)
	_, err := f.events.TransitionStatus(ctx, admin, created.Event.ID, models.StatusActive)
	expectCode(t, err, ErrTransitionNotAllowed)
	if !strings.Contains(err.Error(), "already ended") {
		t.Fatalf("reason should name the end: %v", err)
	}

	ev, err := f.events.TransitionStatus(ctx, admin, created.Event.ID, models.StatusArchived)
	if err != nil {
		t.Fatalf("an ended draft can still be archived: %v", err)
	}
	if ev.EventStatus != models.StatusArchived {
		t.Fatalf("status: got %s", ev.EventStatus)
	}
}

func TestDayLockConflicts(t *testing.T) {
	f := newFixture(t)
	created := f.campEvent(t, 3)
	admin := f.capFor(t, created.Tokens.Admin)
	eventID := created.Event.ID
	ctx := context.Background()

	if _, err := f.events.LockDay(ctx, admin, eventID, 2); err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err := f.events.LockDay(ctx, admin, eventID, 2)
	expectCode(t, err, ErrDayLockConflict)

	_, err = f.events.UnlockDay(ctx, admin, eventID, 1)
	expectCode(t, err, ErrDayLockConflict)

	_, err = f.events.LockDay(ctx, admin, eventID, 4)
	expectCode(t, err, ErrValidation)

	_, err = f.events.LockDay(ctx, f.capFor(t, created.Tokens.Scorer), eventID, 1)
	expectCode(t, err, ErrInsufficientTier)

	var stored models.Event
	if err := f.db.Where("id = ?", eventID).Take(&stored).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.LockedDays.Contains(2) || len(stored.LockedDays) != 1 {
		t.Fatalf("locked days: %v", stored.LockedDays)
	}
}

func TestRenameAndListDays(t *testing.T) {
	f := newFixture(t)
	created := f.campEvent(t, 3)
	admin := f.capFor(t, created.Tokens.Admin)
	eventID := created.Event.ID
	ctx := context.Background()

	day, err := f.events.RenameDay(ctx, admin, eventID, 2, "  Water   Day ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if day.Label != "Water Day" {
		t.Fatalf("label: got %q", day.Label)
	}
	reset, err := f.events.RenameDay(ctx, admin, eventID, 2, "")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Label != "Day 2" || reset.ID != day.ID {
		t.Fatalf("reset label: %+v", reset)
	}

	days, err := f.events.ListDays(ctx, f.capFor(t, created.Tokens.Public), eventID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(days) != 1 || days[0].DayNumber != 2 {
		t.Fatalf("days: %+v", days)
	}
}

func TestGetEventByTier(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t, "Red")
	ctx := context.Background()

	adminView, err := f.events.GetEvent(ctx, f.capFor(t, created.Tokens.Admin), created.Event.ID)
	if err != nil {
		t.Fatalf("admin view: %v", err)
	}
	if adminView.Tokens == nil || adminView.Links.Admin == "" || adminView.Access != "admin" {
		t.Fatalf("admin should see tokens and links: %+v", adminView)
	}

	publicView, err := f.events.GetEvent(ctx, f.capFor(t, created.Tokens.Public), created.Event.ID)
	if err != nil {
		t.Fatalf("public view: %v", err)
	}
	if publicView.Tokens != nil || publicView.Links.Admin != "" || publicView.Links.Scorer != "" {
		t.Fatalf("public view leaks privileged data: %+v", publicView)
	}

	f.clock.Advance(25 * time.Hour)
	expired, err := f.events.GetEvent(ctx, f.capFor(t, created.Tokens.Public), created.Event.ID)
	if err != nil {
		t.Fatalf("expired view: %v", err)
	}
	if !expired.Expired || expired.LegacyStatus != models.LegacyExpired {
		t.Fatalf("expired view: %+v", expired)
	}
}

func TestRegenerateTokenInvalidatesOldValue(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t)
	admin := f.capFor(t, created.Tokens.Admin)
	ctx := context.Background()

	regenerated, err := f.events.RegenerateToken(ctx, admin, created.Event.ID, TierScorer)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if regenerated.Token == created.Tokens.Scorer || regenerated.Tier != "scorer" {
		t.Fatalf("regenerate result: %+v", regenerated)
	}
	if !strings.HasSuffix(regenerated.URL, "/score?t="+regenerated.Token) {
		t.Fatalf("url: %s", regenerated.URL)
	}

	_, err = f.resolver.Resolve(ctx, created.Tokens.Scorer, TierPublic)
	expectCode(t, err, ErrTokenNotFound)

	capab, err := f.resolver.Resolve(ctx, regenerated.Token, TierScorer)
	if err != nil || capab.Tier != TierScorer {
		t.Fatalf("new token: %v %v", capab, err)
	}
	if _, err := f.resolver.Resolve(ctx, created.Tokens.Public, TierPublic); err != nil {
		t.Fatalf("other tokens stay valid: %v", err)
	}

	_, err = f.events.RegenerateToken(ctx, admin, created.Event.ID, Tier(7))
	expectCode(t, err, ErrValidation)
}

func TestRotatedTokenRevokesResolvedCapability(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t, "Red")
	admin := f.capFor(t, created.Tokens.Admin)
	scorer := f.capFor(t, created.Tokens.Scorer)
	ctx := context.Background()

	if _, err := f.events.RegenerateToken(ctx, admin, created.Event.ID, TierScorer); err != nil {
		t.Fatalf("rotate scorer: %v", err)
	}
	_, err := f.ledger.Submit(ctx, scorer, created.Event.ID, SubmitInput{TeamID: created.Teams[0].ID, DayNumber: intPtr(1), Points: points(5)})
	expectCode(t, err, ErrTokenNotFound)
	if n := f.countRows(t, &models.Score{}, "event_id = ?", created.Event.ID); n != 0 {
		t.Fatalf("expected no scores, got %d", n)
	}

	rotated, err := f.events.RegenerateToken(ctx, admin, created.Event.ID, TierAdmin)
	if err != nil {
		t.Fatalf("rotate admin: %v", err)
	}
	_, err = f.events.TransitionStatus(ctx, admin, created.Event.ID, models.StatusCompleted)
	expectCode(t, err, ErrTokenNotFound)
	_, err = f.events.RegenerateToken(ctx, admin, created.Event.ID, TierPublic)
	expectCode(t, err, ErrTokenNotFound)

	fresh := f.capFor(t, rotated.Token)
	if _, err := f.events.TransitionStatus(ctx, fresh, created.Event.ID, models.StatusCompleted); err != nil {
		t.Fatalf("new admin token: %v", err)
	}
}

func TestAuditLogRecordsChanges(t *testing.T) {
	f := newFixture(t)
	created := f.quickEvent(t)
	admin := f.capFor(t, created.Tokens.Admin)
	ctx := context.Background()

	if _, err := f.events.LockDay(ctx, admin, created.Event.ID, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}

	entries, err := f.events.AuditLog(ctx, admin, created.Event.ID, 0)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	actions := []string{entries[0].Action, entries[1].Action}
	if actions[0] != "day.locked" && actions[1] != "day.locked" {
		t.Fatalf("day.locked missing from %v", actions)
	}

	_, err = f.events.AuditLog(ctx, f.capFor(t, created.Tokens.Scorer), created.Event.ID, 0)
	expectCode(t, err, ErrInsufficientTier)
}

func TestSweepForCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quick := f.quickEvent(t, "Red")
	camp := f.campEvent(t, 1, "Blue")

	if _, err := f.ledger.Submit(ctx, f.capFor(t, quick.Tokens.Scorer), quick.Event.ID, SubmitInput{
		TeamID:    quick.Teams[0].ID,
		DayNumber: intPtr(1),
		Points:    points(3),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deleted, err := f.events.SweepForCleanup(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("nothing is due yet, deleted %v", deleted)
	}

	f.clock.Advance(49 * time.Hour)
	deleted, err = f.events.SweepForCleanup(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != quick.Event.ID {
		t.Fatalf("deleted: %v", deleted)
	}

	for _, tc := range []struct {
		model any
		where string
	}{
		{&models.Event{}, "id = ?"},
		{&models.Team{}, "event_id = ?"},
		{&models.Score{}, "event_id = ?"},
		{&models.EventDay{}, "event_id = ?"},
		{&models.AuditEntry{}, "event_id = ?"},
	} {
		if n := f.countRows(t, tc.model, tc.where, quick.Event.ID); n != 0 {
			t.Fatalf("%T rows left behind: %d", tc.model, n)
		}
	}
	if n := f.countRows(t, &models.Event{}, "id = ?", camp.Event.ID); n != 1 {
		t.Fatal("camp events are never swept")
	}

	_, err = f.resolver.Resolve(ctx, quick.Tokens.Admin, TierPublic)
	expectCode(t, err, ErrTokenNotFound)
}

func TestEventNotificationsGoToContact(t *testing.T) {
	f := newFixture(t)
	notifier := newRecordingNotifier()
	f.events.Notifier = notifier
	ctx := context.Background()

	created := f.createEvent(t, CreateEventInput{Name: "Relay", Mode: models.ModeQuick, ContactEmail: "host@example.com"})
	msg := notifier.next(t)
	if msg.Kind != "event.created" || msg.Recipient != "host@example.com" || msg.Data["admin_url"] != created.Links.Admin {
		t.Fatalf("created notification: %+v", msg)
	}

	if _, err := f.events.TransitionStatus(ctx, f.capFor(t, created.Tokens.Admin), created.Event.ID, models.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if msg := notifier.next(t); msg.Kind != "event.finalized" || msg.EventID != created.Event.ID {
		t.Fatalf("finalized notification: %+v", msg)
	}
}
