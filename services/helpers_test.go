package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"scorekeeper/config"
	"scorekeeper/models"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "scorekeeper.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	db       *gorm.DB
	clock    *clockwork.FakeClock
	resolver *Resolver
	events   *EventService
	teams    *TeamService
	ledger   *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testStart)
	cfg := &config.Config{
		TokenBytes:     32,
		QuickRetention: 24 * time.Hour,
		PublicBaseURL:  "https://scores.example.com",
	}
	return &fixture{
		db:       db,
		clock:    clock,
		resolver: NewResolver(db),
		events:   NewEventService(db, clock, cfg),
		teams:    NewTeamService(db, clock),
		ledger:   NewLedger(db, clock),
	}
}

func (f *fixture) createEvent(t *testing.T, in CreateEventInput) *CreatedEvent {
	t.Helper()
	created, err := f.events.CreateEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return created
}

// quickEvent creates an active quick event with the given teams.
func (f *fixture) quickEvent(t *testing.T, teams ...string) *CreatedEvent {
	t.Helper()
	return f.createEvent(t, CreateEventInput{Name: "Friday Trivia", Mode: models.ModeQuick, Teams: teams})
}

// campEvent creates a camp event and activates it.
func (f *fixture) campEvent(t *testing.T, days int, teams ...string) *CreatedEvent {
	t.Helper()
	created := f.createEvent(t, CreateEventInput{Name: "Summer Camp", Mode: models.ModeCamp, NumDays: days, Teams: teams})
	if _, err := f.events.TransitionStatus(context.Background(), f.capFor(t, created.Tokens.Admin), created.Event.ID, models.StatusActive); err != nil {
		t.Fatalf("activate event: %v", err)
	}
	return created
}

func (f *fixture) capFor(t *testing.T, token string) *Capability {
	t.Helper()
	capab, err := f.resolver.Resolve(context.Background(), token, TierPublic)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	return capab
}

func (f *fixture) teamTotal(t *testing.T, teamID string) int64 {
	t.Helper()
	var team models.Team
	if err := f.db.Where("id = ?", teamID).Take(&team).Error; err != nil {
		t.Fatalf("load team: %v", err)
	}
	return team.TotalPoints
}

func (f *fixture) scoreSum(t *testing.T, teamID string) int64 {
	t.Helper()
	var sum int64
	if err := f.db.Model(&models.Score{}).Select("COALESCE(SUM(points), 0)").Where("team_id = ?", teamID).Scan(&sum).Error; err != nil {
		t.Fatalf("sum scores: %v", err)
	}
	return sum
}

func (f *fixture) countRows(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Where(where, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func points(n int64) *int64 { return &n }

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func expectCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want.Code)
	}
	var got *Error
	if !errors.As(err, &got) || got.Code != want.Code {
		t.Fatalf("expected %s, got %v", want.Code, err)
	}
}

type recordingNotifier struct {
	sent chan Notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan Notification, 8)}
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.sent <- msg
	return nil
}

func (n *recordingNotifier) next(t *testing.T) Notification {
	t.Helper()
	select {
	case msg := <-n.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}
