package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"scorekeeper/models"
	"scorekeeper/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	MaxBatchItems = 100
	MaxAbsPoints  = 1_000_000

	batchKeyPrefix = "batch:"
)

// Ledger records score submissions and keeps team totals equal to the sum of
// their scores.
type Ledger struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewLedger(db *gorm.DB, clock clockwork.Clock) *Ledger {
	return &Ledger{DB: db, Clock: clock}
}

type SubmitInput struct {
	TeamID         string  `json:"team_id" validate:"required,max=64"`
	DayNumber      *int    `json:"day_number" validate:"omitempty,min=1"`
	Category       string  `json:"category" validate:"max=100"`
	Points         *int64  `json:"points" validate:"required"`
	IdempotencyKey *string `json:"idempotency_key" validate:"omitempty,max=200"`
	// GameNumber selects the legacy (event, team, game number) addressing.
	GameNumber *int `json:"game_number" validate:"omitempty,min=1"`
}

func (in *SubmitInput) normalize() error {
	in.TeamID = strings.TrimSpace(in.TeamID)
	in.Category = strings.TrimSpace(in.Category)
	in.IdempotencyKey = normalizeKey(in.IdempotencyKey)
	if err := utils.ValidateStruct(in); err != nil {
		return validationError("%s", err.Error())
	}
	if in.IdempotencyKey != nil && strings.HasPrefix(*in.IdempotencyKey, batchKeyPrefix) {
		return validationError("idempotency_key must not start with %q", batchKeyPrefix)
	}
	return checkPointsRange(*in.Points)
}

type SubmitResult struct {
	Score *models.Score `json:"score"`
	Team  *models.Team  `json:"team"`
	// Created is false for in-place updates and idempotent replays.
	Created   bool `json:"created"`
	Duplicate bool `json:"duplicate"`
}

type scoreOutcome int

const (
	outcomeInserted scoreOutcome = iota + 1
	outcomeUpdated
	outcomeDuplicate
)

type scoreWrite struct {
	team       *models.Team
	day        *models.EventDay
	category   string
	points     int64
	key        *string
	gameNumber *int
	tier       Tier
}

// Submit records one score. Preconditions run in order inside the
// transaction: event active, not expired, day gate (creating the day row if
// needed), negative points, team membership.
func (l *Ledger) Submit(ctx context.Context, capab *Capability, eventID string, in SubmitInput) (*SubmitResult, error) {
	if err := capab.Authorize(eventID, TierScorer); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var result *SubmitResult
	err := runInTx(ctx, l.DB, "submit score", func(tx *gorm.DB) error {
		event, day, err := openScoreWrite(tx, capab, eventID, in.DayNumber, l.now())
		if err != nil {
			return err
		}
		if *in.Points < 0 && !event.AllowNegative {
			return ErrNegativePointsDisallowed
		}

		teams, err := lockTeams(tx, eventID, []string{in.TeamID})
		if err != nil {
			return err
		}
		team, ok := teams[in.TeamID]
		if !ok {
			return ErrTeamNotInEvent
		}
		if team.IsDisabled {
			return withMessage(ErrTeamDisabled, "team %q is disabled and cannot receive scores", team.Name)
		}

		score, outcome, err := applyScore(tx, eventID, scoreWrite{
			team:       team,
			day:        day,
			category:   in.Category,
			points:     *in.Points,
			key:        in.IdempotencyKey,
			gameNumber: in.GameNumber,
			tier:       capab.Tier,
		})
		if err != nil {
			return err
		}

		if outcome != outcomeDuplicate {
			total, err := RecomputeTeamTotal(tx, eventID, team.ID)
			if err != nil {
				return err
			}
			team.TotalPoints = total
			if err := recordAudit(tx, eventID, "score.submitted", capab.Tier, map[string]any{
				"score_id":    score.ID,
				"team_id":     team.ID,
				"day_number":  score.DayNumber,
				"category":    score.Category,
				"game_number": score.GameNumber,
				"points":      score.Points,
				"updated":     outcome == outcomeUpdated,
			}); err != nil {
				return err
			}
		}

		result = &SubmitResult{
			Score:     score,
			Team:      team,
			Created:   outcome == outcomeInserted,
			Duplicate: outcome == outcomeDuplicate,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecomputeTeamTotal resums every score of the team and stores the result on
// the team row, inside tx.
func RecomputeTeamTotal(tx *gorm.DB, eventID, teamID string) (int64, error) {
	var total int64
	err := tx.Model(&models.Score{}).
		Select("COALESCE(SUM(points), 0)").
		Where("event_id = ? AND team_id = ?", eventID, teamID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum scores for team %s: %w", teamID, err)
	}
	if err := tx.Model(&models.Team{}).
		Where("id = ?", teamID).
		Update("total_points", total).Error; err != nil {
		return 0, fmt.Errorf("store total for team %s: %w", teamID, err)
	}
	return total, nil
}

// DeleteScore removes a score as an admin history edit and resums the team.
func (l *Ledger) DeleteScore(ctx context.Context, capab *Capability, eventID, scoreID string) (*models.Team, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}

	var team *models.Team
	err := runInTx(ctx, l.DB, "delete score", func(tx *gorm.DB) error {
		event, err := lockEventFor(tx, capab, eventID, "SHARE")
		if err != nil {
			return err
		}
		var score models.Score
		if err := tx.Where("id = ? AND event_id = ?", scoreID, eventID).Take(&score).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrScoreNotFound
			}
			return err
		}
		if err := checkScoreWritable(event, score.DayNumber, l.now()); err != nil {
			return err
		}

		teams, err := lockTeams(tx, eventID, []string{score.TeamID})
		if err != nil {
			return err
		}
		t, ok := teams[score.TeamID]
		if !ok {
			return ErrTeamNotInEvent
		}

		if err := tx.Delete(&score).Error; err != nil {
			return err
		}
		total, err := RecomputeTeamTotal(tx, eventID, t.ID)
		if err != nil {
			return err
		}
		t.TotalPoints = total
		team = t

		return recordAudit(tx, eventID, "score.deleted", capab.Tier, score)
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

type ScoreFilter struct {
	DayNumber *int
	TeamID    string
}

func (l *Ledger) ListScores(ctx context.Context, capab *Capability, eventID string, filter ScoreFilter) ([]models.Score, error) {
	if err := capab.Authorize(eventID, TierPublic); err != nil {
		return nil, err
	}
	q := l.DB.WithContext(ctx).Where("event_id = ?", eventID)
	if filter.DayNumber != nil {
		q = q.Where("day_number = ?", *filter.DayNumber)
	}
	if filter.TeamID != "" {
		q = q.Where("team_id = ?", filter.TeamID)
	}
	var scores []models.Score
	if err := q.Order("created_at ASC, id ASC").Find(&scores).Error; err != nil {
		return nil, transactionFailed(err)
	}
	return scores, nil
}

type LeaderboardEntry struct {
	Rank int `json:"rank"`
	models.Team
}

// Leaderboard orders teams by total points. Tied teams share a rank and the
// next rank follows without gaps.
func (l *Ledger) Leaderboard(ctx context.Context, capab *Capability, eventID string) ([]LeaderboardEntry, error) {
	if err := capab.Authorize(eventID, TierPublic); err != nil {
		return nil, err
	}
	var teams []models.Team
	err := l.DB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("total_points DESC, name ASC").
		Find(&teams).Error
	if err != nil {
		return nil, transactionFailed(err)
	}

	entries := make([]LeaderboardEntry, 0, len(teams))
	rank := 0
	for i, team := range teams {
		if i == 0 || team.TotalPoints != teams[i-1].TotalPoints {
			rank++
		}
		entries = append(entries, LeaderboardEntry{Rank: rank, Team: team})
	}
	return entries, nil
}

func (l *Ledger) now() time.Time {
	return l.Clock.Now().UTC()
}

// openScoreWrite locks the event for a score write, runs the event level
// preconditions and resolves the target day.
func openScoreWrite(tx *gorm.DB, capab *Capability, eventID string, dayNumber *int, now time.Time) (*models.Event, *models.EventDay, error) {
	event, err := lockEventFor(tx, capab, eventID, "SHARE")
	if err != nil {
		return nil, nil, err
	}
	if err := checkScoreWritable(event, dayNumber, now); err != nil {
		return nil, nil, err
	}
	if dayNumber == nil {
		return event, nil, nil
	}
	day, err := ensureEventDay(tx, event.ID, *dayNumber)
	if err != nil {
		return nil, nil, err
	}
	return event, day, nil
}

func checkScoreWritable(event *models.Event, dayNumber *int, now time.Time) error {
	if event.EventStatus != models.StatusActive || event.IsFinalized {
		if event.EventStatus == models.StatusCompleted {
			return withMessage(ErrEventNotActive, "event is finalized and no longer accepts scores")
		}
		return withMessage(ErrEventNotActive, "event is %s and does not accept scores", event.EventStatus)
	}
	if IsExpired(event, now) {
		return ErrEventExpired
	}
	if dayNumber != nil && *dayNumber > event.NumDays {
		return validationError("day_number %d is outside this event's %d day(s)", *dayNumber, event.NumDays)
	}
	if d := CanSubmitScoreForDay(event, dayNumber); !d.Allowed {
		if dayNumber != nil && IsDayLocked(event, *dayNumber) {
			return withMessage(ErrDayLocked, "%s", d.Reason)
		}
		return withMessage(ErrEventNotActive, "%s", d.Reason)
	}
	return nil
}

// lockTeams takes row locks on the event's teams with the given ids, in id
// order so concurrent batches cannot deadlock each other.
func lockTeams(tx *gorm.DB, eventID string, ids []string) (map[string]*models.Team, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)

	var teams []models.Team
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("event_id = ? AND id IN ?", eventID, unique).
		Order("id").
		Find(&teams).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Team, len(teams))
	for i := range teams {
		out[teams[i].ID] = &teams[i]
	}
	return out, nil
}

// applyScore performs the upsert: idempotency key first, then the composite
// identity, then insert. A key already held by another team's row is a
// conflict, never a replay.
func applyScore(tx *gorm.DB, eventID string, w scoreWrite) (*models.Score, scoreOutcome, error) {
	if w.key != nil {
		var existing models.Score
		err := tx.Where("event_id = ? AND idempotency_key = ?", eventID, *w.key).Take(&existing).Error
		if err == nil {
			if existing.TeamID != w.team.ID {
				return nil, 0, withMessage(ErrIdempotencyConflict, "idempotency key %q was already used for another team", *w.key)
			}
			return &existing, outcomeDuplicate, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, err
		}
	}

	q := tx.Where("event_id = ? AND team_id = ?", eventID, w.team.ID)
	if w.gameNumber != nil {
		q = q.Where("game_number = ?", *w.gameNumber)
	} else {
		q = q.Where("game_number IS NULL AND category = ?", w.category)
		if w.day != nil {
			q = q.Where("day_id = ?", w.day.ID)
		} else {
			q = q.Where("day_id IS NULL")
		}
	}

	var existing models.Score
	err := q.Take(&existing).Error
	switch {
	case err == nil:
		existing.Points = w.points
		existing.SubmittedBy = w.tier.String()
		if existing.IdempotencyKey == nil && w.key != nil {
			existing.IdempotencyKey = w.key
		}
		if err := tx.Save(&existing).Error; err != nil {
			return nil, 0, err
		}
		return &existing, outcomeUpdated, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, 0, err
	}

	score := models.Score{
		ID:             uuid.NewString(),
		EventID:        eventID,
		TeamID:         w.team.ID,
		Category:       w.category,
		Points:         w.points,
		GameNumber:     w.gameNumber,
		IdempotencyKey: w.key,
		SubmittedBy:    w.tier.String(),
	}
	if w.day != nil {
		score.DayID = &w.day.ID
		dayNumber := w.day.DayNumber
		score.DayNumber = &dayNumber
	}
	if err := tx.Create(&score).Error; err != nil {
		if isUniqueViolation(err) {
			log.Printf("⚠️ [LEDGER] concurrent write for team %s in event %s, retrying", w.team.ID, eventID)
		}
		return nil, 0, err
	}
	return &score, outcomeInserted, nil
}

func normalizeKey(key *string) *string {
	if key == nil {
		return nil
	}
	k := strings.TrimSpace(*key)
	if k == "" {
		return nil
	}
	return &k
}

func checkPointsRange(points int64) error {
	if points > MaxAbsPoints || points < -MaxAbsPoints {
		return validationError("points must be between %d and %d", -MaxAbsPoints, MaxAbsPoints)
	}
	return nil
}
