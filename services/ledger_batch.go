package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"scorekeeper/models"
	"scorekeeper/utils"

	"gorm.io/gorm"
)

type BatchItem struct {
	TeamID     string `json:"team_id" validate:"required,max=64"`
	Points     *int64 `json:"points" validate:"required"`
	GameNumber *int   `json:"game_number" validate:"omitempty,min=1"`
}

// BatchInput scores one round for several teams at once. When
// IdempotencyKey is set each item gets the derived key
// "batch:<key>:<team_id>", a prefix single submissions may not use.
type BatchInput struct {
	DayNumber      *int        `json:"day_number" validate:"omitempty,min=1"`
	Category       string      `json:"category" validate:"max=100"`
	IdempotencyKey *string     `json:"idempotency_key" validate:"omitempty,max=160"`
	Items          []BatchItem `json:"items"`
}

type BatchItemResult struct {
	Index     int           `json:"index"`
	Score     *models.Score `json:"score"`
	Created   bool          `json:"created"`
	Duplicate bool          `json:"duplicate"`
}

type BatchResult struct {
	Items []BatchItemResult `json:"items"`
	Teams []*models.Team    `json:"teams"`
}

func (in *BatchInput) normalize() error {
	in.Category = strings.TrimSpace(in.Category)
	in.IdempotencyKey = normalizeKey(in.IdempotencyKey)
	if err := utils.ValidateStruct(in); err != nil {
		return validationError("%s", err.Error())
	}
	if len(in.Items) == 0 {
		return validationError("items must contain at least 1 entry")
	}
	if len(in.Items) > MaxBatchItems {
		return validationError("items must contain at most %d entries", MaxBatchItems)
	}

	seen := make(map[string]bool, len(in.Items))
	for i := range in.Items {
		item := &in.Items[i]
		item.TeamID = strings.TrimSpace(item.TeamID)
		if err := utils.ValidateStruct(item); err != nil {
			return forItem(validationError("item %d: %s", i, err.Error()), i, item.TeamID)
		}
		if err := checkPointsRange(*item.Points); err != nil {
			return forItem(err.(*Error), i, item.TeamID)
		}
		slot := item.TeamID
		if item.GameNumber != nil {
			slot = fmt.Sprintf("%s#%d", item.TeamID, *item.GameNumber)
		}
		if seen[slot] {
			return forItem(validationError("item %d: team %s appears more than once in this batch", i, item.TeamID), i, item.TeamID)
		}
		seen[slot] = true
	}
	return nil
}

func (in *BatchInput) itemKey(item BatchItem) *string {
	if in.IdempotencyKey == nil {
		return nil
	}
	key := fmt.Sprintf("%s%s:%s", batchKeyPrefix, *in.IdempotencyKey, item.TeamID)
	if item.GameNumber != nil {
		key = fmt.Sprintf("%s:%d", key, *item.GameNumber)
	}
	return &key
}

// SubmitBatch applies 1..100 scores in a single transaction. Any failing item
// rolls back every other item.
func (l *Ledger) SubmitBatch(ctx context.Context, capab *Capability, eventID string, in BatchInput) (*BatchResult, error) {
	if err := capab.Authorize(eventID, TierScorer); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	ids := make([]string, len(in.Items))
	for i, item := range in.Items {
		ids[i] = item.TeamID
	}

	var result *BatchResult
	err := runInTx(ctx, l.DB, "submit score batch", func(tx *gorm.DB) error {
		event, day, err := openScoreWrite(tx, capab, eventID, in.DayNumber, l.now())
		if err != nil {
			return err
		}
		if !event.AllowNegative {
			for i, item := range in.Items {
				if *item.Points < 0 {
					return forItem(ErrNegativePointsDisallowed, i, item.TeamID)
				}
			}
		}

		teams, err := lockTeams(tx, eventID, ids)
		if err != nil {
			return err
		}
		for i, item := range in.Items {
			team, ok := teams[item.TeamID]
			if !ok {
				return forItem(withMessage(ErrTeamNotInEvent, "item %d: team %s does not belong to this event", i, item.TeamID), i, item.TeamID)
			}
			if team.IsDisabled {
				return forItem(withMessage(ErrTeamDisabled, "item %d: team %q is disabled", i, team.Name), i, item.TeamID)
			}
		}

		res := &BatchResult{Items: make([]BatchItemResult, 0, len(in.Items))}
		touched := make(map[string]bool, len(teams))
		for i, item := range in.Items {
			score, outcome, err := applyScore(tx, eventID, scoreWrite{
				team:       teams[item.TeamID],
				day:        day,
				category:   in.Category,
				points:     *item.Points,
				key:        in.itemKey(item),
				gameNumber: item.GameNumber,
				tier:       capab.Tier,
			})
			if err != nil {
				return err
			}
			if outcome != outcomeDuplicate {
				touched[item.TeamID] = true
			}
			res.Items = append(res.Items, BatchItemResult{
				Index:     i,
				Score:     score,
				Created:   outcome == outcomeInserted,
				Duplicate: outcome == outcomeDuplicate,
			})
		}

		teamIDs := make([]string, 0, len(teams))
		for id := range teams {
			teamIDs = append(teamIDs, id)
		}
		sort.Strings(teamIDs)
		for _, id := range teamIDs {
			if touched[id] {
				total, err := RecomputeTeamTotal(tx, eventID, id)
				if err != nil {
					return err
				}
				teams[id].TotalPoints = total
			}
			res.Teams = append(res.Teams, teams[id])
		}

		if len(touched) > 0 {
			if err := recordAudit(tx, eventID, "score.batch_submitted", capab.Tier, map[string]any{
				"day_number": in.DayNumber,
				"category":   in.Category,
				"items":      len(in.Items),
				"teams":      len(touched),
			}); err != nil {
				return err
			}
		}

		result = res
		return nil
	})
	if err != nil {
		if KindOf(err) == KindTransaction {
			return nil, withMessage(asError(err), "the batch could not be saved; no scores were saved")
		}
		return nil, err
	}
	return result, nil
}

func asError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return transactionFailed(err)
}
