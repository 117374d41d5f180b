package services

import (
	"context"
	"errors"
	"log"
	"mime/multipart"
	"time"

	"scorekeeper/models"
	"scorekeeper/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

const MaxTeamsPerEvent = 200

type TeamService struct {
	DB      *gorm.DB
	Clock   clockwork.Clock
	Avatars AvatarStore
}

func NewTeamService(db *gorm.DB, clock clockwork.Clock) *TeamService {
	return &TeamService{DB: db, Clock: clock}
}

type CreateTeamInput struct {
	Name  string `json:"name" validate:"required,max=60"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

type UpdateTeamInput struct {
	Name  *string `json:"name" validate:"omitempty,max=60"`
	Color *string `json:"color" validate:"omitempty,hexcolor"`
}

// CreateTeam adds a team while the event is draft or active. Scorers may add
// teams to quick events; camp and advanced events need the admin token.
func (s *TeamService) CreateTeam(ctx context.Context, capab *Capability, eventID string, in CreateTeamInput) (*models.Team, error) {
	if err := capab.Authorize(eventID, TierScorer); err != nil {
		return nil, err
	}
	in.Name = utils.NormalizeName(in.Name)
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, validationError("%s", err.Error())
	}

	var team *models.Team
	err := runInTx(ctx, s.DB, "create team", func(tx *gorm.DB) error {
		event, err := lockEventFor(tx, capab, eventID, "SHARE")
		if err != nil {
			return err
		}
		if event.Mode != models.ModeQuick && !capab.Tier.Satisfies(TierAdmin) {
			return withMessage(ErrInsufficientTier, "only the admin can add teams to %s events", event.Mode)
		}
		if event.EventStatus != models.StatusDraft && event.EventStatus != models.StatusActive {
			return withMessage(ErrEventNotActive, "teams can only be added while the event is draft or active")
		}

		var count int64
		if err := tx.Model(&models.Team{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
			return err
		}
		if count >= MaxTeamsPerEvent {
			return validationError("an event can have at most %d teams", MaxTeamsPerEvent)
		}

		key := utils.NameKey(in.Name)
		if err := ensureTeamNameFree(tx, eventID, in.Name, key, ""); err != nil {
			return err
		}

		color := in.Color
		if color == "" {
			color = utils.PickTeamColor(int(count))
		}
		team = &models.Team{
			ID:      uuid.NewString(),
			EventID: eventID,
			Name:    in.Name,
			NameKey: key,
			Color:   color,
		}
		if err := tx.Create(team).Error; err != nil {
			return err
		}
		return recordAudit(tx, eventID, "team.created", capab.Tier, map[string]any{"team_id": team.ID, "name": team.Name})
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (s *TeamService) UpdateTeam(ctx context.Context, capab *Capability, eventID, teamID string, in UpdateTeamInput) (*models.Team, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := utils.NormalizeName(*in.Name)
		if name == "" {
			return nil, validationError("name is required")
		}
		in.Name = &name
	}
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, validationError("%s", err.Error())
	}

	var team *models.Team
	err := runInTx(ctx, s.DB, "update team", func(tx *gorm.DB) error {
		t, err := s.openTeamEdit(tx, capab, eventID, teamID)
		if err != nil {
			return err
		}
		changes := map[string]any{}
		if in.Name != nil && *in.Name != t.Name {
			key := utils.NameKey(*in.Name)
			if err := ensureTeamNameFree(tx, eventID, *in.Name, key, t.ID); err != nil {
				return err
			}
			t.Name = *in.Name
			t.NameKey = key
			changes["name"] = t.Name
		}
		if in.Color != nil && *in.Color != t.Color {
			t.Color = *in.Color
			changes["color"] = t.Color
		}
		if len(changes) == 0 {
			team = t
			return nil
		}
		if err := tx.Save(t).Error; err != nil {
			return err
		}
		team = t
		changes["team_id"] = t.ID
		return recordAudit(tx, eventID, "team.updated", capab.Tier, changes)
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// DisableTeam soft-disables a team. Its scores keep counting; new scores are
// refused.
func (s *TeamService) DisableTeam(ctx context.Context, capab *Capability, eventID, teamID string) (*models.Team, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}

	var team *models.Team
	err := runInTx(ctx, s.DB, "disable team", func(tx *gorm.DB) error {
		t, err := s.openTeamEdit(tx, capab, eventID, teamID)
		if err != nil {
			return err
		}
		if t.IsDisabled {
			return withMessage(ErrTeamDisabled, "team %q is already disabled", t.Name)
		}
		now := s.Clock.Now().UTC()
		t.IsDisabled = true
		t.DisabledAt = &now
		if err := tx.Save(t).Error; err != nil {
			return err
		}
		team = t
		return recordAudit(tx, eventID, "team.disabled", capab.Tier, map[string]any{"team_id": t.ID})
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// UploadAvatar stores the image first and then points the team at it. The
// previous object is removed once the new reference is committed.
func (s *TeamService) UploadAvatar(ctx context.Context, capab *Capability, eventID, teamID string, file *multipart.FileHeader) (*models.Team, error) {
	if err := capab.Authorize(eventID, TierScorer); err != nil {
		return nil, err
	}
	if s.Avatars == nil {
		return nil, ErrAvatarStorageUnavailable
	}
	if file == nil {
		return nil, validationError("avatar file is required")
	}
	if file.Size > utils.MaxAvatarBytes {
		return nil, validationError("avatar must be at most %d bytes", utils.MaxAvatarBytes)
	}
	key, err := utils.AvatarObjectKey(eventID, teamID, file.Filename)
	if err != nil {
		return nil, validationError("%s", err.Error())
	}

	var existing models.Team
	if err := s.DB.WithContext(ctx).Where("id = ? AND event_id = ?", teamID, eventID).Take(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotInEvent
		}
		return nil, transactionFailed(err)
	}

	url, err := s.Avatars.Upload(ctx, key, file)
	if err != nil {
		log.Printf("❌ [AVATAR] upload for team %s failed: %v", teamID, err)
		return nil, transactionFailed(err)
	}

	var (
		team   *models.Team
		oldKey string
	)
	err = runInTx(ctx, s.DB, "set team avatar", func(tx *gorm.DB) error {
		t, err := s.openTeamEdit(tx, capab, eventID, teamID)
		if err != nil {
			return err
		}
		oldKey = t.AvatarKey
		t.AvatarURL = &url
		t.AvatarKey = key
		if err := tx.Save(t).Error; err != nil {
			return err
		}
		team = t
		return recordAudit(tx, eventID, "team.avatar_updated", capab.Tier, map[string]any{"team_id": t.ID})
	})
	if err != nil {
		s.deleteObject(key)
		return nil, err
	}
	if oldKey != "" && oldKey != key {
		s.deleteObject(oldKey)
	}
	return team, nil
}

func (s *TeamService) ListTeams(ctx context.Context, capab *Capability, eventID string) ([]models.Team, error) {
	if err := capab.Authorize(eventID, TierPublic); err != nil {
		return nil, err
	}
	var teams []models.Team
	if err := s.DB.WithContext(ctx).Where("event_id = ?", eventID).Order("created_at ASC, id ASC").Find(&teams).Error; err != nil {
		return nil, transactionFailed(err)
	}
	return teams, nil
}

// openTeamEdit locks the event and the team for an admin edit. Archived
// events are frozen.
func (s *TeamService) openTeamEdit(tx *gorm.DB, capab *Capability, eventID, teamID string) (*models.Team, error) {
	event, err := lockEventFor(tx, capab, eventID, "SHARE")
	if err != nil {
		return nil, err
	}
	if event.EventStatus == models.StatusArchived {
		return nil, withMessage(ErrEventNotActive, "archived events cannot be edited")
	}
	teams, err := lockTeams(tx, eventID, []string{teamID})
	if err != nil {
		return nil, err
	}
	team, ok := teams[teamID]
	if !ok {
		return nil, ErrTeamNotInEvent
	}
	return team, nil
}

func (s *TeamService) deleteObject(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Avatars.Delete(ctx, key); err != nil {
		log.Printf("⚠️ [AVATAR] could not delete %s: %v", key, err)
	}
}

func ensureTeamNameFree(tx *gorm.DB, eventID, name, key, exceptID string) error {
	q := tx.Model(&models.Team{}).Where("event_id = ? AND name_key = ?", eventID, key)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return withMessage(ErrDuplicateTeamName, "a team named %q already exists in this event", name)
	}
	return nil
}
