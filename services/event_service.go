package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"time"

	"scorekeeper/config"
	"scorekeeper/models"
	"scorekeeper/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// AvatarStore is the object storage used for team avatars.
type AvatarStore interface {
	Upload(ctx context.Context, key string, file *multipart.FileHeader) (string, error)
	Delete(ctx context.Context, key string) error
}

// EventService owns event creation, lifecycle changes, day locks, token
// rotation and the cleanup sweep.
type EventService struct {
	DB             *gorm.DB
	Clock          clockwork.Clock
	Notifier       Notifier
	Avatars        AvatarStore
	TokenBytes     int
	QuickRetention time.Duration
	PublicBaseURL  string
}

func NewEventService(db *gorm.DB, clock clockwork.Clock, cfg *config.Config) *EventService {
	return &EventService{
		DB:             db,
		Clock:          clock,
		Notifier:       LogNotifier{},
		TokenBytes:     cfg.TokenBytes,
		QuickRetention: cfg.QuickRetention,
		PublicBaseURL:  cfg.PublicBaseURL,
	}
}

type CreateEventInput struct {
	Name          string           `json:"name" validate:"required,max=120"`
	Mode          models.EventMode `json:"mode" validate:"required,oneof=quick camp advanced"`
	AllowNegative bool             `json:"allow_negative"`
	StartsAt      *time.Time       `json:"starts_at"`
	EndsAt        *time.Time       `json:"ends_at"`
	NumDays       int              `json:"num_days" validate:"min=0"`
	ContactEmail  string           `json:"contact_email" validate:"omitempty,email,max=254"`
	Teams         []string         `json:"teams" validate:"max=100,dive,required,max=60"`
}

type EventTokens struct {
	Admin  string `json:"admin"`
	Scorer string `json:"scorer"`
	Public string `json:"public"`
}

type ShareLinks struct {
	Admin  string `json:"admin,omitempty"`
	Scorer string `json:"scorer,omitempty"`
	Public string `json:"public"`
}

type CreatedEvent struct {
	Event  *models.Event `json:"event"`
	Teams  []models.Team `json:"teams"`
	Tokens EventTokens   `json:"tokens"`
	Links  ShareLinks    `json:"links"`
}

// EventView is an event as shown to a token holder. Tokens and links are
// filled according to the holder's tier.
type EventView struct {
	*models.Event
	LegacyStatus string            `json:"status"`
	Expired      bool              `json:"expired"`
	Access       string            `json:"access"`
	Days         []models.EventDay `json:"days"`
	Tokens       *EventTokens      `json:"tokens,omitempty"`
	Links        *ShareLinks       `json:"links,omitempty"`
}

type RegeneratedToken struct {
	Tier  string `json:"tier"`
	Token string `json:"token"`
	URL   string `json:"url"`
}

// CreateEvent mints the three capability tokens and persists the event (and
// any initial teams) in one transaction.
func (s *EventService) CreateEvent(ctx context.Context, in CreateEventInput) (*CreatedEvent, error) {
	in.Name = utils.NormalizeName(in.Name)
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, validationError("%s", err.Error())
	}

	now := s.now()
	numDays := in.NumDays
	if numDays == 0 {
		numDays = 1
	}
	maxDays := MaxDaysForMode(in.Mode)
	if numDays > maxDays {
		return nil, validationError("%s events can run at most %d day(s)", in.Mode, maxDays)
	}

	startsAt := now
	if in.StartsAt != nil {
		startsAt = in.StartsAt.UTC()
	}
	endsAt := startsAt.Add(time.Duration(numDays) * 24 * time.Hour)
	if in.EndsAt != nil {
		requested := in.EndsAt.UTC()
		if !requested.After(startsAt) {
			return nil, validationError("ends_at must be after starts_at")
		}
		if requested.Sub(startsAt) > time.Duration(maxDays)*24*time.Hour {
			return nil, validationError("%s events can run at most %d day(s)", in.Mode, maxDays)
		}
		endsAt = requested
	}

	event := &models.Event{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Mode:          in.Mode,
		EventStatus:   InitialStatus(in.Mode),
		AllowNegative: in.AllowNegative,
		StartsAt:      startsAt,
		EndsAt:        endsAt,
		NumDays:       numDays,
		ContactEmail:  in.ContactEmail,
	}
	event.Slug = utils.EventSlug(event.Name, event.ID)
	if in.Mode == models.ModeQuick {
		cleanupAt := endsAt.Add(s.QuickRetention)
		event.AutoCleanupDate = &cleanupAt
	}

	teams := make([]models.Team, 0, len(in.Teams))
	seen := make(map[string]bool, len(in.Teams))
	for i, name := range in.Teams {
		name = utils.NormalizeName(name)
		key := utils.NameKey(name)
		if key == "" {
			return nil, validationError("teams[%d] is required", i)
		}
		if seen[key] {
			return nil, withMessage(ErrDuplicateTeamName, "team %q is listed more than once", name)
		}
		seen[key] = true
		teams = append(teams, models.Team{
			ID:      uuid.NewString(),
			EventID: event.ID,
			Name:    name,
			NameKey: key,
			Color:   utils.PickTeamColor(i),
		})
	}

	var tokens EventTokens
	err := runInTx(ctx, s.DB, "create event", func(tx *gorm.DB) error {
		var err error
		if tokens, err = s.mintTokens(); err != nil {
			return err
		}
		event.AdminToken = tokens.Admin
		event.ScorerToken = tokens.Scorer
		event.PublicToken = tokens.Public

		if err := tx.Create(event).Error; err != nil {
			return err
		}
		if len(teams) > 0 {
			if err := tx.Create(&teams).Error; err != nil {
				return err
			}
		}
		return recordAudit(tx, event.ID, "event.created", TierAdmin, map[string]any{
			"name":   event.Name,
			"mode":   event.Mode,
			"status": event.EventStatus,
			"teams":  len(teams),
		})
	})
	if err != nil {
		return nil, err
	}

	links := s.linksFor(event, TierAdmin)
	log.Printf("✅ [EVENT] created %s event %s (%s)", event.Mode, event.ID, event.Name)
	dispatchNotification(s.Notifier, Notification{
		Kind:      "event.created",
		EventID:   event.ID,
		EventName: event.Name,
		Recipient: event.ContactEmail,
		Data: map[string]any{
			"admin_url":  links.Admin,
			"scorer_url": links.Scorer,
			"public_url": links.Public,
		},
	})

	return &CreatedEvent{Event: event, Teams: teams, Tokens: tokens, Links: links}, nil
}

// GetEvent returns the event as seen by the capability holder.
func (s *EventService) GetEvent(ctx context.Context, capab *Capability, eventID string) (*EventView, error) {
	if err := capab.Authorize(eventID, TierPublic); err != nil {
		return nil, err
	}
	event := capab.Event
	days, err := s.ListDays(ctx, capab, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	view := &EventView{
		Event:        event,
		LegacyStatus: event.LegacyStatus(now),
		Expired:      IsExpired(event, now),
		Access:       capab.Tier.String(),
		Days:         days,
	}
	links := s.linksFor(event, capab.Tier)
	view.Links = &links
	if capab.Tier == TierAdmin {
		view.Tokens = &EventTokens{Admin: event.AdminToken, Scorer: event.ScorerToken, Public: event.PublicToken}
	}
	return view, nil
}

// TransitionStatus moves the event through the lifecycle. The machine's
// reason is returned verbatim when the change is refused.
func (s *EventService) TransitionStatus(ctx context.Context, capab *Capability, eventID string, to models.EventStatus) (*models.Event, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, validationError("status must be one of: draft, active, completed, archived")
	}

	var (
		updated *models.Event
		from    models.EventStatus
	)
	err := runInTx(ctx, s.DB, "transition event", func(tx *gorm.DB) error {
		event, err := lockEventFor(tx, capab, eventID, "UPDATE")
		if err != nil {
			return err
		}
		now := s.now()
		d := CanTransition(event.EventStatus, to, event.Mode, event.IsFinalized, IsExpired(event, now))
		if !d.Allowed {
			if to == models.StatusCompleted && event.IsFinalized {
				return withMessage(ErrAlreadyFinalized, "%s", d.Reason)
			}
			return withMessage(ErrTransitionNotAllowed, "%s", d.Reason)
		}

		from = event.EventStatus
		ApplyTransition(event, to, now)
		if err := tx.Save(event).Error; err != nil {
			return err
		}
		updated = event
		return recordAudit(tx, event.ID, "event.status_changed", capab.Tier, map[string]any{
			"from":             from,
			"to":               to,
			"unfinalize_count": event.UnfinalizeCount,
		})
	})
	if err != nil {
		return nil, err
	}

	if from == models.StatusCompleted && to == models.StatusActive {
		log.Printf("⚠️ [EVENT] event %s (%s) was UNFINALIZED; results reopened %d time(s)", updated.ID, updated.Name, updated.UnfinalizeCount)
	} else {
		log.Printf("✅ [EVENT] event %s moved %s -> %s", updated.ID, from, to)
	}

	switch to {
	case models.StatusCompleted:
		s.notify("event.finalized", updated, nil)
	case models.StatusArchived:
		s.notify("event.archived", updated, nil)
	case models.StatusActive:
		if from == models.StatusCompleted {
			s.notify("event.unfinalized", updated, map[string]any{"unfinalize_count": updated.UnfinalizeCount})
		}
	}
	return updated, nil
}

func (s *EventService) LockDay(ctx context.Context, capab *Capability, eventID string, dayNumber int) (*models.EventDay, error) {
	return s.setDayLock(ctx, capab, eventID, dayNumber, true)
}

func (s *EventService) UnlockDay(ctx context.Context, capab *Capability, eventID string, dayNumber int) (*models.EventDay, error) {
	return s.setDayLock(ctx, capab, eventID, dayNumber, false)
}

// setDayLock keeps Event.LockedDays and EventDay.IsLocked in step.
func (s *EventService) setDayLock(ctx context.Context, capab *Capability, eventID string, dayNumber int, lock bool) (*models.EventDay, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}
	if dayNumber < 1 {
		return nil, validationError("day number must be positive")
	}

	action := "day.unlocked"
	if lock {
		action = "day.locked"
	}

	var day *models.EventDay
	err := runInTx(ctx, s.DB, action, func(tx *gorm.DB) error {
		event, err := lockEventFor(tx, capab, eventID, "UPDATE")
		if err != nil {
			return err
		}
		if dayNumber > event.NumDays {
			return validationError("day %d is outside this event's %d day(s)", dayNumber, event.NumDays)
		}

		d := CanUnlockDay(event, dayNumber)
		if lock {
			d = CanLockDay(event, dayNumber)
		}
		if !d.Allowed {
			return withMessage(ErrDayLockConflict, "%s", d.Reason)
		}

		day, err = ensureEventDay(tx, eventID, dayNumber)
		if err != nil {
			return err
		}
		if lock {
			now := s.now()
			event.LockedDays = event.LockedDays.With(dayNumber)
			day.IsLocked = true
			day.LockedAt = &now
		} else {
			event.LockedDays = event.LockedDays.Without(dayNumber)
			day.IsLocked = false
			day.LockedAt = nil
		}
		if err := tx.Save(event).Error; err != nil {
			return err
		}
		if err := tx.Save(day).Error; err != nil {
			return err
		}
		return recordAudit(tx, eventID, action, capab.Tier, map[string]any{"day_number": dayNumber})
	})
	if err != nil {
		return nil, err
	}
	return day, nil
}

// RenameDay changes a day's display label.
func (s *EventService) RenameDay(ctx context.Context, capab *Capability, eventID string, dayNumber int, label string) (*models.EventDay, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}
	label = utils.NormalizeName(label)
	if dayNumber < 1 {
		return nil, validationError("day number must be positive")
	}
	if label == "" {
		label = models.DefaultDayLabel(dayNumber)
	}
	if len(label) > 60 {
		return nil, validationError("label must be at most 60 characters")
	}

	var day *models.EventDay
	err := runInTx(ctx, s.DB, "rename day", func(tx *gorm.DB) error {
		event, err := lockEventFor(tx, capab, eventID, "SHARE")
		if err != nil {
			return err
		}
		if event.EventStatus == models.StatusArchived {
			return withMessage(ErrEventNotActive, "archived events cannot be edited")
		}
		if dayNumber > event.NumDays {
			return validationError("day %d is outside this event's %d day(s)", dayNumber, event.NumDays)
		}
		day, err = ensureEventDay(tx, eventID, dayNumber)
		if err != nil {
			return err
		}
		day.Label = label
		if err := tx.Save(day).Error; err != nil {
			return err
		}
		return recordAudit(tx, eventID, "day.renamed", capab.Tier, map[string]any{"day_number": dayNumber, "label": label})
	})
	if err != nil {
		return nil, err
	}
	return day, nil
}

func (s *EventService) ListDays(ctx context.Context, capab *Capability, eventID string) ([]models.EventDay, error) {
	if err := capab.Authorize(eventID, TierPublic); err != nil {
		return nil, err
	}
	var days []models.EventDay
	if err := s.DB.WithContext(ctx).Where("event_id = ?", eventID).Order("day_number ASC").Find(&days).Error; err != nil {
		return nil, transactionFailed(err)
	}
	return days, nil
}

// RegenerateToken replaces one of the event's tokens. The old value stops
// working in the same statement that installs the new one.
func (s *EventService) RegenerateToken(ctx context.Context, capab *Capability, eventID string, tier Tier) (*RegeneratedToken, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}
	if tier < TierPublic || tier > TierAdmin {
		return nil, validationError("tier must be one of: admin, scorer, public")
	}

	var out *RegeneratedToken
	err := runInTx(ctx, s.DB, "regenerate token", func(tx *gorm.DB) error {
		event, err := lockEventFor(tx, capab, eventID, "UPDATE")
		if err != nil {
			return err
		}
		token, err := utils.GenerateToken(s.tokenBytes())
		if err != nil {
			return err
		}
		switch tier {
		case TierAdmin:
			event.AdminToken = token
		case TierScorer:
			event.ScorerToken = token
		case TierPublic:
			event.PublicToken = token
		}
		if err := tx.Save(event).Error; err != nil {
			return err
		}
		out = &RegeneratedToken{Tier: tier.String(), Token: token, URL: s.linkFor(event, tier)}
		return recordAudit(tx, eventID, "token.regenerated", capab.Tier, map[string]any{"tier": tier.String()})
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🔑 [EVENT] %s token regenerated for event %s", tier, eventID)
	return out, nil
}

// AuditLog returns the newest audit entries first.
func (s *EventService) AuditLog(ctx context.Context, capab *Capability, eventID string, limit int) ([]models.AuditEntry, error) {
	if err := capab.Authorize(eventID, TierAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var entries []models.AuditEntry
	err := s.DB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, transactionFailed(err)
	}
	return entries, nil
}

func (s *EventService) mintTokens() (EventTokens, error) {
	var tokens EventTokens
	var err error
	if tokens.Admin, err = utils.GenerateToken(s.tokenBytes()); err != nil {
		return tokens, err
	}
	if tokens.Scorer, err = utils.GenerateToken(s.tokenBytes()); err != nil {
		return tokens, err
	}
	if tokens.Public, err = utils.GenerateToken(s.tokenBytes()); err != nil {
		return tokens, err
	}
	return tokens, nil
}

func (s *EventService) tokenBytes() int {
	if s.TokenBytes < utils.MinTokenBytes {
		return utils.DefaultTokenBytes
	}
	return s.TokenBytes
}

// linksFor returns the share links a holder of tier may see.
func (s *EventService) linksFor(event *models.Event, tier Tier) ShareLinks {
	links := ShareLinks{Public: s.linkFor(event, TierPublic)}
	if tier.Satisfies(TierScorer) {
		links.Scorer = s.linkFor(event, TierScorer)
	}
	if tier.Satisfies(TierAdmin) {
		links.Admin = s.linkFor(event, TierAdmin)
	}
	return links
}

func (s *EventService) linkFor(event *models.Event, tier Tier) string {
	switch tier {
	case TierAdmin:
		return fmt.Sprintf("%s/e/%s/admin?t=%s", s.PublicBaseURL, event.Slug, event.AdminToken)
	case TierScorer:
		return fmt.Sprintf("%s/e/%s/score?t=%s", s.PublicBaseURL, event.Slug, event.ScorerToken)
	default:
		return fmt.Sprintf("%s/e/%s?t=%s", s.PublicBaseURL, event.Slug, event.PublicToken)
	}
}

func (s *EventService) notify(kind string, event *models.Event, data map[string]any) {
	dispatchNotification(s.Notifier, Notification{
		Kind:      kind,
		EventID:   event.ID,
		EventName: event.Name,
		Recipient: event.ContactEmail,
		Data:      data,
	})
}

func (s *EventService) now() time.Time {
	return s.Clock.Now().UTC()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
