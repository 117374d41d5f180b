package services

import (
	"context"
	"errors"
	"log"
	"strings"

	"scorekeeper/models"
	"scorekeeper/utils"

	"gorm.io/gorm"
)

// Tier is a capability level. Higher tiers include every lower one.
type Tier int

const (
	TierPublic Tier = iota + 1
	TierScorer
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierScorer:
		return "scorer"
	case TierAdmin:
		return "admin"
	}
	return "none"
}

// ParseTier accepts "admin", "scorer" or "public" in any case.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return TierAdmin, true
	case "scorer":
		return TierScorer, true
	case "public":
		return TierPublic, true
	}
	return 0, false
}

// Satisfies reports whether t grants at least required.
func (t Tier) Satisfies(required Tier) bool {
	return t >= required
}

// Capability is what a resolved token grants: one event at one tier. Event is
// the row as read at resolution time; Token is the value that was presented.
type Capability struct {
	Event *models.Event
	Tier  Tier
	Token string
}

// Authorize checks that the capability is for eventID and reaches required.
func (c *Capability) Authorize(eventID string, required Tier) error {
	if c == nil || c.Event == nil {
		return ErrTokenNotFound
	}
	if c.Event.ID != eventID {
		return ErrEventMismatch
	}
	if !c.Tier.Satisfies(required) {
		return withMessage(ErrInsufficientTier, "this operation requires %s access", required)
	}
	return nil
}

// recheck confirms the presented token still grants c.Tier on a freshly
// locked event row, so a token rotated after resolution stops working.
func (c *Capability) recheck(event *models.Event) error {
	if classifyToken(event, c.Token) < c.Tier {
		return withMessage(ErrTokenNotFound, "token is no longer valid for this event")
	}
	return nil
}

// Resolver maps presented tokens to capabilities by comparing them against
// the tokens stored on events.
type Resolver struct {
	DB *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{DB: db}
}

// Resolve classifies token by whichever stored field it matches and checks it
// reaches required.
func (r *Resolver) Resolve(ctx context.Context, token string, required Tier) (*Capability, error) {
	return r.ResolveAsserted(ctx, token, 0, required)
}

// ResolveAsserted is Resolve for callers that declared a tier, for example via
// X-SCORER-TOKEN. The token must match a stored field of at least the declared
// tier, and the resulting capability never exceeds the declaration. A zero
// asserted tier means "infer from the stored fields".
func (r *Resolver) ResolveAsserted(ctx context.Context, token string, asserted, required Tier) (*Capability, error) {
	if !utils.LooksLikeToken(token) {
		return nil, ErrTokenNotFound
	}

	var event models.Event
	err := r.DB.WithContext(ctx).
		Where("admin_token = ? OR scorer_token = ? OR public_token = ?", token, token, token).
		Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		log.Printf("❌ [CAPABILITY] token lookup failed: %v", err)
		return nil, transactionFailed(err)
	}

	matched := classifyToken(&event, token)
	if matched == 0 {
		return nil, ErrTokenNotFound
	}

	tier := matched
	if asserted != 0 {
		if matched < asserted {
			return nil, withMessage(ErrInsufficientTier, "token is not a valid %s token", asserted)
		}
		tier = asserted
	}
	if !tier.Satisfies(required) {
		return nil, withMessage(ErrInsufficientTier, "this operation requires %s access", required)
	}
	return &Capability{Event: &event, Tier: tier, Token: token}, nil
}

// classifyToken compares token against all three stored fields before
// deciding, so timing does not depend on which field matched.
func classifyToken(event *models.Event, token string) Tier {
	admin := utils.CompareTokens(event.AdminToken, token)
	scorer := utils.CompareTokens(event.ScorerToken, token)
	public := utils.CompareTokens(event.PublicToken, token)
	switch {
	case admin:
		return TierAdmin
	case scorer:
		return TierScorer
	case public:
		return TierPublic
	}
	return 0
}
