package middleware

import (
	"log"
	"strings"

	"scorekeeper/services"

	"github.com/gofiber/fiber/v2"
)

const capabilityLocalsKey = "capability"

// Token headers, checked in this order. The header names the tier the caller
// is asserting.
var tokenHeaders = []struct {
	name string
	tier services.Tier
}{
	{"X-ADMIN-TOKEN", services.TierAdmin},
	{"X-SCORER-TOKEN", services.TierScorer},
	{"X-PUBLIC-TOKEN", services.TierPublic},
}

// RequireCapability resolves the presented token, checks it reaches required
// and is scoped to the event in the :id route param, and stores the
// capability for the handler.
func RequireCapability(resolver *services.Resolver, required services.Tier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, asserted := extractToken(c, required)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "capability token missing",
				"code":  "token_missing",
			})
		}

		capab, err := resolver.ResolveAsserted(c.UserContext(), token, asserted, required)
		if err != nil {
			log.Printf("🚫 [CAPABILITY] %s %s rejected (token prefix: %.6s...): %v", c.Method(), c.Path(), token, err)
			return services.RespondError(c, err)
		}

		if eventID := c.Params("id"); eventID != "" {
			if err := capab.Authorize(eventID, required); err != nil {
				log.Printf("🚫 [CAPABILITY] %s token for event %s used on event %s", capab.Tier, capab.Event.ID, eventID)
				return services.RespondError(c, err)
			}
		}

		c.Locals(capabilityLocalsKey, capab)
		return c.Next()
	}
}

// CapabilityFrom returns the capability stored by RequireCapability.
func CapabilityFrom(c *fiber.Ctx) *services.Capability {
	capab, _ := c.Locals(capabilityLocalsKey).(*services.Capability)
	return capab
}

// extractToken reads the tier headers, then "Authorization: Bearer", then,
// for public reads only, the ?t= query parameter used by share links. A zero
// tier means the resolver infers it.
func extractToken(c *fiber.Ctx, required services.Tier) (string, services.Tier) {
	for _, h := range tokenHeaders {
		if v := strings.TrimSpace(c.Get(h.name)); v != "" {
			return v, h.tier
		}
	}
	if auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:]), 0
		}
	}
	if required == services.TierPublic {
		if v := strings.TrimSpace(c.Query("t")); v != "" {
			return v, 0
		}
	}
	return "", 0
}
