// Package fiber provides Fiber middleware that gates requests on an active
// mirrored subscription.
package fiber

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// RoleLocal is the Locals key the middleware stores the granting role under
const RoleLocal = "stripefire:role"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// SubscriptionLister is the slice of stripefire.Store the middleware needs.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, uid string) ([]*stripefire.Subscription, error)
}

// Config holds middleware configuration
type Config struct {
	// Store reads mirrored subscriptions (required)
	Store SubscriptionLister

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// RequiredRole restricts access to subscriptions carrying this role.
	// Empty means any active or trialing subscription passes.
	RequiredRole string

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnNoSubscription is called when no qualifying subscription exists
	// If nil, returns 403 Forbidden
	OnNoSubscription func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that requires an active subscription
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Store == nil {
		panic("stripefire/fiber: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("stripefire/fiber: Config.GetUserID is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		// Fiber uses fasthttp, so c.UserContext() carries the context.Context
		subs, err := cfg.Store.ListSubscriptions(c.UserContext(), userID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		for _, sub := range subs {
			if !sub.Active() {
				continue
			}
			role := ""
			if sub.Role != nil {
				role = *sub.Role
			}
			if cfg.RequiredRole != "" && role != cfg.RequiredRole {
				continue
			}
			c.Locals(RoleLocal, role)
			return c.Next()
		}

		if cfg.OnNoSubscription != nil {
			return cfg.OnNoSubscription(c)
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Fiber context values (Locals)
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Locals("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
