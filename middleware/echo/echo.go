// Package echo provides Echo middleware that gates requests on an active
// mirrored subscription.
package echo

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// RoleContextKey is the context key the middleware stores the granting role under
const RoleContextKey = "stripefire:role"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnUnauthorized func(c echo.Context) error

	// OnNoSubscription is called when no qualifying subscription exists
	// If nil, returns 403 Forbidden
	OnNoSubscription func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that requires an active subscription
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Store == nil {
		panic("stripefire/echo: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("stripefire/echo: Config.GetUserID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			subs, err := cfg.Store.ListSubscriptions(c.Request().Context(), userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
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
				c.Set(RoleContextKey, role)
				return next(c)
			}

			if cfg.OnNoSubscription != nil {
				return cfg.OnNoSubscription(c)
			}
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
//
// Example:
//
//	// In your auth middleware:
//	c.Set("UserID", userID)
//
//	// In middleware config:
//	GetUserID: echo.FromContext("UserID")
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}

// RoleFromContext returns the role of the subscription that granted access,
// or empty string if the middleware did not run.
func RoleFromContext(c echo.Context) string {
	if val := c.Get(RoleContextKey); val != nil {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
