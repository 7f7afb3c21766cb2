// Package gin provides Gin middleware that gates requests on an active
// mirrored subscription.
package gin

import (
	"context"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// RoleContextKey is the context key the middleware stores the granting role under
const RoleContextKey = "stripefire:role"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

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
	OnUnauthorized func(c *gongin.Context)

	// OnNoSubscription is called when no qualifying subscription exists
	// If nil, returns 403 Forbidden
	OnNoSubscription func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that requires an active subscription
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Store == nil {
		panic("stripefire/gin: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("stripefire/gin: Config.GetUserID is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		subs, err := cfg.Store.ListSubscriptions(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
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
			c.Next()
			return
		}

		if cfg.OnNoSubscription != nil {
			cfg.OnNoSubscription(c)
		} else {
			c.JSON(http.StatusForbidden, gongin.H{"error": "Forbidden"})
		}
		c.Abort()
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
//
// Example:
//
//	// In your auth middleware:
//	c.Set("UserID", userID)
//
//	// In middleware config:
//	GetUserID: gin.FromContext("UserID")
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}

// RoleFromContext returns the role of the subscription that granted access,
// or empty string if the middleware did not run.
func RoleFromContext(c *gongin.Context) string {
	return c.GetString(RoleContextKey)
}
