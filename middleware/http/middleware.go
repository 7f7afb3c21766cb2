// Package http provides HTTP middleware that gates requests on an active
// mirrored subscription. The check reads the local mirror, never Stripe, so
// it is as fresh as the last reconciliation.
package http

import (
	"context"
	"net/http"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// SubscriptionLister is the slice of stripefire.Store the middleware needs.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, uid string) ([]*stripefire.Subscription, error)
}

// Config holds middleware configuration
type Config struct {
	// Store reads mirrored subscriptions (required)
	Store SubscriptionLister

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// RequiredRole restricts access to subscriptions carrying this role.
	// Empty means any active or trialing subscription passes.
	RequiredRole string

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnNoSubscription is called when no qualifying subscription exists
	// If nil, returns 403 Forbidden
	OnNoSubscription func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that requires an active subscription
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			sub, err := activeSubscription(r.Context(), config, userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if sub == nil {
				if config.OnNoSubscription != nil {
					config.OnNoSubscription(w, r)
				} else {
					http.Error(w, "Forbidden", http.StatusForbidden)
				}
				return
			}

			role := ""
			if sub.Role != nil {
				role = *sub.Role
			}
			ctx := context.WithValue(r.Context(), RoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// activeSubscription returns the first subscription that grants access under
// the config, or nil when none qualifies.
func activeSubscription(ctx context.Context, config Config, userID string) (*stripefire.Subscription, error) {
	subs, err := config.Store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}
		if config.RequiredRole == "" {
			return sub, nil
		}
		if sub.Role != nil && *sub.Role == config.RequiredRole {
			return sub, nil
		}
	}
	return nil, nil
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "stripefire:userID"

	// RoleKey is the context key the middleware stores the granting role under
	RoleKey ContextKey = "stripefire:role"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// RoleFromContext returns the granting role stored by the middleware
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}
