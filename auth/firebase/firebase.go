// Package firebase implements stripefire.ClaimsUpdater on Firebase
// Authentication custom claims.
package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// ClaimsUpdater writes the role claim into Firebase custom user claims.
// Existing unrelated claims are preserved: the claim is merged, not replaced.
type ClaimsUpdater struct {
	client *auth.Client
}

// NewClaimsUpdater creates a claims updater over a Firebase Auth client.
func NewClaimsUpdater(client *auth.Client) *ClaimsUpdater {
	return &ClaimsUpdater{client: client}
}

// SetRoleClaim sets the role claim for the user, or explicitly nulls it when
// role is nil so clients observing the claim see revocation, not absence of
// an update.
func (c *ClaimsUpdater) SetRoleClaim(ctx context.Context, uid string, role *string) error {
	user, err := c.client.GetUser(ctx, uid)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return fmt.Errorf("%w: %s", stripefire.ErrUserNotFound, uid)
		}
		return fmt.Errorf("failed to load user %s: %w", uid, err)
	}

	claims := make(map[string]interface{}, len(user.CustomClaims)+1)
	for k, v := range user.CustomClaims {
		claims[k] = v
	}
	if role != nil {
		claims[stripefire.RoleClaimKey] = *role
	} else {
		claims[stripefire.RoleClaimKey] = nil
	}

	if err := c.client.SetCustomUserClaims(ctx, uid, claims); err != nil {
		if auth.IsUserNotFound(err) {
			return fmt.Errorf("%w: %s", stripefire.ErrUserNotFound, uid)
		}
		return fmt.Errorf("failed to set custom claims for %s: %w", uid, err)
	}
	return nil
}
