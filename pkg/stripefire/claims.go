package stripefire

import "context"

// ClaimsUpdater attaches the derived role to a user's auth token claims.
// Passed into the service explicitly so tests can substitute a double without
// global state. See auth/firebase for the Firebase Admin implementation.
type ClaimsUpdater interface {
	// SetRoleClaim sets the role claim for the user. A nil role clears the
	// claim (the claim key is still written, with a null value, so a lapsed
	// subscription never leaves a stale role behind).
	//
	// Implementations return an error wrapping ErrUserNotFound when the user
	// no longer exists; callers treat that case as already-cleaned-up.
	SetRoleClaim(ctx context.Context, uid string, role *string) error
}

// NoopClaims ignores claim updates. For deployments that mirror billing state
// without role-based authorization.
type NoopClaims struct{}

func (n *NoopClaims) SetRoleClaim(_ context.Context, _ string, _ *string) error { return nil }
