package stripefire

import "errors"

var (
	// ErrNotConfigured is returned when the service is missing required configuration
	ErrNotConfigured = errors.New("stripefire service not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrCustomerNotFound is returned when no customer record matches a Stripe customer ID
	ErrCustomerNotFound = errors.New("customer record not found")

	// ErrMultipleCustomers is returned when more than one customer record matches
	// a Stripe customer ID. The lookup query must resolve to exactly one record;
	// silently picking the first match would attach billing state to the wrong user.
	ErrMultipleCustomers = errors.New("multiple customer records match stripe customer")

	// ErrUserNotFound is returned when the auth user behind a customer record no longer exists
	ErrUserNotFound = errors.New("user not found")

	// ErrSubscriptionNotFound is returned when a subscription record does not exist
	ErrSubscriptionNotFound = errors.New("subscription record not found")

	// ErrUnauthenticated is returned by the session API when no caller identity is present
	ErrUnauthenticated = errors.New("unauthenticated")
)
