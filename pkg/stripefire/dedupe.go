package stripefire

import "context"

// EventDeduper tracks processed webhook event IDs. Handlers are idempotent by
// design (full-rebuild reconciliation, merge-writes), so a deduper is an
// optimization, not a correctness requirement: the dispatcher treats a nil
// deduper as disabled and a deduper failure as "not seen".
// See dedupe/redis for the Redis implementation.
type EventDeduper interface {
	// Seen marks the event ID as processed and reports whether it had
	// already been marked.
	Seen(ctx context.Context, eventID string) (bool, error)
}
