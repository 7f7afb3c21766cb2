package client

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
	fsstore "github.com/mihaimyh/stripefire/storage/firestore"
)

// WatchSubscriptions streams the user's mirrored subscriptions. The callback
// fires once with the initial result set, even when it is empty, and again on
// every change. Errors end the watch after a final callback with a non-nil
// error. The returned stop function ends the watch; it is safe to call more
// than once.
func (c *Client) WatchSubscriptions(ctx context.Context, uid string, fn func([]*stripefire.Subscription, error)) func() {
	query := c.fs.Collection(c.customers).Doc(uid).Collection("subscriptions").Query
	return watch(ctx, query, fn, func(snap *firestore.DocumentSnapshot) *stripefire.Subscription {
		return fsstore.ParseSubscription(snap.Data())
	})
}

// WatchPayments streams the user's mirrored payments with the same callback
// contract as WatchSubscriptions.
func (c *Client) WatchPayments(ctx context.Context, uid string, fn func([]*stripefire.Payment, error)) func() {
	query := c.fs.Collection(c.customers).Doc(uid).Collection("payments").Query
	return watch(ctx, query, fn, func(snap *firestore.DocumentSnapshot) *stripefire.Payment {
		return parsePayment(snap.Ref.ID, snap.Data())
	})
}

func watch[T any](ctx context.Context, query firestore.Query, fn func([]T, error), parse func(*firestore.DocumentSnapshot) T) func() {
	snapshots := query.Snapshots(ctx)

	go func() {
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled {
					return
				}
				fn(nil, fmt.Errorf("watch failed: %w", err))
				return
			}

			// Firestore delivers the first snapshot even when the result set
			// is empty, so the callback's initial fire is guaranteed.
			records := make([]T, 0)
			docs := snap.Documents
			for {
				doc, err := docs.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					fn(nil, fmt.Errorf("watch failed: %w", err))
					return
				}
				records = append(records, parse(doc))
			}
			fn(records, nil)
		}
	}()

	return snapshots.Stop
}
