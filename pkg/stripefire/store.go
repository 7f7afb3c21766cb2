package stripefire

import (
	"context"
	"time"
)

// Store is the document-database boundary. Implementations persist mirror
// records with last-write-wins merge semantics per document; no cross-document
// transaction is expected or used. See storage/firestore, storage/postgres
// and storage/memory.
type Store interface {
	// GetCustomer returns the customer record for a local user ID.
	// Returns ErrCustomerNotFound when the record does not exist.
	GetCustomer(ctx context.Context, uid string) (*Customer, error)

	// SetCustomer merges the customer record for a local user ID.
	SetCustomer(ctx context.Context, c *Customer) error

	// FindCustomerUIDs returns the local user IDs whose customer record
	// carries the given Stripe customer ID. Callers enforce the
	// exactly-one-match invariant; the store reports all matches.
	FindCustomerUIDs(ctx context.Context, stripeCustomerID string) ([]string, error)

	// DeleteCustomer removes the customer record. Missing records are not an
	// error: an external data-deletion extension may have removed the record
	// already.
	DeleteCustomer(ctx context.Context, uid string) error

	// SetProduct merges a product mirror record.
	SetProduct(ctx context.Context, p *Product) error

	// DeleteProduct deletes a product mirror record. Prices under the product
	// are not cascaded; each price-delete event arrives independently.
	DeleteProduct(ctx context.Context, productID string) error

	// SetPrice merges a price mirror record under its product.
	SetPrice(ctx context.Context, p *Price) error

	// DeletePrice deletes a price mirror record.
	DeletePrice(ctx context.Context, productID, priceID string) error

	// SetTaxRate merges a tax rate record under the reserved sub-path.
	SetTaxRate(ctx context.Context, t *TaxRate) error

	// GetSubscription returns a subscription record.
	// Returns ErrSubscriptionNotFound when the record does not exist.
	GetSubscription(ctx context.Context, uid, subscriptionID string) (*Subscription, error)

	// SetSubscription overwrites a subscription record with the full rebuild.
	SetSubscription(ctx context.Context, uid string, s *Subscription) error

	// ListSubscriptions returns all subscription records of a customer.
	ListSubscriptions(ctx context.Context, uid string) ([]*Subscription, error)

	// MarkSubscriptionsCanceled sets status "canceled" with the given end
	// timestamp on every trialing or active subscription of the customer and
	// returns how many records were updated. Idempotent: Stripe's own
	// subscription-deleted webhooks converge to the same terminal state.
	MarkSubscriptionsCanceled(ctx context.Context, uid string, endedAt time.Time) (int, error)

	// SetInvoice merges an invoice record under its subscription.
	SetInvoice(ctx context.Context, uid string, inv *Invoice) error

	// SetPayment merges a payment record under the customer.
	SetPayment(ctx context.Context, uid string, p *Payment) error

	// UpdateCheckoutSession merges fields back onto a checkout_sessions
	// document. This is the only write path that reports failures into
	// application-visible data (the "error" field), since the document is the
	// client's feedback channel.
	UpdateCheckoutSession(ctx context.Context, uid, sessionDocID string, fields map[string]interface{}) error
}
