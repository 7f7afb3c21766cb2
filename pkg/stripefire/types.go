// Package stripefire keeps a document-database mirror of Stripe billing state
// in sync: it reacts to webhook events and document triggers, rebuilds mirror
// records from authoritative Stripe state, and maintains role-based custom
// claims derived from subscription status.
package stripefire

import "time"

const (
	// MetadataPrefix is prepended to every Stripe metadata key before it is
	// flattened onto a mirror document, so user metadata cannot collide with
	// system fields.
	MetadataPrefix = "stripe_metadata_"

	// RoleMetadataKey is the reserved Stripe metadata key that carries the
	// authorization role. It is extracted into the dedicated `role` field and
	// never appears prefixed alongside it.
	RoleMetadataKey = "firebaseRole"

	// UIDMetadataKey links a Stripe customer object back to the local user ID.
	UIDMetadataKey = "firebaseUID"

	// RoleClaimKey is the custom-claim key holding the derived role.
	RoleClaimKey = "stripeRole"
)

// Customer mirrors the link between a local user and a Stripe customer.
// Keyed by the local user ID.
type Customer struct {
	UID        string    `firestore:"-" json:"uid"`
	StripeID   string    `firestore:"stripeId" json:"stripe_id"`
	StripeLink string    `firestore:"stripeLink" json:"stripe_link"`
	Email      string    `firestore:"email,omitempty" json:"email,omitempty"`
	Phone      string    `firestore:"phone,omitempty" json:"phone,omitempty"`
	UpdatedAt  time.Time `firestore:"updatedAt" json:"updated_at"`
}

// Product mirrors a Stripe product. Keyed by the Stripe product ID.
type Product struct {
	ID          string   `firestore:"id" json:"id"`
	Active      bool     `firestore:"active" json:"active"`
	Name        string   `firestore:"name" json:"name"`
	Description string   `firestore:"description,omitempty" json:"description,omitempty"`
	Images      []string `firestore:"images" json:"images"`
	// Role is extracted from the reserved metadata key, nil when absent.
	Role *string `firestore:"role" json:"role"`
	// Metadata holds the remaining metadata keys, already prefixed with
	// MetadataPrefix. Stores flatten these onto the document.
	Metadata  map[string]string `firestore:"-" json:"metadata,omitempty"`
	UpdatedAt time.Time         `firestore:"updatedAt" json:"updated_at"`
}

// PriceTier is a single tier of a tiered-billing price.
type PriceTier struct {
	UpTo       int64  `firestore:"up_to" json:"up_to"`
	FlatAmount *int64 `firestore:"flat_amount" json:"flat_amount"`
	UnitAmount *int64 `firestore:"unit_amount" json:"unit_amount"`
}

// Price mirrors a Stripe price as a sub-record of its Product.
// Keyed by the Stripe price ID.
type Price struct {
	ID              string      `firestore:"id" json:"id"`
	ProductID       string      `firestore:"product" json:"product"`
	Active          bool        `firestore:"active" json:"active"`
	Currency        string      `firestore:"currency" json:"currency"`
	UnitAmount      int64       `firestore:"unit_amount" json:"unit_amount"`
	BillingScheme   string      `firestore:"billing_scheme" json:"billing_scheme"`
	Type            string      `firestore:"type" json:"type"`
	Description     string      `firestore:"description,omitempty" json:"description,omitempty"`
	Interval        string      `firestore:"interval,omitempty" json:"interval,omitempty"`
	IntervalCount   int64       `firestore:"interval_count,omitempty" json:"interval_count,omitempty"`
	TrialPeriodDays int64       `firestore:"trial_period_days,omitempty" json:"trial_period_days,omitempty"`
	Tiers           []PriceTier `firestore:"tiers,omitempty" json:"tiers,omitempty"`
	TaxBehavior     string      `firestore:"tax_behavior,omitempty" json:"tax_behavior,omitempty"`
	// Metadata holds the remaining metadata keys, already prefixed with
	// MetadataPrefix. Stores flatten these onto the document.
	Metadata  map[string]string `firestore:"-" json:"metadata,omitempty"`
	UpdatedAt time.Time         `firestore:"updatedAt" json:"updated_at"`
}

// TaxRate mirrors a Stripe tax rate under the reserved product-collection
// sub-path. Keyed by the Stripe tax rate ID.
type TaxRate struct {
	ID          string    `firestore:"id" json:"id"`
	DisplayName string    `firestore:"display_name" json:"display_name"`
	Description string    `firestore:"description,omitempty" json:"description,omitempty"`
	Percentage  float64   `firestore:"percentage" json:"percentage"`
	Inclusive   bool      `firestore:"inclusive" json:"inclusive"`
	Active      bool      `firestore:"active" json:"active"`
	Country     string    `firestore:"country,omitempty" json:"country,omitempty"`
	State       string    `firestore:"state,omitempty" json:"state,omitempty"`
	Created     time.Time `firestore:"created" json:"created"`
	UpdatedAt   time.Time `firestore:"updatedAt" json:"updated_at"`
}

// SubscriptionItem is one line item of a mirrored subscription.
type SubscriptionItem struct {
	ID        string `firestore:"id" json:"id"`
	PriceID   string `firestore:"price" json:"price"`
	ProductID string `firestore:"product" json:"product"`
	Quantity  int64  `firestore:"quantity" json:"quantity"`
}

// Subscription mirrors a Stripe subscription as a sub-record of its Customer.
// Keyed by the Stripe subscription ID.
//
// The record is rebuilt wholesale on every reconciliation rather than patched
// field by field, so quantity/role/product/price always reflect Stripe's
// current view as of the last successful reconciliation. Cancellation is a
// status value; the record is never deleted locally.
//
// The primary item is the first item in the order returned by Stripe's
// expand. Its price and product are mirrored into the singular PriceID and
// ProductID fields for backward compatibility; PriceIDs always covers every
// item.
type Subscription struct {
	ID                 string             `firestore:"id" json:"id"`
	Status             string             `firestore:"status" json:"status"`
	Role               *string            `firestore:"role" json:"role"`
	ProductID          string             `firestore:"product" json:"product"`
	PriceID            string             `firestore:"price" json:"price"`
	PriceIDs           []string           `firestore:"prices" json:"prices"`
	Quantity           int64              `firestore:"quantity" json:"quantity"`
	Items              []SubscriptionItem `firestore:"items" json:"items"`
	CancelAtPeriodEnd  bool               `firestore:"cancel_at_period_end" json:"cancel_at_period_end"`
	Created            time.Time          `firestore:"created" json:"created"`
	CurrentPeriodStart time.Time          `firestore:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `firestore:"current_period_end" json:"current_period_end"`
	TrialStart         *time.Time         `firestore:"trial_start" json:"trial_start"`
	TrialEnd           *time.Time         `firestore:"trial_end" json:"trial_end"`
	CancelAt           *time.Time         `firestore:"cancel_at" json:"cancel_at"`
	CanceledAt         *time.Time         `firestore:"canceled_at" json:"canceled_at"`
	EndedAt            *time.Time         `firestore:"ended_at" json:"ended_at"`
	StripeLink         string             `firestore:"stripeLink" json:"stripe_link"`
	Metadata           map[string]string  `firestore:"metadata" json:"metadata"`
	UpdatedAt          time.Time          `firestore:"updatedAt" json:"updated_at"`
}

// Active reports whether the subscription grants access to its role.
func (s *Subscription) Active() bool {
	return s.Status == string(SubscriptionStatusActive) || s.Status == string(SubscriptionStatusTrialing)
}

// SubscriptionStatus values mirrored from Stripe.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// Invoice mirrors a Stripe invoice as a sub-record of a Subscription.
// Keyed by the Stripe invoice ID. Invoices are merged on relevant webhook
// events and never deleted.
type Invoice struct {
	ID               string    `firestore:"id" json:"id"`
	SubscriptionID   string    `firestore:"subscription" json:"subscription"`
	Status           string    `firestore:"status" json:"status"`
	Total            int64     `firestore:"total" json:"total"`
	AmountPaid       int64     `firestore:"amount_paid" json:"amount_paid"`
	AmountDue        int64     `firestore:"amount_due" json:"amount_due"`
	Currency         string    `firestore:"currency" json:"currency"`
	Number           string    `firestore:"number,omitempty" json:"number,omitempty"`
	HostedInvoiceURL string    `firestore:"hosted_invoice_url,omitempty" json:"hosted_invoice_url,omitempty"`
	PriceIDs         []string  `firestore:"prices" json:"prices"`
	Created          time.Time `firestore:"created" json:"created"`
	UpdatedAt        time.Time `firestore:"updatedAt" json:"updated_at"`
}

// Payment mirrors a Stripe payment intent as a sub-record of a Customer.
// Keyed by the Stripe payment intent ID. Never deleted.
type Payment struct {
	ID             string    `firestore:"id" json:"id"`
	Status         string    `firestore:"status" json:"status"`
	Amount         int64     `firestore:"amount" json:"amount"`
	AmountReceived int64     `firestore:"amount_received" json:"amount_received"`
	Currency       string    `firestore:"currency" json:"currency"`
	InvoiceID      string    `firestore:"invoice,omitempty" json:"invoice,omitempty"`
	PriceIDs       []string  `firestore:"prices" json:"prices"`
	Created        time.Time `firestore:"created" json:"created"`
	UpdatedAt      time.Time `firestore:"updatedAt" json:"updated_at"`
}

// CheckoutLineItem is one requested line item of a checkout session document.
type CheckoutLineItem struct {
	PriceID  string `firestore:"price" json:"price"`
	Quantity int64  `firestore:"quantity" json:"quantity"`
}

// CheckoutSessionRequest is the shape of a checkout_sessions document created
// by a client. The session initiator reads it, calls Stripe, and writes
// session identifiers (or error.message) back onto the same document.
type CheckoutSessionRequest struct {
	Client              string             `firestore:"client" json:"client"` // "web" or "mobile"
	Mode                string             `firestore:"mode" json:"mode"`     // "subscription", "payment" or "setup"
	PriceID             string             `firestore:"price,omitempty" json:"price,omitempty"`
	LineItems           []CheckoutLineItem `firestore:"line_items,omitempty" json:"line_items,omitempty"`
	Quantity            int64              `firestore:"quantity,omitempty" json:"quantity,omitempty"`
	Amount              int64              `firestore:"amount,omitempty" json:"amount,omitempty"`
	Currency            string             `firestore:"currency,omitempty" json:"currency,omitempty"`
	SuccessURL          string             `firestore:"success_url,omitempty" json:"success_url,omitempty"`
	CancelURL           string             `firestore:"cancel_url,omitempty" json:"cancel_url,omitempty"`
	TrialPeriodDays     int64              `firestore:"trial_period_days,omitempty" json:"trial_period_days,omitempty"`
	AllowPromotionCodes bool               `firestore:"allow_promotion_codes,omitempty" json:"allow_promotion_codes,omitempty"`
	AutomaticTax        bool               `firestore:"automatic_tax,omitempty" json:"automatic_tax,omitempty"`
	CollectShipping     bool               `firestore:"collect_shipping_address,omitempty" json:"collect_shipping_address,omitempty"`
	Metadata            map[string]string  `firestore:"metadata,omitempty" json:"metadata,omitempty"`
}
