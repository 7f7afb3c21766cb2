package stripefire

import "github.com/stripe/stripe-go/v83"

// EventKind is the handler category an inbound event dispatches to.
// Anything outside the configured EventSet classifies as EventIgnored and is
// acknowledged without processing: Stripe sends many event types no mirror
// needs, so unknown types are a silent-ignore, not an error.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventProductUpdated
	EventProductDeleted
	EventPriceUpdated
	EventPriceDeleted
	EventTaxRateUpdated
	EventCheckoutCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventInvoiceUpdated
	EventPaymentUpdated
)

// String returns the kind name for logs and metrics.
func (k EventKind) String() string {
	switch k {
	case EventProductUpdated:
		return "product_updated"
	case EventProductDeleted:
		return "product_deleted"
	case EventPriceUpdated:
		return "price_updated"
	case EventPriceDeleted:
		return "price_deleted"
	case EventTaxRateUpdated:
		return "tax_rate_updated"
	case EventCheckoutCompleted:
		return "checkout_completed"
	case EventSubscriptionCreated:
		return "subscription_created"
	case EventSubscriptionUpdated:
		return "subscription_updated"
	case EventInvoiceUpdated:
		return "invoice_updated"
	case EventPaymentUpdated:
		return "payment_updated"
	default:
		return "ignored"
	}
}

// EventSet maps Stripe event types to handler kinds. Injected into the
// dispatcher so the relevant-event list is a single diffable artifact instead
// of a literal set copy-pasted between deployments. Deployments that need
// fewer kinds pass a reduced set.
type EventSet map[stripe.EventType]EventKind

// Classify returns the handler kind for an event type, or EventIgnored when
// the type is not in the set.
func (s EventSet) Classify(t stripe.EventType) EventKind {
	if kind, ok := s[t]; ok {
		return kind
	}
	return EventIgnored
}

// DefaultEventSet returns the full set of event types the mirror handles.
func DefaultEventSet() EventSet {
	return EventSet{
		"product.created": EventProductUpdated,
		"product.updated": EventProductUpdated,
		"product.deleted": EventProductDeleted,

		"price.created": EventPriceUpdated,
		"price.updated": EventPriceUpdated,
		"price.deleted": EventPriceDeleted,

		"tax_rate.created": EventTaxRateUpdated,
		"tax_rate.updated": EventTaxRateUpdated,

		"checkout.session.completed": EventCheckoutCompleted,

		"customer.subscription.created": EventSubscriptionCreated,
		"customer.subscription.updated": EventSubscriptionUpdated,
		"customer.subscription.deleted": EventSubscriptionUpdated,
		"customer.subscription.pending_update_applied": EventSubscriptionUpdated,
		"customer.subscription.pending_update_expired": EventSubscriptionUpdated,

		"invoice.paid":                    EventInvoiceUpdated,
		"invoice.payment_succeeded":       EventInvoiceUpdated,
		"invoice.payment_failed":          EventInvoiceUpdated,
		"invoice.upcoming":                EventInvoiceUpdated,
		"invoice.marked_uncollectible":    EventInvoiceUpdated,
		"invoice.payment_action_required": EventInvoiceUpdated,

		"payment_intent.processing":     EventPaymentUpdated,
		"payment_intent.succeeded":      EventPaymentUpdated,
		"payment_intent.canceled":       EventPaymentUpdated,
		"payment_intent.payment_failed": EventPaymentUpdated,
	}
}
