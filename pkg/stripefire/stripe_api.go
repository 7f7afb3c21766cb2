package stripefire

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v83"
)

// StripeAPI is the narrow slice of the Stripe API the service calls. Stripe
// is the authoritative source of truth; this system only mirrors it. The
// interface exists so components receive the client as an explicit dependency
// and tests can substitute a double without global-state mutation.
type StripeAPI interface {
	SubscriptionRetrieve(ctx context.Context, id string, expand []string) (*stripe.Subscription, error)
	SubscriptionList(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
	PriceRetrieve(ctx context.Context, id string, expand []string) (*stripe.Price, error)
	InvoiceRetrieve(ctx context.Context, id string) (*stripe.Invoice, error)
	CustomerCreate(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	CustomerUpdate(ctx context.Context, id string, params *stripe.CustomerUpdateParams) (*stripe.Customer, error)
	CustomerDelete(ctx context.Context, id string) (*stripe.Customer, error)
	CheckoutSessionCreate(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	PortalSessionCreate(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
	PaymentIntentCreate(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	SetupIntentCreate(ctx context.Context, params *stripe.SetupIntentCreateParams) (*stripe.SetupIntent, error)
	EphemeralKeyCreate(ctx context.Context, params *stripe.EphemeralKeyCreateParams) (*stripe.EphemeralKey, error)
}

// clientAPI implements StripeAPI over the stripe-go v83 client.
type clientAPI struct {
	client *stripe.Client
}

// NewStripeAPI wraps a stripe-go client in the StripeAPI interface.
func NewStripeAPI(client *stripe.Client) StripeAPI {
	return &clientAPI{client: client}
}

func (c *clientAPI) SubscriptionRetrieve(ctx context.Context, id string, expand []string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionRetrieveParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}
	return c.client.V1Subscriptions.Retrieve(ctx, id, params)
}

func (c *clientAPI) SubscriptionList(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")

	var subs []*stripe.Subscription
	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions for %s: %w", customerID, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *clientAPI) PriceRetrieve(ctx context.Context, id string, expand []string) (*stripe.Price, error) {
	params := &stripe.PriceRetrieveParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}
	return c.client.V1Prices.Retrieve(ctx, id, params)
}

func (c *clientAPI) InvoiceRetrieve(ctx context.Context, id string) (*stripe.Invoice, error) {
	return c.client.V1Invoices.Retrieve(ctx, id, nil)
}

func (c *clientAPI) CustomerCreate(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	return c.client.V1Customers.Create(ctx, params)
}

func (c *clientAPI) CustomerUpdate(ctx context.Context, id string, params *stripe.CustomerUpdateParams) (*stripe.Customer, error) {
	return c.client.V1Customers.Update(ctx, id, params)
}

func (c *clientAPI) CustomerDelete(ctx context.Context, id string) (*stripe.Customer, error) {
	return c.client.V1Customers.Delete(ctx, id, nil)
}

func (c *clientAPI) CheckoutSessionCreate(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return c.client.V1CheckoutSessions.Create(ctx, params)
}

func (c *clientAPI) PortalSessionCreate(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	return c.client.V1BillingPortalSessions.Create(ctx, params)
}

func (c *clientAPI) PaymentIntentCreate(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return c.client.V1PaymentIntents.Create(ctx, params)
}

func (c *clientAPI) SetupIntentCreate(ctx context.Context, params *stripe.SetupIntentCreateParams) (*stripe.SetupIntent, error) {
	return c.client.V1SetupIntents.Create(ctx, params)
}

func (c *clientAPI) EphemeralKeyCreate(ctx context.Context, params *stripe.EphemeralKeyCreateParams) (*stripe.EphemeralKey, error) {
	return c.client.V1EphemeralKeys.Create(ctx, params)
}
