// Package client is a read-side SDK over the Firestore billing mirror. It
// never talks to Stripe: products, prices, subscriptions and payments are
// read (or watched) straight from the mirrored documents, so access control
// is whatever Firestore security rules grant the caller.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
	fsstore "github.com/mihaimyh/stripefire/storage/firestore"
)

// Sentinel errors for read-side lookups.
var (
	ErrProductNotFound = errors.New("product not found")
	ErrPriceNotFound   = errors.New("price not found")
)

// taxRatesDoc is the reserved document under the products collection.
const taxRatesDoc = "tax_rates"

// Config holds client configuration. Collection names must match the writer's
// configuration; the defaults match the store defaults.
type Config struct {
	// CustomersCollection default: "customers"
	CustomersCollection string

	// ProductsCollection default: "products"
	ProductsCollection string
}

// Client reads the billing mirror.
type Client struct {
	fs        *firestore.Client
	store     *fsstore.Store
	customers string
	products  string
}

// New creates a read client over a Firestore client.
func New(fs *firestore.Client, config Config) (*Client, error) {
	if fs == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "customers"
	}
	if config.ProductsCollection == "" {
		config.ProductsCollection = "products"
	}

	store, err := fsstore.New(fs, fsstore.Config{
		CustomersCollection: config.CustomersCollection,
		ProductsCollection:  config.ProductsCollection,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		fs:        fs,
		store:     store,
		customers: config.CustomersCollection,
		products:  config.ProductsCollection,
	}, nil
}

// GetCustomer returns the customer record for a local user ID.
// Returns stripefire.ErrCustomerNotFound when no record exists.
func (c *Client) GetCustomer(ctx context.Context, uid string) (*stripefire.Customer, error) {
	return c.store.GetCustomer(ctx, uid)
}

// GetSubscription returns one mirrored subscription of a user.
// Returns stripefire.ErrSubscriptionNotFound when no record exists.
func (c *Client) GetSubscription(ctx context.Context, uid, subscriptionID string) (*stripefire.Subscription, error) {
	return c.store.GetSubscription(ctx, uid, subscriptionID)
}

// ListSubscriptions returns the user's mirrored subscriptions, optionally
// filtered to the given statuses.
func (c *Client) ListSubscriptions(ctx context.Context, uid string, statuses ...string) ([]*stripefire.Subscription, error) {
	subs, err := c.store.ListSubscriptions(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return subs, nil
	}

	var filtered []*stripefire.Subscription
	for _, sub := range subs {
		for _, status := range statuses {
			if sub.Status == status {
				filtered = append(filtered, sub)
				break
			}
		}
	}
	return filtered, nil
}

// CurrentSubscription returns the user's first active or trialing
// subscription, or stripefire.ErrSubscriptionNotFound when there is none.
func (c *Client) CurrentSubscription(ctx context.Context, uid string) (*stripefire.Subscription, error) {
	subs, err := c.store.ListSubscriptions(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Active() {
			return sub, nil
		}
	}
	return nil, stripefire.ErrSubscriptionNotFound
}

// Product pairs a mirrored product with its prices.
type Product struct {
	stripefire.Product
	Prices []*stripefire.Price
}

// ListProductsOptions controls ListProducts.
type ListProductsOptions struct {
	// ActiveOnly restricts the result to active products.
	ActiveOnly bool

	// IncludePrices loads each product's prices sub-collection.
	IncludePrices bool

	// Limit caps the number of products returned (0 = no limit).
	Limit int
}

// GetProduct returns one mirrored product.
func (c *Client) GetProduct(ctx context.Context, productID string) (*stripefire.Product, error) {
	snap, err := c.fs.Collection(c.products).Doc(productID).Get(ctx)
	if err != nil || !snap.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return parseProduct(productID, snap.Data()), nil
}

// GetPrice returns one mirrored price of a product.
func (c *Client) GetPrice(ctx context.Context, productID, priceID string) (*stripefire.Price, error) {
	snap, err := c.fs.Collection(c.products).Doc(productID).
		Collection("prices").Doc(priceID).Get(ctx)
	if err != nil || !snap.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, priceID)
	}
	return parsePrice(priceID, productID, snap.Data()), nil
}

// ListProducts returns mirrored products, optionally with their prices.
func (c *Client) ListProducts(ctx context.Context, opts ListProductsOptions) ([]*Product, error) {
	query := c.fs.Collection(c.products).Query
	if opts.ActiveOnly {
		query = query.Where("active", "==", true)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []*Product
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list products: %w", err)
		}
		// The reserved tax-rates holder is not a product.
		if snap.Ref.ID == taxRatesDoc {
			continue
		}

		product := &Product{Product: *parseProduct(snap.Ref.ID, snap.Data())}
		if opts.IncludePrices {
			prices, err := c.listPrices(ctx, snap.Ref)
			if err != nil {
				return nil, err
			}
			product.Prices = prices
		}
		products = append(products, product)
	}
	return products, nil
}

func (c *Client) listPrices(ctx context.Context, productRef *firestore.DocumentRef) ([]*stripefire.Price, error) {
	iter := productRef.Collection("prices").Documents(ctx)
	defer iter.Stop()

	var prices []*stripefire.Price
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list prices: %w", err)
		}
		prices = append(prices, parsePrice(snap.Ref.ID, productRef.ID, snap.Data()))
	}
	return prices, nil
}

// ListPayments returns the user's mirrored payments.
func (c *Client) ListPayments(ctx context.Context, uid string) ([]*stripefire.Payment, error) {
	iter := c.fs.Collection(c.customers).Doc(uid).Collection("payments").Documents(ctx)
	defer iter.Stop()

	var payments []*stripefire.Payment
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list payments: %w", err)
		}
		payments = append(payments, parsePayment(snap.Ref.ID, snap.Data()))
	}
	return payments, nil
}

func parseProduct(id string, data map[string]interface{}) *stripefire.Product {
	return &stripefire.Product{
		ID:          id,
		Active:      getBool(data, "active"),
		Name:        getString(data, "name"),
		Description: getString(data, "description"),
		Images:      getStringSlice(data, "images"),
		Role:        getStringPtr(data, "role"),
		Metadata:    prefixedMetadata(data),
		UpdatedAt:   getTime(data, "updatedAt"),
	}
}

func parsePrice(id, productID string, data map[string]interface{}) *stripefire.Price {
	price := &stripefire.Price{
		ID:              id,
		ProductID:       productID,
		Active:          getBool(data, "active"),
		Currency:        getString(data, "currency"),
		UnitAmount:      getInt64(data, "unit_amount"),
		BillingScheme:   getString(data, "billing_scheme"),
		Type:            getString(data, "type"),
		Description:     getString(data, "description"),
		Interval:        getString(data, "interval"),
		IntervalCount:   getInt64(data, "interval_count"),
		TrialPeriodDays: getInt64(data, "trial_period_days"),
		TaxBehavior:     getString(data, "tax_behavior"),
		Metadata:        prefixedMetadata(data),
		UpdatedAt:       getTime(data, "updatedAt"),
	}

	if tiers, ok := data["tiers"].([]interface{}); ok {
		for _, raw := range tiers {
			tier, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			parsed := stripefire.PriceTier{UpTo: getInt64(tier, "up_to")}
			if _, ok := tier["flat_amount"]; ok {
				v := getInt64(tier, "flat_amount")
				parsed.FlatAmount = &v
			}
			if _, ok := tier["unit_amount"]; ok {
				v := getInt64(tier, "unit_amount")
				parsed.UnitAmount = &v
			}
			price.Tiers = append(price.Tiers, parsed)
		}
	}
	return price
}

func parsePayment(id string, data map[string]interface{}) *stripefire.Payment {
	return &stripefire.Payment{
		ID:             id,
		Status:         getString(data, "status"),
		Amount:         getInt64(data, "amount"),
		AmountReceived: getInt64(data, "amount_received"),
		Currency:       getString(data, "currency"),
		InvoiceID:      getString(data, "invoice"),
		PriceIDs:       getStringSlice(data, "prices"),
		Created:        getTime(data, "created"),
		UpdatedAt:      getTime(data, "updatedAt"),
	}
}

// prefixedMetadata collects the flattened metadata keys back into a map.
func prefixedMetadata(data map[string]interface{}) map[string]string {
	var metadata map[string]string
	for k, v := range data {
		if !strings.HasPrefix(k, stripefire.MetadataPrefix) {
			continue
		}
		if sVal, ok := v.(string); ok {
			if metadata == nil {
				metadata = make(map[string]string)
			}
			metadata[k] = sVal
		}
	}
	return metadata
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getStringPtr(data map[string]interface{}, key string) *string {
	if v, ok := data[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getStringSlice(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
