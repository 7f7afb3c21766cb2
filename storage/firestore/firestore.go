// Package firestore provides a Firestore implementation of the stripefire.Store
// interface. The document layout matches what Firebase client SDKs expect:
// customers/{uid} with checkout_sessions, subscriptions and payments
// sub-collections, products/{id} with a prices sub-collection, and tax rates
// under a reserved document of the products collection.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// taxRatesDoc is the reserved document under the products collection that
// holds the tax_rates sub-collection.
const taxRatesDoc = "tax_rates"

// Store implements stripefire.Store using Google Cloud Firestore
type Store struct {
	client              *firestore.Client
	customersCollection string
	productsCollection  string
}

// Config holds Firestore store configuration
type Config struct {
	// CustomersCollection is the Firestore collection for customer documents
	// Default: "customers"
	CustomersCollection string

	// ProductsCollection is the Firestore collection for product documents
	// Default: "products"
	ProductsCollection string
}

// New creates a new Firestore store adapter
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.CustomersCollection == "" {
		config.CustomersCollection = "customers"
	}
	if config.ProductsCollection == "" {
		config.ProductsCollection = "products"
	}

	return &Store{
		client:              client,
		customersCollection: config.CustomersCollection,
		productsCollection:  config.ProductsCollection,
	}, nil
}

// GetCustomer implements stripefire.Store
func (s *Store) GetCustomer(ctx context.Context, uid string) (*stripefire.Customer, error) {
	snap, err := s.customerDoc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, stripefire.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	if !snap.Exists() {
		return nil, stripefire.ErrCustomerNotFound
	}

	data := snap.Data()
	return &stripefire.Customer{
		UID:        uid,
		StripeID:   getString(data, "stripeId"),
		StripeLink: getString(data, "stripeLink"),
		Email:      getString(data, "email"),
		Phone:      getString(data, "phone"),
		UpdatedAt:  getTime(data, "updatedAt"),
	}, nil
}

// SetCustomer implements stripefire.Store
func (s *Store) SetCustomer(ctx context.Context, c *stripefire.Customer) error {
	if c == nil || c.UID == "" {
		return fmt.Errorf("invalid customer")
	}

	data := map[string]interface{}{
		"stripeId":   c.StripeID,
		"stripeLink": c.StripeLink,
		"updatedAt":  c.UpdatedAt,
	}
	if c.Email != "" {
		data["email"] = c.Email
	}
	if c.Phone != "" {
		data["phone"] = c.Phone
	}

	if _, err := s.customerDoc(c.UID).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set customer: %w", err)
	}
	return nil
}

// FindCustomerUIDs implements stripefire.Store
func (s *Store) FindCustomerUIDs(ctx context.Context, stripeCustomerID string) ([]string, error) {
	iter := s.client.Collection(s.customersCollection).
		Where("stripeId", "==", stripeCustomerID).
		Documents(ctx)
	defer iter.Stop()

	var uids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query customers: %w", err)
		}
		uids = append(uids, snap.Ref.ID)
	}
	return uids, nil
}

// DeleteCustomer implements stripefire.Store
func (s *Store) DeleteCustomer(ctx context.Context, uid string) error {
	if _, err := s.customerDoc(uid).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return nil
}

// SetProduct implements stripefire.Store
func (s *Store) SetProduct(ctx context.Context, p *stripefire.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid product")
	}

	data := map[string]interface{}{
		"id":          p.ID,
		"active":      p.Active,
		"name":        p.Name,
		"description": p.Description,
		"images":      p.Images,
		"role":        roleValue(p.Role),
		"updatedAt":   p.UpdatedAt,
	}
	for k, v := range p.Metadata {
		data[k] = v
	}

	if _, err := s.productDoc(p.ID).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set product: %w", err)
	}
	return nil
}

// DeleteProduct implements stripefire.Store
func (s *Store) DeleteProduct(ctx context.Context, productID string) error {
	if _, err := s.productDoc(productID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// SetPrice implements stripefire.Store
func (s *Store) SetPrice(ctx context.Context, p *stripefire.Price) error {
	if p == nil || p.ID == "" || p.ProductID == "" {
		return fmt.Errorf("invalid price")
	}

	data := map[string]interface{}{
		"id":             p.ID,
		"product":        s.productDoc(p.ProductID),
		"active":         p.Active,
		"currency":       p.Currency,
		"unit_amount":    p.UnitAmount,
		"billing_scheme": p.BillingScheme,
		"type":           p.Type,
		"updatedAt":      p.UpdatedAt,
	}
	if p.Description != "" {
		data["description"] = p.Description
	}
	if p.Interval != "" {
		data["interval"] = p.Interval
		data["interval_count"] = p.IntervalCount
	}
	if p.TrialPeriodDays > 0 {
		data["trial_period_days"] = p.TrialPeriodDays
	}
	if p.TaxBehavior != "" {
		data["tax_behavior"] = p.TaxBehavior
	}
	if len(p.Tiers) > 0 {
		tiers := make([]map[string]interface{}, 0, len(p.Tiers))
		for _, t := range p.Tiers {
			tier := map[string]interface{}{"up_to": t.UpTo}
			if t.FlatAmount != nil {
				tier["flat_amount"] = *t.FlatAmount
			}
			if t.UnitAmount != nil {
				tier["unit_amount"] = *t.UnitAmount
			}
			tiers = append(tiers, tier)
		}
		data["tiers"] = tiers
	}
	for k, v := range p.Metadata {
		data[k] = v
	}

	doc := s.productDoc(p.ProductID).Collection("prices").Doc(p.ID)
	if _, err := doc.Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set price: %w", err)
	}
	return nil
}

// DeletePrice implements stripefire.Store
func (s *Store) DeletePrice(ctx context.Context, productID, priceID string) error {
	doc := s.productDoc(productID).Collection("prices").Doc(priceID)
	if _, err := doc.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete price: %w", err)
	}
	return nil
}

// SetTaxRate implements stripefire.Store
func (s *Store) SetTaxRate(ctx context.Context, t *stripefire.TaxRate) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("invalid tax rate")
	}

	data := map[string]interface{}{
		"id":           t.ID,
		"display_name": t.DisplayName,
		"percentage":   t.Percentage,
		"inclusive":    t.Inclusive,
		"active":       t.Active,
		"created":      t.Created,
		"updatedAt":    t.UpdatedAt,
	}
	if t.Description != "" {
		data["description"] = t.Description
	}
	if t.Country != "" {
		data["country"] = t.Country
	}
	if t.State != "" {
		data["state"] = t.State
	}

	doc := s.productDoc(taxRatesDoc).Collection(taxRatesDoc).Doc(t.ID)
	if _, err := doc.Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set tax rate: %w", err)
	}
	return nil
}

// GetSubscription implements stripefire.Store
func (s *Store) GetSubscription(ctx context.Context, uid, subscriptionID string) (*stripefire.Subscription, error) {
	snap, err := s.subscriptionDoc(uid, subscriptionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, stripefire.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, stripefire.ErrSubscriptionNotFound
	}
	return ParseSubscription(snap.Data()), nil
}

// SetSubscription implements stripefire.Store
func (s *Store) SetSubscription(ctx context.Context, uid string, sub *stripefire.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	items := make([]map[string]interface{}, 0, len(sub.Items))
	prices := make([]*firestore.DocumentRef, 0, len(sub.Items))
	for _, item := range sub.Items {
		items = append(items, map[string]interface{}{
			"id":       item.ID,
			"price":    s.priceRef(item.ProductID, item.PriceID),
			"product":  s.productDoc(item.ProductID),
			"quantity": item.Quantity,
		})
		prices = append(prices, s.priceRef(item.ProductID, item.PriceID))
	}

	data := map[string]interface{}{
		"id":                   sub.ID,
		"status":               sub.Status,
		"role":                 roleValue(sub.Role),
		"product":              s.productDoc(sub.ProductID),
		"price":                s.priceRef(sub.ProductID, sub.PriceID),
		"prices":               prices,
		"quantity":             sub.Quantity,
		"items":                items,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"created":              sub.Created,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"trial_start":          timeValue(sub.TrialStart),
		"trial_end":            timeValue(sub.TrialEnd),
		"cancel_at":            timeValue(sub.CancelAt),
		"canceled_at":          timeValue(sub.CanceledAt),
		"ended_at":             timeValue(sub.EndedAt),
		"stripeLink":           sub.StripeLink,
		"metadata":             sub.Metadata,
		"updatedAt":            sub.UpdatedAt,
	}

	// Full overwrite: the record is a rebuild, stale fields must not survive.
	if _, err := s.subscriptionDoc(uid, sub.ID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// ListSubscriptions implements stripefire.Store
func (s *Store) ListSubscriptions(ctx context.Context, uid string) ([]*stripefire.Subscription, error) {
	iter := s.customerDoc(uid).Collection("subscriptions").Documents(ctx)
	defer iter.Stop()

	var subs []*stripefire.Subscription
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		subs = append(subs, ParseSubscription(snap.Data()))
	}
	return subs, nil
}

// MarkSubscriptionsCanceled implements stripefire.Store
func (s *Store) MarkSubscriptionsCanceled(ctx context.Context, uid string, endedAt time.Time) (int, error) {
	iter := s.customerDoc(uid).Collection("subscriptions").
		Where("status", "in", []string{"trialing", "active"}).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to query subscriptions: %w", err)
		}
		_, err = snap.Ref.Set(ctx, map[string]interface{}{
			"status":      "canceled",
			"canceled_at": endedAt,
			"ended_at":    endedAt,
			"updatedAt":   endedAt,
		}, firestore.MergeAll)
		if err != nil {
			return count, fmt.Errorf("failed to mark subscription canceled: %w", err)
		}
		count++
	}
	return count, nil
}

// SetInvoice implements stripefire.Store
func (s *Store) SetInvoice(ctx context.Context, uid string, inv *stripefire.Invoice) error {
	if inv == nil || inv.ID == "" || inv.SubscriptionID == "" {
		return fmt.Errorf("invalid invoice")
	}

	data := map[string]interface{}{
		"id":           inv.ID,
		"subscription": inv.SubscriptionID,
		"status":       inv.Status,
		"total":        inv.Total,
		"amount_paid":  inv.AmountPaid,
		"amount_due":   inv.AmountDue,
		"currency":     inv.Currency,
		"prices":       inv.PriceIDs,
		"created":      inv.Created,
		"updatedAt":    inv.UpdatedAt,
	}
	if inv.Number != "" {
		data["number"] = inv.Number
	}
	if inv.HostedInvoiceURL != "" {
		data["hosted_invoice_url"] = inv.HostedInvoiceURL
	}

	doc := s.subscriptionDoc(uid, inv.SubscriptionID).Collection("invoices").Doc(inv.ID)
	if _, err := doc.Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set invoice: %w", err)
	}
	return nil
}

// SetPayment implements stripefire.Store
func (s *Store) SetPayment(ctx context.Context, uid string, p *stripefire.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid payment")
	}

	data := map[string]interface{}{
		"id":              p.ID,
		"status":          p.Status,
		"amount":          p.Amount,
		"amount_received": p.AmountReceived,
		"currency":        p.Currency,
		"prices":          p.PriceIDs,
		"created":         p.Created,
		"updatedAt":       p.UpdatedAt,
	}
	if p.InvoiceID != "" {
		data["invoice"] = p.InvoiceID
	}

	doc := s.customerDoc(uid).Collection("payments").Doc(p.ID)
	if _, err := doc.Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set payment: %w", err)
	}
	return nil
}

// UpdateCheckoutSession implements stripefire.Store
func (s *Store) UpdateCheckoutSession(ctx context.Context, uid, sessionDocID string, fields map[string]interface{}) error {
	doc := s.customerDoc(uid).Collection("checkout_sessions").Doc(sessionDocID)
	if _, err := doc.Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to update checkout session: %w", err)
	}
	return nil
}

func (s *Store) customerDoc(uid string) *firestore.DocumentRef {
	return s.client.Collection(s.customersCollection).Doc(uid)
}

func (s *Store) productDoc(productID string) *firestore.DocumentRef {
	return s.client.Collection(s.productsCollection).Doc(productID)
}

func (s *Store) subscriptionDoc(uid, subscriptionID string) *firestore.DocumentRef {
	return s.customerDoc(uid).Collection("subscriptions").Doc(subscriptionID)
}

func (s *Store) priceRef(productID, priceID string) *firestore.DocumentRef {
	return s.productDoc(productID).Collection("prices").Doc(priceID)
}

// ParseSubscription converts raw subscription document data into a mirror
// record. Exported for read-side consumers that watch documents directly.
func ParseSubscription(data map[string]interface{}) *stripefire.Subscription {
	sub := &stripefire.Subscription{
		ID:                 getString(data, "id"),
		Status:             getString(data, "status"),
		Role:               getStringPtr(data, "role"),
		ProductID:          getRefID(data, "product"),
		PriceID:            getRefID(data, "price"),
		Quantity:           getInt64(data, "quantity"),
		CancelAtPeriodEnd:  getBool(data, "cancel_at_period_end"),
		Created:            getTime(data, "created"),
		CurrentPeriodStart: getTime(data, "current_period_start"),
		CurrentPeriodEnd:   getTime(data, "current_period_end"),
		TrialStart:         getTimePtr(data, "trial_start"),
		TrialEnd:           getTimePtr(data, "trial_end"),
		CancelAt:           getTimePtr(data, "cancel_at"),
		CanceledAt:         getTimePtr(data, "canceled_at"),
		EndedAt:            getTimePtr(data, "ended_at"),
		StripeLink:         getString(data, "stripeLink"),
		UpdatedAt:          getTime(data, "updatedAt"),
	}

	if refs, ok := data["prices"].([]interface{}); ok {
		for _, ref := range refs {
			if id := refToID(ref); id != "" {
				sub.PriceIDs = append(sub.PriceIDs, id)
			}
		}
	}
	if items, ok := data["items"].([]interface{}); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			sub.Items = append(sub.Items, stripefire.SubscriptionItem{
				ID:        getString(item, "id"),
				PriceID:   getRefID(item, "price"),
				ProductID: getRefID(item, "product"),
				Quantity:  getInt64(item, "quantity"),
			})
		}
	}
	if m, ok := data["metadata"].(map[string]interface{}); ok {
		metadata := make(map[string]string)
		for k, v := range m {
			if sVal, ok := v.(string); ok {
				metadata[k] = sVal
			}
		}
		sub.Metadata = metadata
	}

	return sub
}

// Helper functions for type conversion from Firestore data

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

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		return &v
	}
	return nil
}

// getRefID reads a field that is stored as a DocumentRef (or a plain string
// ID in older documents) and returns the referenced document ID.
func getRefID(data map[string]interface{}, key string) string {
	return refToID(data[key])
}

func refToID(v interface{}) string {
	switch ref := v.(type) {
	case *firestore.DocumentRef:
		if ref != nil {
			return ref.ID
		}
	case string:
		return ref
	}
	return ""
}

// roleValue keeps an explicit null in the document when no role is set, so
// clients reading the field see revocation rather than a missing key.
func roleValue(role *string) interface{} {
	if role == nil {
		return nil
	}
	return *role
}

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
