// Package memory provides an in-memory implementation of the stripefire.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// Store implements stripefire.Store using in-memory maps
type Store struct {
	mu               sync.RWMutex
	customers        map[string]*stripefire.Customer
	products         map[string]*stripefire.Product
	prices           map[string]*stripefire.Price // keyed by productID/priceID
	taxRates         map[string]*stripefire.TaxRate
	subscriptions    map[string]*stripefire.Subscription // keyed by uid/subID
	invoices         map[string]*stripefire.Invoice      // keyed by uid/invoiceID
	payments         map[string]*stripefire.Payment      // keyed by uid/paymentID
	checkoutSessions map[string]map[string]interface{}   // keyed by uid/docID
}

// New creates a new in-memory store adapter
func New() *Store {
	return &Store{
		customers:        make(map[string]*stripefire.Customer),
		products:         make(map[string]*stripefire.Product),
		prices:           make(map[string]*stripefire.Price),
		taxRates:         make(map[string]*stripefire.TaxRate),
		subscriptions:    make(map[string]*stripefire.Subscription),
		invoices:         make(map[string]*stripefire.Invoice),
		payments:         make(map[string]*stripefire.Payment),
		checkoutSessions: make(map[string]map[string]interface{}),
	}
}

// GetCustomer implements stripefire.Store
func (s *Store) GetCustomer(_ context.Context, uid string) (*stripefire.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[uid]
	if !ok {
		return nil, stripefire.ErrCustomerNotFound
	}

	// Return a copy to prevent external mutations
	cCopy := *c
	return &cCopy, nil
}

// SetCustomer implements stripefire.Store
func (s *Store) SetCustomer(_ context.Context, c *stripefire.Customer) error {
	if c == nil || c.UID == "" {
		return fmt.Errorf("invalid customer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cCopy := *c
	s.customers[c.UID] = &cCopy
	return nil
}

// FindCustomerUIDs implements stripefire.Store
func (s *Store) FindCustomerUIDs(_ context.Context, stripeCustomerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uids []string
	for uid, c := range s.customers {
		if c.StripeID == stripeCustomerID {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

// DeleteCustomer implements stripefire.Store
func (s *Store) DeleteCustomer(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.customers, uid)
	return nil
}

// SetProduct implements stripefire.Store
func (s *Store) SetProduct(_ context.Context, p *stripefire.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid product")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pCopy := *p
	s.products[p.ID] = &pCopy
	return nil
}

// DeleteProduct implements stripefire.Store
func (s *Store) DeleteProduct(_ context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.products, productID)
	return nil
}

// GetProduct returns a product record (useful for testing)
func (s *Store) GetProduct(_ context.Context, productID string) (*stripefire.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, false
	}
	pCopy := *p
	return &pCopy, true
}

// SetPrice implements stripefire.Store
func (s *Store) SetPrice(_ context.Context, p *stripefire.Price) error {
	if p == nil || p.ID == "" || p.ProductID == "" {
		return fmt.Errorf("invalid price")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pCopy := *p
	s.prices[priceKey(p.ProductID, p.ID)] = &pCopy
	return nil
}

// DeletePrice implements stripefire.Store
func (s *Store) DeletePrice(_ context.Context, productID, priceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.prices, priceKey(productID, priceID))
	return nil
}

// GetPrice returns a price record (useful for testing)
func (s *Store) GetPrice(_ context.Context, productID, priceID string) (*stripefire.Price, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[priceKey(productID, priceID)]
	if !ok {
		return nil, false
	}
	pCopy := *p
	return &pCopy, true
}

// SetTaxRate implements stripefire.Store
func (s *Store) SetTaxRate(_ context.Context, t *stripefire.TaxRate) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("invalid tax rate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tCopy := *t
	s.taxRates[t.ID] = &tCopy
	return nil
}

// GetSubscription implements stripefire.Store
func (s *Store) GetSubscription(_ context.Context, uid, subscriptionID string) (*stripefire.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subKey(uid, subscriptionID)]
	if !ok {
		return nil, stripefire.ErrSubscriptionNotFound
	}
	subCopy := *sub
	return &subCopy, nil
}

// SetSubscription implements stripefire.Store
func (s *Store) SetSubscription(_ context.Context, uid string, sub *stripefire.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subCopy := *sub
	s.subscriptions[subKey(uid, sub.ID)] = &subCopy
	return nil
}

// ListSubscriptions implements stripefire.Store
func (s *Store) ListSubscriptions(_ context.Context, uid string) ([]*stripefire.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := uid + "/"
	var subs []*stripefire.Subscription
	for key, sub := range s.subscriptions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			subCopy := *sub
			subs = append(subs, &subCopy)
		}
	}
	return subs, nil
}

// MarkSubscriptionsCanceled implements stripefire.Store
func (s *Store) MarkSubscriptionsCanceled(_ context.Context, uid string, endedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := uid + "/"
	count := 0
	for key, sub := range s.subscriptions {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if !sub.Active() {
			continue
		}
		ended := endedAt
		sub.Status = string(stripefire.SubscriptionStatusCanceled)
		sub.CanceledAt = &ended
		sub.EndedAt = &ended
		sub.UpdatedAt = endedAt
		count++
	}
	return count, nil
}

// SetInvoice implements stripefire.Store
func (s *Store) SetInvoice(_ context.Context, uid string, inv *stripefire.Invoice) error {
	if inv == nil || inv.ID == "" || inv.SubscriptionID == "" {
		return fmt.Errorf("invalid invoice")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invCopy := *inv
	s.invoices[subKey(uid, inv.ID)] = &invCopy
	return nil
}

// SetPayment implements stripefire.Store
func (s *Store) SetPayment(_ context.Context, uid string, p *stripefire.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid payment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pCopy := *p
	s.payments[subKey(uid, p.ID)] = &pCopy
	return nil
}

// UpdateCheckoutSession implements stripefire.Store
func (s *Store) UpdateCheckoutSession(_ context.Context, uid, sessionDocID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey(uid, sessionDocID)
	doc, ok := s.checkoutSessions[key]
	if !ok {
		doc = make(map[string]interface{})
		s.checkoutSessions[key] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

// GetCheckoutSession returns the merged checkout session document (useful for testing)
func (s *Store) GetCheckoutSession(_ context.Context, uid, sessionDocID string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.checkoutSessions[subKey(uid, sessionDocID)]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, true
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers = make(map[string]*stripefire.Customer)
	s.products = make(map[string]*stripefire.Product)
	s.prices = make(map[string]*stripefire.Price)
	s.taxRates = make(map[string]*stripefire.TaxRate)
	s.subscriptions = make(map[string]*stripefire.Subscription)
	s.invoices = make(map[string]*stripefire.Invoice)
	s.payments = make(map[string]*stripefire.Payment)
	s.checkoutSessions = make(map[string]map[string]interface{})
}

func priceKey(productID, priceID string) string {
	return productID + "/" + priceID
}

func subKey(uid, id string) string {
	return uid + "/" + id
}
