package stripefire

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
)

const (
	testUID        = "user_123"
	testCustomerID = "cus_test123"
	testSubID      = "sub_test123"
	testPriceID    = "price_test123"
	testProductID  = "prod_test123"
	testSecret     = "whsec_test_secret"
)

// fakeStore is an in-memory Store with per-operation failure injection.
type fakeStore struct {
	mu            sync.Mutex
	customers     map[string]*Customer
	products      map[string]*Product
	prices        map[string]*Price
	taxRates      map[string]*TaxRate
	subscriptions map[string]*Subscription
	invoices      map[string]*Invoice
	payments      map[string]*Payment
	sessions      map[string]map[string]interface{}
	failures      map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		customers:     make(map[string]*Customer),
		products:      make(map[string]*Product),
		prices:        make(map[string]*Price),
		taxRates:      make(map[string]*TaxRate),
		subscriptions: make(map[string]*Subscription),
		invoices:      make(map[string]*Invoice),
		payments:      make(map[string]*Payment),
		sessions:      make(map[string]map[string]interface{}),
		failures:      make(map[string]error),
	}
}

func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakeStore) failure(op string) error {
	if err, ok := f.failures[op]; ok {
		return err
	}
	return nil
}

func subKey(uid, id string) string { return uid + "/" + id }

func (f *fakeStore) GetCustomer(_ context.Context, uid string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GetCustomer"); err != nil {
		return nil, err
	}
	c, ok := f.customers[uid]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) SetCustomer(_ context.Context, c *Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetCustomer"); err != nil {
		return err
	}
	copied := *c
	f.customers[c.UID] = &copied
	return nil
}

func (f *fakeStore) FindCustomerUIDs(_ context.Context, stripeCustomerID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("FindCustomerUIDs"); err != nil {
		return nil, err
	}
	var uids []string
	for uid, c := range f.customers {
		if c.StripeID == stripeCustomerID {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (f *fakeStore) DeleteCustomer(_ context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteCustomer"); err != nil {
		return err
	}
	delete(f.customers, uid)
	return nil
}

func (f *fakeStore) SetProduct(_ context.Context, p *Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetProduct"); err != nil {
		return err
	}
	copied := *p
	f.products[p.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteProduct"); err != nil {
		return err
	}
	delete(f.products, productID)
	return nil
}

func (f *fakeStore) SetPrice(_ context.Context, p *Price) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetPrice"); err != nil {
		return err
	}
	copied := *p
	f.prices[subKey(p.ProductID, p.ID)] = &copied
	return nil
}

func (f *fakeStore) DeletePrice(_ context.Context, productID, priceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeletePrice"); err != nil {
		return err
	}
	delete(f.prices, subKey(productID, priceID))
	return nil
}

func (f *fakeStore) SetTaxRate(_ context.Context, t *TaxRate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetTaxRate"); err != nil {
		return err
	}
	copied := *t
	f.taxRates[t.ID] = &copied
	return nil
}

func (f *fakeStore) GetSubscription(_ context.Context, uid, subscriptionID string) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GetSubscription"); err != nil {
		return nil, err
	}
	s, ok := f.subscriptions[subKey(uid, subscriptionID)]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) SetSubscription(_ context.Context, uid string, s *Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetSubscription"); err != nil {
		return err
	}
	copied := *s
	f.subscriptions[subKey(uid, s.ID)] = &copied
	return nil
}

func (f *fakeStore) ListSubscriptions(_ context.Context, uid string) ([]*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListSubscriptions"); err != nil {
		return nil, err
	}
	var subs []*Subscription
	for key, s := range f.subscriptions {
		if strings.HasPrefix(key, uid+"/") {
			copied := *s
			subs = append(subs, &copied)
		}
	}
	return subs, nil
}

func (f *fakeStore) MarkSubscriptionsCanceled(_ context.Context, uid string, endedAt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("MarkSubscriptionsCanceled"); err != nil {
		return 0, err
	}
	count := 0
	for key, s := range f.subscriptions {
		if !strings.HasPrefix(key, uid+"/") {
			continue
		}
		if s.Status != string(SubscriptionStatusActive) && s.Status != string(SubscriptionStatusTrialing) {
			continue
		}
		s.Status = string(SubscriptionStatusCanceled)
		ended := endedAt
		s.CanceledAt = &ended
		s.EndedAt = &ended
		count++
	}
	return count, nil
}

func (f *fakeStore) SetInvoice(_ context.Context, uid string, inv *Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetInvoice"); err != nil {
		return err
	}
	copied := *inv
	f.invoices[subKey(uid, inv.ID)] = &copied
	return nil
}

func (f *fakeStore) SetPayment(_ context.Context, uid string, p *Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetPayment"); err != nil {
		return err
	}
	copied := *p
	f.payments[subKey(uid, p.ID)] = &copied
	return nil
}

func (f *fakeStore) UpdateCheckoutSession(_ context.Context, uid, sessionDocID string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("UpdateCheckoutSession"); err != nil {
		return err
	}
	key := subKey(uid, sessionDocID)
	doc, ok := f.sessions[key]
	if !ok {
		doc = make(map[string]interface{})
		f.sessions[key] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (f *fakeStore) session(uid, sessionDocID string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[subKey(uid, sessionDocID)]
}

// fakeAPI implements StripeAPI with overridable function fields. Unset
// methods fail, so a test only wires the calls it expects.
type fakeAPI struct {
	mu sync.Mutex

	subscriptionRetrieveFn func(ctx context.Context, id string, expand []string) (*stripe.Subscription, error)
	subscriptionListFn     func(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
	priceRetrieveFn        func(ctx context.Context, id string, expand []string) (*stripe.Price, error)
	invoiceRetrieveFn      func(ctx context.Context, id string) (*stripe.Invoice, error)
	customerCreateFn       func(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	customerUpdateFn       func(ctx context.Context, id string, params *stripe.CustomerUpdateParams) (*stripe.Customer, error)
	customerDeleteFn       func(ctx context.Context, id string) (*stripe.Customer, error)
	checkoutCreateFn       func(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	portalCreateFn         func(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
	paymentIntentCreateFn  func(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	setupIntentCreateFn    func(ctx context.Context, params *stripe.SetupIntentCreateParams) (*stripe.SetupIntent, error)
	ephemeralKeyCreateFn   func(ctx context.Context, params *stripe.EphemeralKeyCreateParams) (*stripe.EphemeralKey, error)

	calls map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (a *fakeAPI) record(method string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[method]++
}

func (a *fakeAPI) callCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

func (a *fakeAPI) SubscriptionRetrieve(ctx context.Context, id string, expand []string) (*stripe.Subscription, error) {
	a.record("SubscriptionRetrieve")
	if a.subscriptionRetrieveFn == nil {
		return nil, fmt.Errorf("unexpected SubscriptionRetrieve(%s)", id)
	}
	return a.subscriptionRetrieveFn(ctx, id, expand)
}

func (a *fakeAPI) SubscriptionList(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	a.record("SubscriptionList")
	if a.subscriptionListFn == nil {
		return nil, fmt.Errorf("unexpected SubscriptionList(%s)", customerID)
	}
	return a.subscriptionListFn(ctx, customerID)
}

func (a *fakeAPI) PriceRetrieve(ctx context.Context, id string, expand []string) (*stripe.Price, error) {
	a.record("PriceRetrieve")
	if a.priceRetrieveFn == nil {
		return nil, fmt.Errorf("unexpected PriceRetrieve(%s)", id)
	}
	return a.priceRetrieveFn(ctx, id, expand)
}

func (a *fakeAPI) InvoiceRetrieve(ctx context.Context, id string) (*stripe.Invoice, error) {
	a.record("InvoiceRetrieve")
	if a.invoiceRetrieveFn == nil {
		return nil, fmt.Errorf("unexpected InvoiceRetrieve(%s)", id)
	}
	return a.invoiceRetrieveFn(ctx, id)
}

func (a *fakeAPI) CustomerCreate(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	a.record("CustomerCreate")
	if a.customerCreateFn == nil {
		return nil, fmt.Errorf("unexpected CustomerCreate")
	}
	return a.customerCreateFn(ctx, params)
}

func (a *fakeAPI) CustomerUpdate(ctx context.Context, id string, params *stripe.CustomerUpdateParams) (*stripe.Customer, error) {
	a.record("CustomerUpdate")
	if a.customerUpdateFn == nil {
		return nil, fmt.Errorf("unexpected CustomerUpdate(%s)", id)
	}
	return a.customerUpdateFn(ctx, id, params)
}

func (a *fakeAPI) CustomerDelete(ctx context.Context, id string) (*stripe.Customer, error) {
	a.record("CustomerDelete")
	if a.customerDeleteFn == nil {
		return nil, fmt.Errorf("unexpected CustomerDelete(%s)", id)
	}
	return a.customerDeleteFn(ctx, id)
}

func (a *fakeAPI) CheckoutSessionCreate(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	a.record("CheckoutSessionCreate")
	if a.checkoutCreateFn == nil {
		return nil, fmt.Errorf("unexpected CheckoutSessionCreate")
	}
	return a.checkoutCreateFn(ctx, params)
}

func (a *fakeAPI) PortalSessionCreate(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	a.record("PortalSessionCreate")
	if a.portalCreateFn == nil {
		return nil, fmt.Errorf("unexpected PortalSessionCreate")
	}
	return a.portalCreateFn(ctx, params)
}

func (a *fakeAPI) PaymentIntentCreate(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	a.record("PaymentIntentCreate")
	if a.paymentIntentCreateFn == nil {
		return nil, fmt.Errorf("unexpected PaymentIntentCreate")
	}
	return a.paymentIntentCreateFn(ctx, params)
}

func (a *fakeAPI) SetupIntentCreate(ctx context.Context, params *stripe.SetupIntentCreateParams) (*stripe.SetupIntent, error) {
	a.record("SetupIntentCreate")
	if a.setupIntentCreateFn == nil {
		return nil, fmt.Errorf("unexpected SetupIntentCreate")
	}
	return a.setupIntentCreateFn(ctx, params)
}

func (a *fakeAPI) EphemeralKeyCreate(ctx context.Context, params *stripe.EphemeralKeyCreateParams) (*stripe.EphemeralKey, error) {
	a.record("EphemeralKeyCreate")
	if a.ephemeralKeyCreateFn == nil {
		return nil, fmt.Errorf("unexpected EphemeralKeyCreate")
	}
	return a.ephemeralKeyCreateFn(ctx, params)
}

// fakeClaims records role claim updates.
type fakeClaims struct {
	mu    sync.Mutex
	calls []claimCall
	err   error
}

type claimCall struct {
	uid  string
	role *string
}

func (c *fakeClaims) SetRoleClaim(_ context.Context, uid string, role *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, claimCall{uid: uid, role: role})
	return nil
}

func (c *fakeClaims) lastCall(t *testing.T) claimCall {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		t.Fatal("no role claim calls recorded")
	}
	return c.calls[len(c.calls)-1]
}

func (c *fakeClaims) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeDeduper marks a fixed set of event IDs as already seen.
type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *fakeDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	was := d.seen[eventID]
	d.seen[eventID] = true
	return was, nil
}

func newTestService(t *testing.T, store Store, api StripeAPI, opts ...func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Store:               store,
		StripeAPI:           api,
		StripeWebhookSecret: testSecret,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc
}

func seedCustomer(store *fakeStore, uid, stripeID string) {
	_ = store.SetCustomer(context.Background(), &Customer{
		UID:       uid,
		StripeID:  stripeID,
		UpdatedAt: time.Now().UTC(),
	})
}

// activeStripeSubscription builds a fully-expanded subscription the way the
// retrieve call with the standard expand set returns it.
func activeStripeSubscription(role string) *stripe.Subscription {
	now := time.Now()
	product := &stripe.Product{ID: testProductID}
	if role != "" {
		product.Metadata = map[string]string{RoleMetadataKey: role}
	}
	return &stripe.Subscription{
		ID:      testSubID,
		Status:  stripe.SubscriptionStatusActive,
		Created: now.Unix(),
		Customer: &stripe.Customer{
			ID: testCustomerID,
		},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:                 "si_test1",
					Quantity:           2,
					CurrentPeriodStart: now.Unix(),
					CurrentPeriodEnd:   now.Add(30 * 24 * time.Hour).Unix(),
					Price: &stripe.Price{
						ID:      testPriceID,
						Product: product,
					},
				},
			},
		},
	}
}
