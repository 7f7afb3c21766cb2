package stripefire

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
)

func TestReconcileSubscription_BuildsRecordAndSetsClaim(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(_ context.Context, id string, _ []string) (*stripe.Subscription, error) {
		if id != testSubID {
			return nil, fmt.Errorf("unexpected subscription %s", id)
		}
		return activeStripeSubscription("premium"), nil
	}

	claims := &fakeClaims{}
	svc := newTestService(t, store, api, func(c *Config) { c.Claims = claims })

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}

	record, err := store.GetSubscription(context.Background(), testUID, testSubID)
	if err != nil {
		t.Fatalf("subscription record not written: %v", err)
	}
	if record.Status != "active" {
		t.Errorf("Status = %q, want active", record.Status)
	}
	if record.Role == nil || *record.Role != "premium" {
		t.Errorf("Role = %v, want premium", record.Role)
	}
	if record.PriceID != testPriceID {
		t.Errorf("PriceID = %q, want %q", record.PriceID, testPriceID)
	}
	if record.ProductID != testProductID {
		t.Errorf("ProductID = %q, want %q", record.ProductID, testProductID)
	}
	if record.Quantity != 2 {
		t.Errorf("Quantity = %d, want 2", record.Quantity)
	}
	if len(record.PriceIDs) != 1 || record.PriceIDs[0] != testPriceID {
		t.Errorf("PriceIDs = %v, want [%s]", record.PriceIDs, testPriceID)
	}
	if record.CurrentPeriodEnd.IsZero() {
		t.Error("CurrentPeriodEnd not mapped from primary item")
	}

	call := claims.lastCall(t)
	if call.uid != testUID {
		t.Errorf("claim uid = %q, want %q", call.uid, testUID)
	}
	if call.role == nil || *call.role != "premium" {
		t.Errorf("claim role = %v, want premium", call.role)
	}
}

func TestReconcileSubscription_PrimaryItemIsFirst(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	sub := activeStripeSubscription("premium")
	sub.Items.Data = append(sub.Items.Data, &stripe.SubscriptionItem{
		ID:       "si_test2",
		Quantity: 5,
		Price: &stripe.Price{
			ID:      "price_addon",
			Product: &stripe.Product{ID: "prod_addon"},
		},
	})

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return sub, nil
	}
	svc := newTestService(t, store, api)

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}

	record, _ := store.GetSubscription(context.Background(), testUID, testSubID)
	if record.PriceID != testPriceID {
		t.Errorf("primary PriceID = %q, want first item %q", record.PriceID, testPriceID)
	}
	if record.Quantity != 2 {
		t.Errorf("primary Quantity = %d, want first item quantity 2", record.Quantity)
	}
	if len(record.PriceIDs) != 2 {
		t.Fatalf("PriceIDs = %v, want both items", record.PriceIDs)
	}
	if record.PriceIDs[1] != "price_addon" {
		t.Errorf("PriceIDs[1] = %q, want price_addon", record.PriceIDs[1])
	}
	if len(record.Items) != 2 {
		t.Errorf("Items count = %d, want 2", len(record.Items))
	}
}

func TestReconcileSubscription_CanceledNullsClaim(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	sub := activeStripeSubscription("premium")
	sub.Status = stripe.SubscriptionStatusCanceled
	sub.CanceledAt = time.Now().Unix()

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return sub, nil
	}
	claims := &fakeClaims{}
	svc := newTestService(t, store, api, func(c *Config) { c.Claims = claims })

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}

	record, _ := store.GetSubscription(context.Background(), testUID, testSubID)
	if record.Status != "canceled" {
		t.Errorf("Status = %q, want canceled", record.Status)
	}
	// The record keeps the derived role; only the claim is nulled.
	if record.Role == nil || *record.Role != "premium" {
		t.Errorf("record Role = %v, want premium", record.Role)
	}
	call := claims.lastCall(t)
	if call.role != nil {
		t.Errorf("claim role = %q, want explicit null", *call.role)
	}
}

func TestReconcileSubscription_Idempotent(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return activeStripeSubscription("premium"), nil
	}
	claims := &fakeClaims{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, api, func(c *Config) {
		c.Claims = claims
		c.TimeSource = func() time.Time { return fixed }
	})

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err != nil {
		t.Fatalf("first reconciliation failed: %v", err)
	}
	first, err := store.GetSubscription(context.Background(), testUID, testSubID)
	if err != nil {
		t.Fatalf("subscription record not written: %v", err)
	}

	// Replayed deliveries with unchanged Stripe state must rebuild exactly the
	// same document, every field included.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 2; i++ {
		if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err != nil {
			t.Fatalf("replayed reconciliation %d failed: %v", i, err)
		}
	}
	replayed, _ := store.GetSubscription(context.Background(), testUID, testSubID)
	if !reflect.DeepEqual(first, replayed) {
		t.Errorf("record diverged after replay:\nfirst:    %+v\nreplayed: %+v", first, replayed)
	}
	if claims.callCount() != 3 {
		t.Errorf("claim calls = %d, want one per reconciliation", claims.callCount())
	}
}

func TestReconcileSubscription_StaleEventForCleanedUpCustomer(t *testing.T) {
	store := newFakeStore() // no customer record

	sub := activeStripeSubscription("")
	sub.Status = stripe.SubscriptionStatusCanceled
	sub.CanceledAt = time.Now().Unix()
	sub.EndedAt = time.Now().Unix()

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return sub, nil
	}
	svc := newTestService(t, store, api)

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err != nil {
		t.Fatalf("stale event for ended subscription should be skipped, got %v", err)
	}
	if len(store.subscriptions) != 0 {
		t.Error("nothing should be written for a cleaned-up customer")
	}
}

func TestReconcileSubscription_UnknownCustomerStillLive(t *testing.T) {
	store := newFakeStore() // no customer record

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return activeStripeSubscription(""), nil // not canceled
	}
	svc := newTestService(t, store, api)

	err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false)
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
}

func TestReconcileSubscription_MultipleCustomerMatches(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, "user_a", testCustomerID)
	seedCustomer(store, "user_b", testCustomerID)

	svc := newTestService(t, store, newFakeAPI())

	err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false)
	if !errors.Is(err, ErrMultipleCustomers) {
		t.Fatalf("err = %v, want ErrMultipleCustomers", err)
	}
}

func TestReconcileSubscription_DeletedAuthUserTolerated(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return activeStripeSubscription("premium"), nil
	}
	claims := &fakeClaims{err: fmt.Errorf("auth: %w", ErrUserNotFound)}
	svc := newTestService(t, store, api, func(c *Config) { c.Claims = claims })

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err != nil {
		t.Fatalf("missing auth user should not fail reconciliation, got %v", err)
	}
	if _, err := store.GetSubscription(context.Background(), testUID, testSubID); err != nil {
		t.Errorf("subscription record should still be written: %v", err)
	}
}

func TestReconcileSubscription_BillingCopyOnlyOnFirstCreate(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	sub := activeStripeSubscription("premium")
	sub.DefaultPaymentMethod = &stripe.PaymentMethod{
		BillingDetails: &stripe.PaymentMethodBillingDetails{
			Name:  "Jane Tester",
			Phone: "+40700000000",
		},
	}

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return sub, nil
	}
	var updated *stripe.CustomerUpdateParams
	api.customerUpdateFn = func(_ context.Context, id string, params *stripe.CustomerUpdateParams) (*stripe.Customer, error) {
		if id != testCustomerID {
			return nil, fmt.Errorf("unexpected customer %s", id)
		}
		updated = params
		return &stripe.Customer{ID: id}, nil
	}
	svc := newTestService(t, store, api)

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, true); err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}
	if api.callCount("CustomerUpdate") != 1 {
		t.Fatalf("CustomerUpdate calls = %d, want 1", api.callCount("CustomerUpdate"))
	}
	if updated.Name == nil || *updated.Name != "Jane Tester" {
		t.Errorf("billing name not copied: %+v", updated)
	}

	// A redelivered create event finds the existing record and must not copy
	// billing details again.
	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, true); err != nil {
		t.Fatalf("redelivered create failed: %v", err)
	}
	if api.callCount("CustomerUpdate") != 1 {
		t.Errorf("CustomerUpdate calls after redelivery = %d, want still 1", api.callCount("CustomerUpdate"))
	}
}

func TestReconcileSubscription_BillingCopyFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	sub := activeStripeSubscription("premium")
	sub.DefaultPaymentMethod = &stripe.PaymentMethod{
		BillingDetails: &stripe.PaymentMethodBillingDetails{Name: "Jane Tester"},
	}

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return sub, nil
	}
	api.customerUpdateFn = func(context.Context, string, *stripe.CustomerUpdateParams) (*stripe.Customer, error) {
		return nil, fmt.Errorf("stripe is down")
	}
	svc := newTestService(t, store, api)

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, true); err != nil {
		t.Fatalf("billing copy failure must not fail the reconciliation: %v", err)
	}
	if _, err := store.GetSubscription(context.Background(), testUID, testSubID); err != nil {
		t.Errorf("subscription record missing: %v", err)
	}
}

func TestReconcileSubscription_StoreReadFailurePropagates(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)
	store.failOn("GetSubscription", fmt.Errorf("backend unavailable"))

	api := newFakeAPI()
	api.subscriptionRetrieveFn = func(context.Context, string, []string) (*stripe.Subscription, error) {
		return activeStripeSubscription(""), nil
	}
	svc := newTestService(t, store, api)

	if err := svc.ReconcileSubscription(context.Background(), testSubID, testCustomerID, false); err == nil {
		t.Fatal("expected store read failure to propagate")
	}
}

func TestSyncCustomer_ReconcilesEverySubscription(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	subA := activeStripeSubscription("premium")
	subB := activeStripeSubscription("premium")
	subB.ID = "sub_other"
	subB.Status = stripe.SubscriptionStatusCanceled

	api := newFakeAPI()
	api.subscriptionListFn = func(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
		if customerID != testCustomerID {
			return nil, fmt.Errorf("unexpected customer %s", customerID)
		}
		return []*stripe.Subscription{subA, subB}, nil
	}
	api.subscriptionRetrieveFn = func(_ context.Context, id string, _ []string) (*stripe.Subscription, error) {
		switch id {
		case subA.ID:
			return subA, nil
		case subB.ID:
			return subB, nil
		}
		return nil, fmt.Errorf("unknown subscription %s", id)
	}
	svc := newTestService(t, store, api)

	if err := svc.SyncCustomer(context.Background(), testUID); err != nil {
		t.Fatalf("SyncCustomer failed: %v", err)
	}

	if _, err := store.GetSubscription(context.Background(), testUID, subA.ID); err != nil {
		t.Errorf("first subscription not mirrored: %v", err)
	}
	canceled, err := store.GetSubscription(context.Background(), testUID, subB.ID)
	if err != nil {
		t.Fatalf("second subscription not mirrored: %v", err)
	}
	if canceled.Status != "canceled" {
		t.Errorf("second subscription status = %q, want canceled", canceled.Status)
	}
}

func TestSyncCustomer_UnknownUser(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeAPI())
	err := svc.SyncCustomer(context.Background(), "ghost")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
}
