package stripefire

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stripe/stripe-go/v83"
)

const testSessionDocID = "csdoc_1"

func TestHandleCheckoutSessionRequest_Web(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	var params *stripe.CheckoutSessionCreateParams
	api.checkoutCreateFn = func(_ context.Context, p *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
		params = p
		return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
	}
	svc := newTestService(t, store, api)

	req := &CheckoutSessionRequest{
		PriceID:    testPriceID,
		SuccessURL: "https://app.example/success",
		CancelURL:  "https://app.example/cancel",
	}
	if err := svc.HandleCheckoutSessionRequest(context.Background(), testUID, "", "", testSessionDocID, req); err != nil {
		t.Fatalf("HandleCheckoutSessionRequest failed: %v", err)
	}

	if *params.Mode != "subscription" {
		t.Errorf("Mode = %q, want default subscription", *params.Mode)
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].Price != testPriceID {
		t.Errorf("LineItems = %+v", params.LineItems)
	}
	if *params.LineItems[0].Quantity != 1 {
		t.Errorf("Quantity = %d, want default 1", *params.LineItems[0].Quantity)
	}

	doc := store.session(testUID, testSessionDocID)
	if doc == nil {
		t.Fatal("session document not updated")
	}
	if doc["sessionId"] != "cs_1" {
		t.Errorf("sessionId = %v", doc["sessionId"])
	}
	if doc["url"] != "https://checkout.stripe.com/c/cs_1" {
		t.Errorf("url = %v", doc["url"])
	}
}

func TestHandleCheckoutSessionRequest_LazyCustomerCreation(t *testing.T) {
	store := newFakeStore() // no customer record yet

	api := newFakeAPI()
	api.customerCreateFn = func(context.Context, *stripe.CustomerCreateParams) (*stripe.Customer, error) {
		return &stripe.Customer{ID: testCustomerID}, nil
	}
	api.checkoutCreateFn = func(_ context.Context, p *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
		if *p.Customer != testCustomerID {
			return nil, fmt.Errorf("unexpected customer %s", *p.Customer)
		}
		return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
	}
	svc := newTestService(t, store, api)

	req := &CheckoutSessionRequest{PriceID: testPriceID}
	if err := svc.HandleCheckoutSessionRequest(context.Background(), testUID, "jane@example.com", "", testSessionDocID, req); err != nil {
		t.Fatalf("HandleCheckoutSessionRequest failed: %v", err)
	}
	if api.callCount("CustomerCreate") != 1 {
		t.Errorf("CustomerCreate calls = %d, want lazy creation", api.callCount("CustomerCreate"))
	}
	if _, err := store.GetCustomer(context.Background(), testUID); err != nil {
		t.Errorf("customer record not written: %v", err)
	}
}

func TestHandleCheckoutSessionRequest_ErrorWrittenBack(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	api.checkoutCreateFn = func(context.Context, *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
		return nil, fmt.Errorf("no such price")
	}
	svc := newTestService(t, store, api)

	req := &CheckoutSessionRequest{PriceID: "price_missing"}
	err := svc.HandleCheckoutSessionRequest(context.Background(), testUID, "", "", testSessionDocID, req)
	if err == nil {
		t.Fatal("expected error")
	}

	doc := store.session(testUID, testSessionDocID)
	if doc == nil {
		t.Fatal("error must be written back to the document")
	}
	errField, ok := doc["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("error field = %v", doc["error"])
	}
	if errField["message"] == "" {
		t.Error("error message missing")
	}
}

func TestHandleCheckoutSessionRequest_MissingPrice(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)
	svc := newTestService(t, store, newFakeAPI())

	err := svc.HandleCheckoutSessionRequest(context.Background(), testUID, "", "", testSessionDocID, &CheckoutSessionRequest{})
	if err == nil {
		t.Fatal("expected error for request without price or line_items")
	}
	if store.session(testUID, testSessionDocID) == nil {
		t.Error("validation failure must also be written back")
	}
}

func TestHandleCheckoutSessionRequest_MobilePayment(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	api.paymentIntentCreateFn = func(_ context.Context, p *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
		if *p.Amount != 1500 || *p.Currency != "usd" {
			return nil, fmt.Errorf("unexpected intent params")
		}
		return &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil
	}
	api.ephemeralKeyCreateFn = func(_ context.Context, p *stripe.EphemeralKeyCreateParams) (*stripe.EphemeralKey, error) {
		if *p.Customer != testCustomerID {
			return nil, fmt.Errorf("unexpected customer")
		}
		return &stripe.EphemeralKey{Secret: "ek_secret"}, nil
	}
	svc := newTestService(t, store, api)

	req := &CheckoutSessionRequest{
		Client:   "mobile",
		Mode:     "payment",
		Amount:   1500,
		Currency: "usd",
	}
	if err := svc.HandleCheckoutSessionRequest(context.Background(), testUID, "", "", testSessionDocID, req); err != nil {
		t.Fatalf("mobile payment request failed: %v", err)
	}

	doc := store.session(testUID, testSessionDocID)
	if doc["paymentIntentClientSecret"] != "pi_1_secret" {
		t.Errorf("paymentIntentClientSecret = %v", doc["paymentIntentClientSecret"])
	}
	if doc["ephemeralKeySecret"] != "ek_secret" {
		t.Errorf("ephemeralKeySecret = %v", doc["ephemeralKeySecret"])
	}
	if doc["customer"] != testCustomerID {
		t.Errorf("customer = %v", doc["customer"])
	}
}

func TestHandleCheckoutSessionRequest_MobileSetup(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	api.setupIntentCreateFn = func(context.Context, *stripe.SetupIntentCreateParams) (*stripe.SetupIntent, error) {
		return &stripe.SetupIntent{ID: "seti_1", ClientSecret: "seti_1_secret"}, nil
	}
	api.ephemeralKeyCreateFn = func(context.Context, *stripe.EphemeralKeyCreateParams) (*stripe.EphemeralKey, error) {
		return &stripe.EphemeralKey{Secret: "ek_secret"}, nil
	}
	svc := newTestService(t, store, api)

	req := &CheckoutSessionRequest{Client: "mobile", Mode: "setup"}
	if err := svc.HandleCheckoutSessionRequest(context.Background(), testUID, "", "", testSessionDocID, req); err != nil {
		t.Fatalf("mobile setup request failed: %v", err)
	}
	doc := store.session(testUID, testSessionDocID)
	if doc["setupIntentClientSecret"] != "seti_1_secret" {
		t.Errorf("setupIntentClientSecret = %v", doc["setupIntentClientSecret"])
	}
}

func TestHandleCheckoutSessionRequest_MobilePaymentNeedsAmount(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)
	svc := newTestService(t, store, newFakeAPI())

	req := &CheckoutSessionRequest{Client: "mobile", Mode: "payment"}
	if err := svc.HandleCheckoutSessionRequest(context.Background(), testUID, "", "", testSessionDocID, req); err == nil {
		t.Fatal("expected error for mobile payment without amount")
	}
}

func TestBuildCheckoutParams_Options(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, newFakeAPI(), func(c *Config) {
		c.ShippingCountries = []string{"US", "RO"}
	})

	req := &CheckoutSessionRequest{
		PriceID:             testPriceID,
		Quantity:            3,
		TrialPeriodDays:     7,
		AllowPromotionCodes: true,
		AutomaticTax:        true,
		CollectShipping:     true,
		Metadata:            map[string]string{"campaign": "spring"},
	}
	params, err := svc.buildCheckoutParams(testCustomerID, req)
	if err != nil {
		t.Fatalf("buildCheckoutParams failed: %v", err)
	}

	if *params.LineItems[0].Quantity != 3 {
		t.Errorf("Quantity = %d", *params.LineItems[0].Quantity)
	}
	if params.AllowPromotionCodes == nil || !*params.AllowPromotionCodes {
		t.Error("AllowPromotionCodes not set")
	}
	if params.AutomaticTax == nil || !*params.AutomaticTax.Enabled {
		t.Error("AutomaticTax not set")
	}
	if params.ShippingAddressCollection == nil || len(params.ShippingAddressCollection.AllowedCountries) != 2 {
		t.Errorf("ShippingAddressCollection = %+v", params.ShippingAddressCollection)
	}
	if params.SubscriptionData == nil || *params.SubscriptionData.TrialPeriodDays != 7 {
		t.Errorf("SubscriptionData = %+v", params.SubscriptionData)
	}
	if params.SubscriptionData.Metadata["campaign"] != "spring" {
		t.Error("metadata not propagated to subscription data")
	}
}

func TestBuildCheckoutParams_SetupModeSkipsLineItems(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeAPI())
	params, err := svc.buildCheckoutParams(testCustomerID, &CheckoutSessionRequest{Mode: "setup"})
	if err != nil {
		t.Fatalf("buildCheckoutParams failed: %v", err)
	}
	if len(params.LineItems) != 0 {
		t.Errorf("setup mode should carry no line items, got %+v", params.LineItems)
	}
}

func TestCreatePortalLink(t *testing.T) {
	store := newFakeStore()
	seedCustomer(store, testUID, testCustomerID)

	api := newFakeAPI()
	api.portalCreateFn = func(_ context.Context, p *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
		if *p.Customer != testCustomerID {
			return nil, fmt.Errorf("unexpected customer")
		}
		if p.ReturnURL == nil || *p.ReturnURL != "https://app.example/account" {
			return nil, fmt.Errorf("unexpected return url")
		}
		return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session_1"}, nil
	}
	svc := newTestService(t, store, api)

	url, err := svc.CreatePortalLink(context.Background(), testUID, "https://app.example/account")
	if err != nil {
		t.Fatalf("CreatePortalLink failed: %v", err)
	}
	if url != "https://billing.stripe.com/p/session_1" {
		t.Errorf("url = %q", url)
	}
}

func TestCreatePortalLink_NoCustomer(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeAPI())
	_, err := svc.CreatePortalLink(context.Background(), "ghost", "")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
}
