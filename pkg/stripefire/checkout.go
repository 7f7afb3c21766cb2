package stripefire

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// HandleCheckoutSessionRequest fulfils a checkout_sessions document written by
// a client: it resolves (or lazily creates) the Stripe customer, creates the
// requested session or intent, and merges the resulting identifiers back onto
// the same document. Failures are also written back, under an "error" field,
// because the document is the client's only feedback channel.
func (s *Service) HandleCheckoutSessionRequest(ctx context.Context, uid, email, phone, sessionDocID string, req *CheckoutSessionRequest) error {
	err := s.fulfillCheckoutSession(ctx, uid, email, phone, sessionDocID, req)
	if err == nil {
		return nil
	}

	s.logger.Error("checkout session request failed",
		Field{"uid", uid},
		Field{"session_doc_id", sessionDocID},
		Field{"error", err.Error()})
	writeErr := s.store.UpdateCheckoutSession(ctx, uid, sessionDocID, map[string]interface{}{
		"error": map[string]interface{}{"message": err.Error()},
	})
	if writeErr != nil {
		s.logger.Error("failed to write checkout error back to document",
			Field{"uid", uid},
			Field{"session_doc_id", sessionDocID},
			Field{"error", writeErr.Error()})
	}
	return err
}

func (s *Service) fulfillCheckoutSession(ctx context.Context, uid, email, phone, sessionDocID string, req *CheckoutSessionRequest) error {
	customer, err := s.ensureCustomer(ctx, uid, email, phone)
	if err != nil {
		return err
	}

	if req.Client == "mobile" {
		return s.fulfillMobileSession(ctx, uid, sessionDocID, customer, req)
	}
	return s.fulfillWebSession(ctx, uid, sessionDocID, customer, req)
}

func (s *Service) fulfillWebSession(ctx context.Context, uid, sessionDocID string, customer *Customer, req *CheckoutSessionRequest) error {
	params, err := s.buildCheckoutParams(customer.StripeID, req)
	if err != nil {
		return err
	}

	start := time.Now()
	session, err := s.api.CheckoutSessionCreate(ctx, params)
	if err != nil {
		s.metrics.RecordAPICall("/checkout/sessions", "error")
		return fmt.Errorf("failed to create checkout session: %w", err)
	}
	s.metrics.RecordAPICall("/checkout/sessions", "success")
	s.metrics.RecordAPICallDuration("/checkout/sessions", time.Since(start))

	if err := s.store.UpdateCheckoutSession(ctx, uid, sessionDocID, map[string]interface{}{
		"sessionId": session.ID,
		"url":       session.URL,
		"created":   s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to write session back to document: %w", err)
	}
	s.logger.Info("checkout session created",
		Field{"uid", uid},
		Field{"session_id", session.ID})
	return nil
}

// fulfillMobileSession serves mobile SDK clients that drive PaymentSheet
// directly: instead of a hosted session URL, they receive an intent client
// secret plus an ephemeral key scoped to the customer.
func (s *Service) fulfillMobileSession(ctx context.Context, uid, sessionDocID string, customer *Customer, req *CheckoutSessionRequest) error {
	fields := map[string]interface{}{
		"customer": customer.StripeID,
		"created":  s.now().UTC(),
	}

	if req.Mode == "setup" {
		start := time.Now()
		intent, err := s.api.SetupIntentCreate(ctx, &stripe.SetupIntentCreateParams{
			Customer: stripe.String(customer.StripeID),
		})
		if err != nil {
			s.metrics.RecordAPICall("/setup_intents", "error")
			return fmt.Errorf("failed to create setup intent: %w", err)
		}
		s.metrics.RecordAPICall("/setup_intents", "success")
		s.metrics.RecordAPICallDuration("/setup_intents", time.Since(start))
		fields["setupIntentClientSecret"] = intent.ClientSecret
	} else {
		if req.Amount <= 0 || req.Currency == "" {
			return fmt.Errorf("mobile payment request needs amount and currency")
		}
		start := time.Now()
		intent, err := s.api.PaymentIntentCreate(ctx, &stripe.PaymentIntentCreateParams{
			Amount:   stripe.Int64(req.Amount),
			Currency: stripe.String(req.Currency),
			Customer: stripe.String(customer.StripeID),
		})
		if err != nil {
			s.metrics.RecordAPICall("/payment_intents", "error")
			return fmt.Errorf("failed to create payment intent: %w", err)
		}
		s.metrics.RecordAPICall("/payment_intents", "success")
		s.metrics.RecordAPICallDuration("/payment_intents", time.Since(start))
		fields["paymentIntentClientSecret"] = intent.ClientSecret
	}

	key, err := s.api.EphemeralKeyCreate(ctx, &stripe.EphemeralKeyCreateParams{
		Customer:      stripe.String(customer.StripeID),
		StripeVersion: stripe.String(s.ephemeralVer),
	})
	if err != nil {
		s.metrics.RecordAPICall("/ephemeral_keys", "error")
		return fmt.Errorf("failed to create ephemeral key: %w", err)
	}
	s.metrics.RecordAPICall("/ephemeral_keys", "success")
	fields["ephemeralKeySecret"] = key.Secret

	if err := s.store.UpdateCheckoutSession(ctx, uid, sessionDocID, fields); err != nil {
		return fmt.Errorf("failed to write session back to document: %w", err)
	}
	s.logger.Info("mobile payment session created", Field{"uid", uid})
	return nil
}

func (s *Service) buildCheckoutParams(stripeCustomerID string, req *CheckoutSessionRequest) (*stripe.CheckoutSessionCreateParams, error) {
	mode := req.Mode
	if mode == "" {
		mode = "subscription"
	}

	params := &stripe.CheckoutSessionCreateParams{
		Customer:   stripe.String(stripeCustomerID),
		Mode:       stripe.String(mode),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}

	if mode != "setup" {
		switch {
		case len(req.LineItems) > 0:
			for _, item := range req.LineItems {
				quantity := item.Quantity
				if quantity <= 0 {
					quantity = 1
				}
				params.LineItems = append(params.LineItems, &stripe.CheckoutSessionCreateLineItemParams{
					Price:    stripe.String(item.PriceID),
					Quantity: stripe.Int64(quantity),
				})
			}
		case req.PriceID != "":
			quantity := req.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			params.LineItems = []*stripe.CheckoutSessionCreateLineItemParams{{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(quantity),
			}}
		default:
			return nil, fmt.Errorf("checkout request needs a price or line_items")
		}
	}

	if req.AllowPromotionCodes {
		params.AllowPromotionCodes = stripe.Bool(true)
	}
	if req.AutomaticTax {
		params.AutomaticTax = &stripe.CheckoutSessionCreateAutomaticTaxParams{
			Enabled: stripe.Bool(true),
		}
	}
	if req.CollectShipping && len(s.shipCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionCreateShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(s.shipCountries),
		}
	}
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}
	if mode == "subscription" && (req.TrialPeriodDays > 0 || len(req.Metadata) > 0) {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		if req.TrialPeriodDays > 0 {
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(req.TrialPeriodDays)
		}
		if len(req.Metadata) > 0 {
			params.SubscriptionData.Metadata = req.Metadata
		}
	}
	return params, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for a user directly,
// without going through a checkout_sessions document. Used by the HTTP API.
func (s *Service) CreateCheckoutSession(ctx context.Context, uid, email, phone string, req *CheckoutSessionRequest) (*stripe.CheckoutSession, error) {
	customer, err := s.ensureCustomer(ctx, uid, email, phone)
	if err != nil {
		return nil, err
	}
	params, err := s.buildCheckoutParams(customer.StripeID, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	session, err := s.api.CheckoutSessionCreate(ctx, params)
	if err != nil {
		s.metrics.RecordAPICall("/checkout/sessions", "error")
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	s.metrics.RecordAPICall("/checkout/sessions", "success")
	s.metrics.RecordAPICallDuration("/checkout/sessions", time.Since(start))
	return session, nil
}

// CreatePortalLink returns a billing-portal URL for an existing customer.
// The customer record must already exist; portal access without a Stripe
// customer is meaningless.
func (s *Service) CreatePortalLink(ctx context.Context, uid, returnURL string) (string, error) {
	customer, err := s.store.GetCustomer(ctx, uid)
	if err != nil {
		return "", err
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customer.StripeID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	start := time.Now()
	session, err := s.api.PortalSessionCreate(ctx, params)
	if err != nil {
		s.metrics.RecordAPICall("/billing_portal/sessions", "error")
		return "", fmt.Errorf("failed to create billing portal session: %w", err)
	}
	s.metrics.RecordAPICall("/billing_portal/sessions", "success")
	s.metrics.RecordAPICallDuration("/billing_portal/sessions", time.Since(start))
	return session.URL, nil
}
