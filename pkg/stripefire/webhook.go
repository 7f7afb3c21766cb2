package stripefire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/stripefire/internal/httputil"
)

const webhookBodyLimit = 256 * 1024

// ackBody is the webhook acknowledgement. The event source retries on
// non-2xx, so handler failures still acknowledge with Received=false and an
// error message; callers detecting skipped processing must check the body,
// not the status code. Only signature failure is non-200.
type ackBody struct {
	Received bool   `json:"received"`
	Error    string `json:"error,omitempty"`
}

// handleWebhook processes incoming Stripe webhook events
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(s.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := httputil.ReadBodyStrict(w, r, webhookBodyLimit)
	if err != nil {
		if errors.Is(err, httputil.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			s.metrics.RecordWebhookError("payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			s.metrics.RecordWebhookError("invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, string(s.webhookSecret))
	if err != nil {
		s.metrics.RecordWebhookError("auth_failed")
		_ = httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	eventType := string(event.Type)
	kind := s.events.Classify(event.Type)
	if kind == EventIgnored {
		// Not an error: Stripe sends many event types no mirror needs.
		s.metrics.RecordWebhookEvent(eventType, "ignored")
		_ = httputil.WriteJSON(w, http.StatusOK, ackBody{Received: true})
		return
	}

	ctx := r.Context()

	if s.deduper != nil {
		seen, derr := s.deduper.Seen(ctx, event.ID)
		if derr != nil {
			// Dedupe is an optimization; on failure fall through and process.
			s.logger.Warn("event dedupe check failed",
				Field{"event_id", event.ID}, Field{"error", derr.Error()})
		} else if seen {
			s.logger.Debug("duplicate webhook event skipped",
				Field{"event_id", event.ID}, Field{"event_type", eventType})
			s.metrics.RecordWebhookEvent(eventType, "duplicate")
			_ = httputil.WriteJSON(w, http.StatusOK, ackBody{Received: true})
			return
		}
	}

	if err := s.dispatch(ctx, kind, &event); err != nil {
		s.logger.Error("webhook handler failed",
			Field{"event_id", event.ID},
			Field{"event_type", eventType},
			Field{"handler", kind.String()},
			Field{"error", err.Error()})
		s.metrics.RecordWebhookEvent(eventType, "error")
		s.metrics.RecordWebhookError("processing_error")
		s.metrics.RecordWebhookProcessingDuration(eventType, time.Since(startTime))
		_ = httputil.WriteJSON(w, http.StatusOK, ackBody{Received: false, Error: err.Error()})
		return
	}

	s.metrics.RecordWebhookEvent(eventType, "success")
	s.metrics.RecordWebhookProcessingDuration(eventType, time.Since(startTime))
	_ = httputil.WriteJSON(w, http.StatusOK, ackBody{Received: true})
}

// dispatch routes a classified event to its handler. Every handler is safe to
// invoke more than once for the same event ID: the event source delivers
// at-least-once.
func (s *Service) dispatch(ctx context.Context, kind EventKind, event *stripe.Event) error {
	switch kind {
	case EventProductUpdated:
		var product stripe.Product
		if err := json.Unmarshal(event.Data.Raw, &product); err != nil {
			return fmt.Errorf("%w: product: %v", ErrInvalidWebhookPayload, err)
		}
		return s.upsertProduct(ctx, &product)

	case EventProductDeleted:
		var product stripe.Product
		if err := json.Unmarshal(event.Data.Raw, &product); err != nil {
			return fmt.Errorf("%w: product: %v", ErrInvalidWebhookPayload, err)
		}
		return s.deleteProduct(ctx, product.ID)

	case EventPriceUpdated:
		var price stripe.Price
		if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
			return fmt.Errorf("%w: price: %v", ErrInvalidWebhookPayload, err)
		}
		return s.upsertPrice(ctx, &price)

	case EventPriceDeleted:
		var price stripe.Price
		if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
			return fmt.Errorf("%w: price: %v", ErrInvalidWebhookPayload, err)
		}
		return s.deletePrice(ctx, &price)

	case EventTaxRateUpdated:
		var taxRate stripe.TaxRate
		if err := json.Unmarshal(event.Data.Raw, &taxRate); err != nil {
			return fmt.Errorf("%w: tax rate: %v", ErrInvalidWebhookPayload, err)
		}
		return s.upsertTaxRate(ctx, &taxRate)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: subscription: %v", ErrInvalidWebhookPayload, err)
		}
		if sub.Customer == nil {
			return fmt.Errorf("%w: subscription %s has no customer", ErrInvalidWebhookPayload, sub.ID)
		}
		return s.ReconcileSubscription(ctx, sub.ID, sub.Customer.ID, kind == EventSubscriptionCreated)

	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("%w: checkout session: %v", ErrInvalidWebhookPayload, err)
		}
		// Only subscription-mode checkouts carry mirror state; one-time
		// payments arrive via payment_intent events.
		if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil {
			return nil
		}
		if session.Customer == nil {
			return fmt.Errorf("%w: checkout session %s has no customer", ErrInvalidWebhookPayload, session.ID)
		}
		return s.ReconcileSubscription(ctx, session.Subscription.ID, session.Customer.ID, true)

	case EventInvoiceUpdated:
		return s.upsertInvoice(ctx, event.Data.Raw)

	case EventPaymentUpdated:
		return s.upsertPayment(ctx, event.Data.Raw)

	default:
		return nil
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
