package stripefire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// CreateCustomer creates the Stripe customer for a local user and writes the
// customer record. Safe to call more than once for the same user: an existing
// record with a Stripe ID is returned as-is, and the Stripe call itself
// carries a per-user idempotency key so a race between two first calls cannot
// mint two Stripe customers.
func (s *Service) CreateCustomer(ctx context.Context, uid, email, phone string) (*Customer, error) {
	existing, err := s.store.GetCustomer(ctx, uid)
	if err != nil && !errors.Is(err, ErrCustomerNotFound) {
		return nil, fmt.Errorf("failed to read customer record %s: %w", uid, err)
	}
	if existing != nil && existing.StripeID != "" {
		return existing, nil
	}

	params := &stripe.CustomerCreateParams{
		Metadata: map[string]string{UIDMetadataKey: uid},
	}
	params.IdempotencyKey = stripe.String("customer-create-" + uid)
	if email != "" {
		params.Email = stripe.String(email)
	}
	if phone != "" {
		params.Phone = stripe.String(phone)
	}

	start := time.Now()
	created, err := s.api.CustomerCreate(ctx, params)
	if err != nil {
		s.metrics.RecordAPICall("/customers", "error")
		return nil, fmt.Errorf("failed to create stripe customer for %s: %w", uid, err)
	}
	s.metrics.RecordAPICall("/customers", "success")
	s.metrics.RecordAPICallDuration("/customers", time.Since(start))

	record := &Customer{
		UID:        uid,
		StripeID:   created.ID,
		StripeLink: s.customerDashboardLink(created.ID),
		Email:      email,
		Phone:      phone,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.store.SetCustomer(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to write customer record %s: %w", uid, err)
	}

	s.logger.Info("stripe customer created",
		Field{"uid", uid},
		Field{"stripe_customer_id", created.ID})
	return record, nil
}

// ensureCustomer returns the customer record for a user, creating the Stripe
// customer lazily when none exists yet.
func (s *Service) ensureCustomer(ctx context.Context, uid, email, phone string) (*Customer, error) {
	customer, err := s.store.GetCustomer(ctx, uid)
	if err == nil && customer.StripeID != "" {
		return customer, nil
	}
	if err != nil && !errors.Is(err, ErrCustomerNotFound) {
		return nil, fmt.Errorf("failed to read customer record %s: %w", uid, err)
	}
	return s.CreateCustomer(ctx, uid, email, phone)
}

// DeleteCustomer tears down billing state for a deleted user: the Stripe
// customer is deleted (which cancels its subscriptions upstream), local
// subscription mirrors are marked canceled, and the customer record is
// removed. Every step tolerates state that is already gone, so a re-run after
// a partial failure converges.
func (s *Service) DeleteCustomer(ctx context.Context, uid string) error {
	customer, err := s.store.GetCustomer(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			s.logger.Debug("no customer record to clean up", Field{"uid", uid})
			return nil
		}
		return fmt.Errorf("failed to read customer record %s: %w", uid, err)
	}

	if customer.StripeID != "" {
		start := time.Now()
		if _, err := s.api.CustomerDelete(ctx, customer.StripeID); err != nil {
			s.metrics.RecordAPICall("/customers/{id}", "error")
			// The Stripe customer may have been deleted out of band; the
			// local cleanup still has to run.
			s.logger.Warn("failed to delete stripe customer",
				Field{"uid", uid},
				Field{"stripe_customer_id", customer.StripeID},
				Field{"error", err.Error()})
		} else {
			s.metrics.RecordAPICall("/customers/{id}", "success")
			s.metrics.RecordAPICallDuration("/customers/{id}", time.Since(start))
		}
	}

	canceled, err := s.store.MarkSubscriptionsCanceled(ctx, uid, s.now().UTC())
	if err != nil {
		s.logger.Warn("failed to mark subscriptions canceled",
			Field{"uid", uid},
			Field{"error", err.Error()})
	} else if canceled > 0 {
		s.logger.Info("subscriptions marked canceled",
			Field{"uid", uid},
			Field{"count", canceled})
	}

	if err := s.store.DeleteCustomer(ctx, uid); err != nil {
		return fmt.Errorf("failed to delete customer record %s: %w", uid, err)
	}
	s.logger.Info("customer cleaned up", Field{"uid", uid})
	return nil
}
