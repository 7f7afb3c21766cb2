package stripefire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/errgroup"
)

// subscriptionExpand requests product and payment-method expansion inline so
// role derivation and billing-details copy need no follow-up fetches.
var subscriptionExpand = []string{"items.data.price.product", "default_payment_method"}

const syncConcurrency = 4

// ReconcileSubscription rebuilds the mirror record for one subscription from
// authoritative Stripe state and updates the user's role claim.
//
// The rebuild is wholesale, never a field-by-field patch: webhook deliveries
// are unordered and at-least-once, so the re-fetched current truth is what
// converges the mirror, not the event payload. Two concurrent reconciliations
// for the same subscription re-derive from the same source and last-write-wins
// is acceptable.
func (s *Service) ReconcileSubscription(ctx context.Context, subscriptionID, stripeCustomerID string, isCreate bool) error {
	startTime := time.Now()

	uid, err := s.lookupUID(ctx, stripeCustomerID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			// A deleted user whose cleanup already ran leaves no customer
			// record; a late subscription event for a canceled subscription
			// is then stale, not an error.
			if s.subscriptionAlreadyEnded(ctx, subscriptionID) {
				s.logger.Info("skipping reconciliation for cleaned-up customer",
					Field{"subscription_id", subscriptionID},
					Field{"stripe_customer_id", stripeCustomerID})
				return nil
			}
		}
		s.metrics.RecordReconciliation("error")
		return err
	}

	sub, err := s.retrieveSubscription(ctx, subscriptionID, subscriptionExpand)
	if err != nil {
		s.metrics.RecordReconciliation("error")
		return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	record := s.buildSubscriptionRecord(sub)

	// The previous record feeds the role-change metric and, on create, the
	// duplicate-create guard: a checkout-completion event often arrives in
	// addition to the subscription-created event. The rebuild itself is
	// always unconditional; only the billing-details copy is gated.
	previous, err := s.store.GetSubscription(ctx, uid, subscriptionID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		s.metrics.RecordReconciliation("error")
		return fmt.Errorf("failed to read subscription record %s/%s: %w", uid, subscriptionID, err)
	}

	if err := s.store.SetSubscription(ctx, uid, record); err != nil {
		s.metrics.RecordReconciliation("error")
		return fmt.Errorf("failed to write subscription record %s/%s: %w", uid, subscriptionID, err)
	}

	if err := s.updateRoleClaim(ctx, uid, record, previous); err != nil {
		s.metrics.RecordReconciliation("error")
		return err
	}

	// Ordered last: most expensive, least critical. The subscription write is
	// already committed; a failure here is logged, not propagated, and the
	// call is awaited so a serverless host does not kill it mid-flight.
	if isCreate && previous == nil && sub.DefaultPaymentMethod != nil {
		if err := s.copyBillingDetails(ctx, stripeCustomerID, sub.DefaultPaymentMethod); err != nil {
			s.logger.Warn("failed to copy billing details to customer",
				Field{"stripe_customer_id", stripeCustomerID},
				Field{"subscription_id", subscriptionID},
				Field{"error", err.Error()})
		}
	}

	s.logger.Info("subscription reconciled",
		Field{"uid", uid},
		Field{"subscription_id", subscriptionID},
		Field{"status", record.Status})
	s.metrics.RecordReconciliation("success")
	s.metrics.RecordReconciliationDuration(time.Since(startTime))
	return nil
}

// SyncCustomer re-reconciles every Stripe subscription of a local user.
// Intended for restore-purchases flows and nightly reconciliation jobs.
func (s *Service) SyncCustomer(ctx context.Context, uid string) error {
	customer, err := s.store.GetCustomer(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to load customer record %s: %w", uid, err)
	}

	subs, err := s.api.SubscriptionList(ctx, customer.StripeID)
	if err != nil {
		s.metrics.RecordAPICall("/subscriptions", "error")
		return fmt.Errorf("failed to list subscriptions for %s: %w", customer.StripeID, err)
	}
	s.metrics.RecordAPICall("/subscriptions", "success")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for _, sub := range subs {
		g.Go(func() error {
			return s.ReconcileSubscription(gctx, sub.ID, customer.StripeID, false)
		})
	}
	return g.Wait()
}

// lookupUID resolves the local user behind a Stripe customer ID.
// Exactly one customer record must match; zero or many is surfaced, never
// coerced to "pick the first".
func (s *Service) lookupUID(ctx context.Context, stripeCustomerID string) (string, error) {
	uids, err := s.store.FindCustomerUIDs(ctx, stripeCustomerID)
	if err != nil {
		return "", fmt.Errorf("customer lookup failed for %s: %w", stripeCustomerID, err)
	}
	switch len(uids) {
	case 1:
		return uids[0], nil
	case 0:
		return "", fmt.Errorf("%w: stripe customer %s", ErrCustomerNotFound, stripeCustomerID)
	default:
		return "", fmt.Errorf("%w: stripe customer %s matches %d records",
			ErrMultipleCustomers, stripeCustomerID, len(uids))
	}
}

func (s *Service) subscriptionAlreadyEnded(ctx context.Context, subscriptionID string) bool {
	sub, err := s.retrieveSubscription(ctx, subscriptionID, nil)
	if err != nil {
		return false
	}
	return sub.CanceledAt > 0 || sub.EndedAt > 0
}

func (s *Service) retrieveSubscription(ctx context.Context, id string, expand []string) (*stripe.Subscription, error) {
	start := time.Now()
	sub, err := s.api.SubscriptionRetrieve(ctx, id, expand)
	if err != nil {
		s.metrics.RecordAPICall("/subscriptions/{id}", "error")
		return nil, err
	}
	s.metrics.RecordAPICall("/subscriptions/{id}", "success")
	s.metrics.RecordAPICallDuration("/subscriptions/{id}", time.Since(start))
	return sub, nil
}

// buildSubscriptionRecord maps a fully-expanded Stripe subscription onto the
// mirror shape. The primary item is the first item as returned by the expand;
// the prices array covers every item.
func (s *Service) buildSubscriptionRecord(sub *stripe.Subscription) *Subscription {
	record := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Role:              roleFromSubscription(sub),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Created:           unixTime(sub.Created),
		TrialStart:        unixTimePtr(sub.TrialStart),
		TrialEnd:          unixTimePtr(sub.TrialEnd),
		CancelAt:          unixTimePtr(sub.CancelAt),
		CanceledAt:        unixTimePtr(sub.CanceledAt),
		EndedAt:           unixTimePtr(sub.EndedAt),
		StripeLink:        s.subscriptionDashboardLink(sub.ID),
		Metadata:          sub.Metadata,
		UpdatedAt:         s.now().UTC(),
	}

	if sub.Items == nil {
		return record
	}

	for i, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		mirrored := SubscriptionItem{
			ID:       item.ID,
			PriceID:  item.Price.ID,
			Quantity: item.Quantity,
		}
		if item.Price.Product != nil {
			mirrored.ProductID = item.Price.Product.ID
		}
		record.Items = append(record.Items, mirrored)
		record.PriceIDs = append(record.PriceIDs, item.Price.ID)

		if i == 0 {
			record.PriceID = mirrored.PriceID
			record.ProductID = mirrored.ProductID
			record.Quantity = item.Quantity
			record.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
			record.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}

	return record
}

// updateRoleClaim sets the role claim to the derived role while the
// subscription grants access, and explicitly to null otherwise, so a lapsed
// subscription never leaves a stale role claim behind. A user who no longer
// exists has nothing to update.
func (s *Service) updateRoleClaim(ctx context.Context, uid string, record, previous *Subscription) error {
	var claimRole *string
	if record.Active() {
		claimRole = record.Role
	}

	if err := s.claims.SetRoleClaim(ctx, uid, claimRole); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.Debug("skipping role claim for deleted user", Field{"uid", uid})
			return nil
		}
		return fmt.Errorf("failed to update role claim for %s: %w", uid, err)
	}

	prevRole := ""
	if previous != nil && previous.Active() && previous.Role != nil {
		prevRole = *previous.Role
	}
	newRole := ""
	if claimRole != nil {
		newRole = *claimRole
	}
	if prevRole != newRole {
		s.metrics.RecordRoleChange(prevRole, newRole)
	}
	return nil
}

// copyBillingDetails mirrors name/phone/address from the default payment
// method onto the Stripe customer object.
func (s *Service) copyBillingDetails(ctx context.Context, stripeCustomerID string, pm *stripe.PaymentMethod) error {
	if pm.BillingDetails == nil {
		return nil
	}
	details := pm.BillingDetails

	params := &stripe.CustomerUpdateParams{}
	if details.Name != "" {
		params.Name = stripe.String(details.Name)
	}
	if details.Phone != "" {
		params.Phone = stripe.String(details.Phone)
	}
	if details.Address != nil {
		params.Address = &stripe.AddressParams{
			City:       stripe.String(details.Address.City),
			Country:    stripe.String(details.Address.Country),
			Line1:      stripe.String(details.Address.Line1),
			Line2:      stripe.String(details.Address.Line2),
			PostalCode: stripe.String(details.Address.PostalCode),
			State:      stripe.String(details.Address.State),
		}
	}
	if params.Name == nil && params.Phone == nil && params.Address == nil {
		return nil
	}

	start := time.Now()
	if _, err := s.api.CustomerUpdate(ctx, stripeCustomerID, params); err != nil {
		s.metrics.RecordAPICall("/customers/{id}", "error")
		return err
	}
	s.metrics.RecordAPICall("/customers/{id}", "success")
	s.metrics.RecordAPICallDuration("/customers/{id}", time.Since(start))
	return nil
}

// roleFromSubscription derives the role from the primary item's product
// metadata. Nil when the reserved key is absent or nothing is expanded.
func roleFromSubscription(sub *stripe.Subscription) *string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	primary := sub.Items.Data[0]
	if primary.Price == nil || primary.Price.Product == nil {
		return nil
	}
	if role, ok := primary.Price.Product.Metadata[RoleMetadataKey]; ok && role != "" {
		return &role
	}
	return nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
