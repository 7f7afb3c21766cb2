package stripefire

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
)

func (s *Service) upsertPrice(ctx context.Context, price *stripe.Price) error {
	// Webhook payloads omit tier data. Tiered prices are re-fetched with the
	// tiers expansion so the mirror carries the full tier table.
	if price.BillingScheme == stripe.PriceBillingSchemeTiered && len(price.Tiers) == 0 {
		start := time.Now()
		fetched, err := s.api.PriceRetrieve(ctx, price.ID, []string{"tiers"})
		if err != nil {
			s.metrics.RecordAPICall("/prices/{id}", "error")
			return fmt.Errorf("failed to fetch tiered price %s: %w", price.ID, err)
		}
		s.metrics.RecordAPICall("/prices/{id}", "success")
		s.metrics.RecordAPICallDuration("/prices/{id}", time.Since(start))
		price = fetched
	}

	record := &Price{
		ID:            price.ID,
		Active:        price.Active,
		Currency:      string(price.Currency),
		UnitAmount:    price.UnitAmount,
		BillingScheme: string(price.BillingScheme),
		Type:          string(price.Type),
		Description:   price.Nickname,
		TaxBehavior:   string(price.TaxBehavior),
		Metadata:      prefixMetadata(price.Metadata),
		UpdatedAt:     s.now().UTC(),
	}
	if price.Product != nil {
		record.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		record.Interval = string(price.Recurring.Interval)
		record.IntervalCount = price.Recurring.IntervalCount
		record.TrialPeriodDays = price.Recurring.TrialPeriodDays
	}
	for _, tier := range price.Tiers {
		flat, unit := tier.FlatAmount, tier.UnitAmount
		record.Tiers = append(record.Tiers, PriceTier{
			UpTo:       tier.UpTo,
			FlatAmount: &flat,
			UnitAmount: &unit,
		})
	}

	if record.ProductID == "" {
		return fmt.Errorf("price %s carries no product reference", price.ID)
	}
	if err := s.store.SetPrice(ctx, record); err != nil {
		return fmt.Errorf("failed to write price %s: %w", price.ID, err)
	}
	s.logger.Debug("price mirrored",
		Field{"price_id", price.ID},
		Field{"product_id", record.ProductID})
	return nil
}

func (s *Service) deletePrice(ctx context.Context, price *stripe.Price) error {
	if price.Product == nil {
		return fmt.Errorf("price %s carries no product reference", price.ID)
	}
	if err := s.store.DeletePrice(ctx, price.Product.ID, price.ID); err != nil {
		return fmt.Errorf("failed to delete price %s: %w", price.ID, err)
	}
	s.logger.Debug("price deleted", Field{"price_id", price.ID})
	return nil
}
