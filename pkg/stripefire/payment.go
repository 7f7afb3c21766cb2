package stripefire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// rawPayment extracts the payment-intent fields the mirror needs directly
// from the event payload. The invoice backlink is read from raw JSON since
// it is absent from newer API shapes.
type rawPayment struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	Customer       string `json:"customer"`
	Invoice        string `json:"invoice"`
	Created        int64  `json:"created"`
}

func (s *Service) upsertPayment(ctx context.Context, raw json.RawMessage) error {
	var pay rawPayment
	if err := json.Unmarshal(raw, &pay); err != nil {
		return fmt.Errorf("failed to parse payment intent payload: %w", err)
	}

	if pay.Customer == "" {
		// Guest payments have no customer record to hang the payment under.
		s.logger.Debug("skipping payment intent without customer", Field{"payment_intent_id", pay.ID})
		return nil
	}

	uid, err := s.lookupUID(ctx, pay.Customer)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			s.logger.Warn("skipping payment intent for unknown customer",
				Field{"payment_intent_id", pay.ID},
				Field{"stripe_customer_id", pay.Customer})
			return nil
		}
		return err
	}

	record := &Payment{
		ID:             pay.ID,
		Status:         pay.Status,
		Amount:         pay.Amount,
		AmountReceived: pay.AmountReceived,
		Currency:       pay.Currency,
		InvoiceID:      pay.Invoice,
		PriceIDs:       s.resolvePaymentPrices(ctx, pay.ID, pay.Invoice),
		Created:        unixTime(pay.Created),
		UpdatedAt:      s.now().UTC(),
	}
	if err := s.store.SetPayment(ctx, uid, record); err != nil {
		return fmt.Errorf("failed to write payment %s: %w", pay.ID, err)
	}
	s.logger.Debug("payment mirrored",
		Field{"uid", uid},
		Field{"payment_intent_id", pay.ID})
	return nil
}

// resolvePaymentPrices resolves the price references behind a payment through
// its invoice's line items. The payment-intent payload itself carries no line
// items, so off-invoice payments (one-off PaymentIntents) resolve to none.
// A lookup failure leaves the references empty rather than failing the event;
// the next delivery for the same payment merges them in.
func (s *Service) resolvePaymentPrices(ctx context.Context, paymentID, invoiceID string) []string {
	if invoiceID == "" {
		return nil
	}

	start := time.Now()
	inv, err := s.api.InvoiceRetrieve(ctx, invoiceID)
	if err != nil {
		s.metrics.RecordAPICall("/invoices/{id}", "error")
		s.logger.Warn("failed to resolve prices for payment",
			Field{"payment_intent_id", paymentID},
			Field{"invoice_id", invoiceID},
			Field{"error", err.Error()})
		return nil
	}
	s.metrics.RecordAPICall("/invoices/{id}", "success")
	s.metrics.RecordAPICallDuration("/invoices/{id}", time.Since(start))

	if inv.Lines == nil {
		return nil
	}
	var ids []string
	for _, line := range inv.Lines.Data {
		if line.Pricing != nil && line.Pricing.PriceDetails != nil && line.Pricing.PriceDetails.Price != "" {
			ids = append(ids, line.Pricing.PriceDetails.Price)
		}
	}
	return ids
}
