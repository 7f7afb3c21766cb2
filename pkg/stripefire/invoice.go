package stripefire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// rawInvoice extracts the invoice fields the mirror needs directly from the
// event payload. The subscription linkage and line-item price references have
// moved between API versions (top-level subscription vs parent details,
// line.price vs line.pricing), so both shapes are read.
type rawInvoice struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Total            int64  `json:"total"`
	AmountPaid       int64  `json:"amount_paid"`
	AmountDue        int64  `json:"amount_due"`
	Currency         string `json:"currency"`
	Number           string `json:"number"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	Created          int64  `json:"created"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv *rawInvoice) subscriptionID() string {
	if inv.Subscription != "" {
		return inv.Subscription
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (inv *rawInvoice) priceIDs() []string {
	var ids []string
	for _, line := range inv.Lines.Data {
		switch {
		case line.Price != nil && line.Price.ID != "":
			ids = append(ids, line.Price.ID)
		case line.Pricing != nil && line.Pricing.PriceDetails != nil && line.Pricing.PriceDetails.Price != "":
			ids = append(ids, line.Pricing.PriceDetails.Price)
		}
	}
	return ids
}

func (s *Service) upsertInvoice(ctx context.Context, raw json.RawMessage) error {
	var inv rawInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice payload: %w", err)
	}

	subscriptionID := inv.subscriptionID()
	if subscriptionID == "" {
		// One-off invoices have no subscription to hang the record under.
		s.logger.Debug("skipping non-subscription invoice", Field{"invoice_id", inv.ID})
		return nil
	}

	uid, err := s.lookupUID(ctx, inv.Customer)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			s.logger.Warn("skipping invoice for unknown customer",
				Field{"invoice_id", inv.ID},
				Field{"stripe_customer_id", inv.Customer})
			return nil
		}
		return err
	}

	record := &Invoice{
		ID:               inv.ID,
		SubscriptionID:   subscriptionID,
		Status:           inv.Status,
		Total:            inv.Total,
		AmountPaid:       inv.AmountPaid,
		AmountDue:        inv.AmountDue,
		Currency:         inv.Currency,
		Number:           inv.Number,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		PriceIDs:         inv.priceIDs(),
		Created:          unixTime(inv.Created),
		UpdatedAt:        s.now().UTC(),
	}
	if err := s.store.SetInvoice(ctx, uid, record); err != nil {
		return fmt.Errorf("failed to write invoice %s: %w", inv.ID, err)
	}
	s.logger.Debug("invoice mirrored",
		Field{"uid", uid},
		Field{"invoice_id", inv.ID},
		Field{"subscription_id", subscriptionID})
	return nil
}
