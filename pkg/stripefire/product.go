package stripefire

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v83"
)

// prefixMetadata copies Stripe metadata with every key prefixed, dropping the
// reserved role key which is surfaced as a dedicated field instead.
func prefixMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if k == RoleMetadataKey {
			continue
		}
		out[MetadataPrefix+k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func roleFromMetadata(metadata map[string]string) *string {
	if role, ok := metadata[RoleMetadataKey]; ok && role != "" {
		return &role
	}
	return nil
}

func (s *Service) upsertProduct(ctx context.Context, product *stripe.Product) error {
	record := &Product{
		ID:          product.ID,
		Active:      product.Active,
		Name:        product.Name,
		Description: product.Description,
		Images:      product.Images,
		Role:        roleFromMetadata(product.Metadata),
		Metadata:    prefixMetadata(product.Metadata),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.store.SetProduct(ctx, record); err != nil {
		return fmt.Errorf("failed to write product %s: %w", product.ID, err)
	}
	s.logger.Debug("product mirrored", Field{"product_id", product.ID})
	return nil
}

// deleteProduct removes the product record only. Its price sub-records are
// left in place; Stripe emits a price.deleted event per price when a product
// with prices is deleted, and each is handled on its own.
func (s *Service) deleteProduct(ctx context.Context, productID string) error {
	if err := s.store.DeleteProduct(ctx, productID); err != nil {
		return fmt.Errorf("failed to delete product %s: %w", productID, err)
	}
	s.logger.Debug("product deleted", Field{"product_id", productID})
	return nil
}

func (s *Service) upsertTaxRate(ctx context.Context, taxRate *stripe.TaxRate) error {
	record := &TaxRate{
		ID:          taxRate.ID,
		DisplayName: taxRate.DisplayName,
		Description: taxRate.Description,
		Percentage:  taxRate.Percentage,
		Inclusive:   taxRate.Inclusive,
		Active:      taxRate.Active,
		Country:     taxRate.Country,
		State:       taxRate.State,
		Created:     unixTime(taxRate.Created),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.store.SetTaxRate(ctx, record); err != nil {
		return fmt.Errorf("failed to write tax rate %s: %w", taxRate.ID, err)
	}
	s.logger.Debug("tax rate mirrored", Field{"tax_rate_id", taxRate.ID})
	return nil
}
