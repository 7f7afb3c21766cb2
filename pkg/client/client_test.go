package client

import (
	"testing"
	"time"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil firestore client")
	}
}

func TestParseProduct(t *testing.T) {
	now := time.Now().UTC()
	data := map[string]interface{}{
		"active":               true,
		"name":                 "Premium Plan",
		"description":          "Full access",
		"images":               []interface{}{"https://example.com/a.png"},
		"role":                 "premium",
		"stripe_metadata_tier": "gold",
		"updatedAt":            now,
	}

	p := parseProduct("prod_1", data)
	if p.ID != "prod_1" || !p.Active || p.Name != "Premium Plan" {
		t.Errorf("unexpected product: %+v", p)
	}
	if p.Role == nil || *p.Role != "premium" {
		t.Errorf("role = %v, want premium", p.Role)
	}
	if len(p.Images) != 1 || p.Images[0] != "https://example.com/a.png" {
		t.Errorf("images = %v", p.Images)
	}
	if p.Metadata["stripe_metadata_tier"] != "gold" {
		t.Errorf("metadata = %v", p.Metadata)
	}
	if !p.UpdatedAt.Equal(now) {
		t.Errorf("updatedAt = %v, want %v", p.UpdatedAt, now)
	}
}

func TestParseProduct_EmptyRoleIsNil(t *testing.T) {
	p := parseProduct("prod_1", map[string]interface{}{"role": ""})
	if p.Role != nil {
		t.Errorf("role = %v, want nil for empty string", *p.Role)
	}
	p = parseProduct("prod_1", map[string]interface{}{})
	if p.Role != nil {
		t.Errorf("role = %v, want nil when absent", *p.Role)
	}
}

func TestParsePrice(t *testing.T) {
	data := map[string]interface{}{
		"active":         true,
		"currency":       "eur",
		"unit_amount":    int64(999),
		"billing_scheme": "per_unit",
		"type":           "recurring",
		"interval":       "month",
		"interval_count": int64(1),
	}

	p := parsePrice("price_1", "prod_1", data)
	if p.ID != "price_1" || p.ProductID != "prod_1" {
		t.Errorf("ids = %s/%s", p.ID, p.ProductID)
	}
	if p.Currency != "eur" || p.UnitAmount != 999 || p.Interval != "month" {
		t.Errorf("unexpected price: %+v", p)
	}
}

func TestParsePrice_NumericWidths(t *testing.T) {
	// Firestore decodes numbers as int64, but documents written through other
	// paths can surface int or float64.
	for name, v := range map[string]interface{}{
		"int64":   int64(500),
		"int":     int(500),
		"float64": float64(500),
	} {
		p := parsePrice("price_1", "prod_1", map[string]interface{}{"unit_amount": v})
		if p.UnitAmount != 500 {
			t.Errorf("%s: unit_amount = %d, want 500", name, p.UnitAmount)
		}
	}
}

func TestParsePrice_Tiers(t *testing.T) {
	data := map[string]interface{}{
		"billing_scheme": "tiered",
		"tiers": []interface{}{
			map[string]interface{}{"up_to": int64(10), "unit_amount": int64(500)},
			map[string]interface{}{"up_to": int64(0), "flat_amount": int64(2000)},
		},
	}

	p := parsePrice("price_1", "prod_1", data)
	if len(p.Tiers) != 2 {
		t.Fatalf("tiers = %d, want 2", len(p.Tiers))
	}
	if p.Tiers[0].UpTo != 10 || p.Tiers[0].UnitAmount == nil || *p.Tiers[0].UnitAmount != 500 {
		t.Errorf("tier[0] = %+v", p.Tiers[0])
	}
	if p.Tiers[0].FlatAmount != nil {
		t.Errorf("tier[0] flat_amount = %v, want nil", *p.Tiers[0].FlatAmount)
	}
	if p.Tiers[1].FlatAmount == nil || *p.Tiers[1].FlatAmount != 2000 {
		t.Errorf("tier[1] = %+v", p.Tiers[1])
	}
}

func TestParsePayment(t *testing.T) {
	created := time.Now().UTC().Add(-time.Hour)
	data := map[string]interface{}{
		"status":          "succeeded",
		"amount":          int64(1999),
		"amount_received": int64(1999),
		"currency":        "usd",
		"invoice":         "in_1",
		"prices":          []interface{}{"price_1", "price_2"},
		"created":         created,
	}

	p := parsePayment("pi_1", data)
	if p.ID != "pi_1" || p.Status != "succeeded" || p.Amount != 1999 {
		t.Errorf("unexpected payment: %+v", p)
	}
	if p.InvoiceID != "in_1" {
		t.Errorf("invoice = %q", p.InvoiceID)
	}
	if len(p.PriceIDs) != 2 {
		t.Errorf("prices = %v", p.PriceIDs)
	}
	if !p.Created.Equal(created) {
		t.Errorf("created = %v, want %v", p.Created, created)
	}
}

func TestPrefixedMetadata(t *testing.T) {
	data := map[string]interface{}{
		"name":                  "Plan",
		"stripe_metadata_tier":  "gold",
		"stripe_metadata_notes": "internal",
		"stripe_metadata_count": int64(3), // non-string values are skipped
	}

	md := prefixedMetadata(data)
	if len(md) != 2 {
		t.Fatalf("metadata = %v, want 2 string entries", md)
	}
	if md[stripefire.MetadataPrefix+"tier"] != "gold" {
		t.Errorf("metadata = %v", md)
	}

	if md := prefixedMetadata(map[string]interface{}{"name": "Plan"}); md != nil {
		t.Errorf("metadata for unprefixed doc = %v, want nil", md)
	}
}
