package services

import (
	"context"
	"testing"
)

func newTestPricingEngine(t *testing.T) *PricingEngine {
	t.Helper()
	tax, err := NewTaxPolicy(map[string]string{"CA": "0.10", "GA": "0.075", "MI": "0.05"}, "0.06")
	if err != nil {
		t.Fatalf("unexpected error building tax policy: %v", err)
	}
	engine, err := NewPricingEngine(PricingEngineDeps{
		CurrencyCode:  "USD",
		CountryCode:   "US",
		ItemCost:      "2.00",
		DefaultRegion: "CA",
		Tax:           tax,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing pricing engine: %v", err)
	}
	return engine
}

func lineItemAmount(t *testing.T, cart Cart, label string) string {
	t.Helper()
	for _, item := range cart.Items {
		if item.Label == label {
			return item.Amount
		}
	}
	t.Fatalf("cart has no %q line item", label)
	return ""
}

func TestInitializeCartSeedsLineItems(t *testing.T) {
	engine := newTestPricingEngine(t)

	cart := engine.InitializeCart()

	if cart.CurrencyCode != "USD" || cart.CountryCode != "US" {
		t.Fatalf("unexpected cart locale %s/%s", cart.CurrencyCode, cart.CountryCode)
	}
	if len(cart.Items) != 3 {
		t.Fatalf("expected 3 line items, got %d", len(cart.Items))
	}
	wantOrder := []string{LabelItemCost, LabelShipping, LabelTax}
	for i, label := range wantOrder {
		if cart.Items[i].Label != label {
			t.Fatalf("expected item %d to be %q, got %q", i, label, cart.Items[i].Label)
		}
	}
	if got := lineItemAmount(t, cart, LabelItemCost); got != "2.00" {
		t.Fatalf("expected item cost 2.00, got %s", got)
	}
	if got := ComputeTotal(cart); got != "2.00" {
		t.Fatalf("expected total 2.00, got %s", got)
	}
}

func TestShippingOptionThenContactRecomputesTotal(t *testing.T) {
	engine := newTestPricingEngine(t)
	ctx := context.Background()

	cart := engine.InitializeCart()

	cart = engine.OnShippingOptionChanged(ctx, cart, ShippingOption{ID: "shipping-option-2", Label: "Expedited", Amount: "10.00"})
	if got := ComputeTotal(cart); got != "12.00" {
		t.Fatalf("expected total 12.00 after selecting expedited shipping, got %s", got)
	}

	cart, options := engine.OnShippingContactChanged(ctx, cart, ShippingContact{State: "CA"})
	if got := lineItemAmount(t, cart, LabelTax); got != "0.20" {
		t.Fatalf("expected tax 0.20 for CA, got %s", got)
	}
	if got := ComputeTotal(cart); got != "12.20" {
		t.Fatalf("expected total 12.20, got %s", got)
	}
	if got := lineItemAmount(t, cart, LabelShipping); got != "10.00" {
		t.Fatalf("expected shipping to keep its amount, got %s", got)
	}
	if len(options) != 2 || options[0].ID != "shipping-option-1" || options[1].ID != "shipping-option-2" {
		t.Fatalf("expected default option set for CA, got %+v", options)
	}
}

func TestShippingContactSelectsRegionalRates(t *testing.T) {
	engine := newTestPricingEngine(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		state   string
		wantTax string
	}{
		{name: "california", state: "CA", wantTax: "0.20"},
		{name: "georgia", state: "GA", wantTax: "0.15"},
		{name: "michigan", state: "MI", wantTax: "0.10"},
		{name: "unlisted region", state: "NY", wantTax: "0.12"},
		{name: "lowercase input", state: "ga", wantTax: "0.15"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cart := engine.InitializeCart()
			cart, _ = engine.OnShippingContactChanged(ctx, cart, ShippingContact{State: tc.state})
			if got := lineItemAmount(t, cart, LabelTax); got != tc.wantTax {
				t.Fatalf("expected tax %s for %s, got %s", tc.wantTax, tc.state, got)
			}
		})
	}
}

func TestTaxComputedOnItemCostOnly(t *testing.T) {
	engine := newTestPricingEngine(t)
	ctx := context.Background()

	cart := engine.InitializeCart()
	cart = engine.OnShippingOptionChanged(ctx, cart, ShippingOption{ID: "shipping-option-4", Label: "Express Shipping", Amount: "25.00"})
	cart, _ = engine.OnShippingContactChanged(ctx, cart, ShippingContact{State: "CA"})

	// Tax tracks Item Cost alone, not Item Cost plus shipping.
	if got := lineItemAmount(t, cart, LabelTax); got != "0.20" {
		t.Fatalf("expected tax 0.20 regardless of shipping, got %s", got)
	}
	if got := ComputeTotal(cart); got != "27.20" {
		t.Fatalf("expected total 27.20, got %s", got)
	}
}

func TestShippingContactChangedIsIdempotent(t *testing.T) {
	engine := newTestPricingEngine(t)
	ctx := context.Background()

	cart := engine.InitializeCart()
	once, _ := engine.OnShippingContactChanged(ctx, cart, ShippingContact{State: "GA"})
	twice, _ := engine.OnShippingContactChanged(ctx, once, ShippingContact{State: "GA"})

	if ComputeTotal(once) != ComputeTotal(twice) {
		t.Fatalf("replaying the same contact changed the total: %s vs %s", ComputeTotal(once), ComputeTotal(twice))
	}
	if len(once.Items) != len(twice.Items) {
		t.Fatalf("replaying the same contact changed the item count: %d vs %d", len(once.Items), len(twice.Items))
	}
}

func TestShippingOptionsForRegion(t *testing.T) {
	engine := newTestPricingEngine(t)

	defaults := engine.ShippingOptionsForRegion("CA")
	if len(defaults) != 2 || defaults[0].Label != "Free" || defaults[1].Label != "Expedited" {
		t.Fatalf("unexpected default options: %+v", defaults)
	}

	standard := engine.ShippingOptionsForRegion("TX")
	if len(standard) != 2 || standard[0].Label != "Standard Shipping" || standard[1].Label != "Express Shipping" {
		t.Fatalf("unexpected standard options: %+v", standard)
	}

	if _, ok := engine.FindShippingOption("CA", "shipping-option-3"); ok {
		t.Fatal("standard option should not resolve in the default region")
	}
	option, ok := engine.FindShippingOption("TX", "shipping-option-3")
	if !ok || option.Amount != "15.00" {
		t.Fatalf("expected standard shipping for TX, got %+v ok=%v", option, ok)
	}
}

func TestSetLineItemsUpsertsAndPreservesOrder(t *testing.T) {
	cart := Cart{
		CurrencyCode: "USD",
		CountryCode:  "US",
		Items: []LineItem{
			{Label: LabelItemCost, Amount: "2.00"},
			{Label: LabelShipping, Amount: "0.00"},
		},
	}

	updated := SetLineItems(cart, map[string]string{
		LabelShipping: "10.00",
		LabelTax:      "0.20",
	})

	if len(cart.Items) != 2 {
		t.Fatalf("input cart mutated: %+v", cart.Items)
	}
	want := []LineItem{
		{Label: LabelItemCost, Amount: "2.00"},
		{Label: LabelShipping, Amount: "10.00"},
		{Label: LabelTax, Amount: "0.20"},
	}
	if len(updated.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(updated.Items))
	}
	for i, item := range want {
		if updated.Items[i].Label != item.Label || updated.Items[i].Amount != item.Amount {
			t.Fatalf("item %d mismatch: got %+v want %+v", i, updated.Items[i], item)
		}
	}
}

func TestComputeTotalRounding(t *testing.T) {
	cart := Cart{Items: []LineItem{
		{Label: LabelItemCost, Amount: "2.00"},
		{Label: LabelTax, Amount: "0.125"},
	}}
	// Half-cent amounts round away from zero.
	if got := ComputeTotal(cart); got != "2.13" {
		t.Fatalf("expected total 2.13, got %s", got)
	}
}

func TestTotalLineItem(t *testing.T) {
	engine := newTestPricingEngine(t)
	cart := engine.InitializeCart()

	total := TotalLineItem(cart)
	if total.Label != LabelTotal {
		t.Fatalf("expected label %q, got %q", LabelTotal, total.Label)
	}
	if total.Amount != "2.00" {
		t.Fatalf("expected amount 2.00, got %s", total.Amount)
	}
}

func TestNewPricingEngineRejectsBadAmounts(t *testing.T) {
	tax, err := NewTaxPolicy(nil, "0.06")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewPricingEngine(PricingEngineDeps{ItemCost: "two dollars", Tax: tax}); err == nil {
		t.Fatal("expected error for unparseable item cost")
	}
}

func TestNewTaxPolicyRejectsBadRates(t *testing.T) {
	if _, err := NewTaxPolicy(map[string]string{"CA": "ten percent"}, "0.06"); err == nil {
		t.Fatal("expected error for unparseable regional rate")
	}
	if _, err := NewTaxPolicy(nil, "six"); err == nil {
		t.Fatal("expected error for unparseable default rate")
	}
}
