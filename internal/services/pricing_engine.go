package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Canonical line item labels. "Total" is always derived, never stored.
const (
	LabelItemCost = "Item Cost"
	LabelShipping = "Shipping"
	LabelTax      = "Tax"
	LabelTotal    = "Total"
)

// LineItem is one priced component of a cart. Amounts are decimal strings with
// exactly two fractional digits.
type LineItem struct {
	Label   string `json:"label"`
	Amount  string `json:"amount"`
	Pending bool   `json:"pending,omitempty"`
}

// Cart is the ordered line item sequence the buyer sees. The total is derived
// with ComputeTotal and never stored as a regular line item.
type Cart struct {
	CurrencyCode string     `json:"currencyCode"`
	CountryCode  string     `json:"countryCode"`
	Items        []LineItem `json:"lineItems"`
}

// ShippingOption is one entry of a mutually exclusive shipping choice set.
type ShippingOption struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

// ShippingContact is the buyer-supplied region used to select shipping options
// and the applicable tax rate.
type ShippingContact struct {
	State       string `json:"state"`
	City        string `json:"city,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

// TaxPolicy maps region codes to tax rates, with a default rate for
// unrecognised regions. Tax is always computed against the Item Cost line item
// only, never against shipping.
type TaxPolicy struct {
	rates       map[string]decimal.Decimal
	defaultRate decimal.Decimal
}

// NewTaxPolicy builds a TaxPolicy from decimal rate strings (e.g. "0.075").
func NewTaxPolicy(rates map[string]string, defaultRate string) (TaxPolicy, error) {
	def, err := decimal.NewFromString(strings.TrimSpace(defaultRate))
	if err != nil {
		return TaxPolicy{}, fmt.Errorf("tax policy: invalid default rate %q: %w", defaultRate, err)
	}
	parsed := make(map[string]decimal.Decimal, len(rates))
	for region, rate := range rates {
		value, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil {
			return TaxPolicy{}, fmt.Errorf("tax policy: invalid rate %q for region %s: %w", rate, region, err)
		}
		if value.IsNegative() {
			return TaxPolicy{}, fmt.Errorf("tax policy: negative rate for region %s", region)
		}
		parsed[strings.ToUpper(strings.TrimSpace(region))] = value
	}
	return TaxPolicy{rates: parsed, defaultRate: def}, nil
}

// RateForRegion returns the configured rate for the region, falling back to the
// default rate for unlisted regions.
func (p TaxPolicy) RateForRegion(region string) decimal.Decimal {
	if rate, ok := p.rates[strings.ToUpper(strings.TrimSpace(region))]; ok {
		return rate
	}
	return p.defaultRate
}

// PricingEngineDeps wires the configuration required by the PricingEngine.
type PricingEngineDeps struct {
	CurrencyCode    string
	CountryCode     string
	ItemCost        string
	DefaultRegion   string
	Tax             TaxPolicy
	DefaultOptions  []ShippingOption
	StandardOptions []ShippingOption
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// PricingEngine owns the cart line items and keeps the derived total consistent
// as the buyer changes shipping options or address. Its event handlers are pure
// functions of the current cart and the event; callers serialise events for a
// single cart.
type PricingEngine struct {
	currencyCode    string
	countryCode     string
	itemCost        decimal.Decimal
	defaultRegion   string
	tax             TaxPolicy
	defaultOptions  []ShippingOption
	standardOptions []ShippingOption
	logger          func(ctx context.Context, event string, fields map[string]any)
}

// DefaultShippingOptions is the choice set offered before a contact is known
// and for buyers in the default region.
func DefaultShippingOptions() []ShippingOption {
	return []ShippingOption{
		{ID: "shipping-option-1", Label: "Free", Amount: "0.00"},
		{ID: "shipping-option-2", Label: "Expedited", Amount: "10.00"},
	}
}

// StandardShippingOptions is the choice set offered outside the default region.
func StandardShippingOptions() []ShippingOption {
	return []ShippingOption{
		{ID: "shipping-option-3", Label: "Standard Shipping", Amount: "15.00"},
		{ID: "shipping-option-4", Label: "Express Shipping", Amount: "25.00"},
	}
}

// NewPricingEngine constructs a PricingEngine validating configured amounts up
// front so that cart mutations never raise.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	itemCost, err := decimal.NewFromString(strings.TrimSpace(deps.ItemCost))
	if err != nil {
		return nil, fmt.Errorf("pricing engine: invalid item cost %q: %w", deps.ItemCost, err)
	}
	if itemCost.IsNegative() {
		return nil, errors.New("pricing engine: item cost cannot be negative")
	}

	defaultOptions := deps.DefaultOptions
	if len(defaultOptions) == 0 {
		defaultOptions = DefaultShippingOptions()
	}
	standardOptions := deps.StandardOptions
	if len(standardOptions) == 0 {
		standardOptions = StandardShippingOptions()
	}
	for _, opt := range append(append([]ShippingOption{}, defaultOptions...), standardOptions...) {
		amount, err := decimal.NewFromString(strings.TrimSpace(opt.Amount))
		if err != nil {
			return nil, fmt.Errorf("pricing engine: invalid amount %q for shipping option %s: %w", opt.Amount, opt.ID, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("pricing engine: negative amount for shipping option %s", opt.ID)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.CurrencyCode))
	if currency == "" {
		currency = "USD"
	}
	country := strings.ToUpper(strings.TrimSpace(deps.CountryCode))
	if country == "" {
		country = "US"
	}
	region := strings.ToUpper(strings.TrimSpace(deps.DefaultRegion))
	if region == "" {
		region = "CA"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PricingEngine{
		currencyCode:    currency,
		countryCode:     country,
		itemCost:        itemCost,
		defaultRegion:   region,
		tax:             deps.Tax,
		defaultOptions:  defaultOptions,
		standardOptions: standardOptions,
		logger:          logger,
	}, nil
}

// InitializeCart seeds a cart with the item cost and zeroed shipping and tax
// line items.
func (e *PricingEngine) InitializeCart() Cart {
	return Cart{
		CurrencyCode: e.currencyCode,
		CountryCode:  e.countryCode,
		Items: []LineItem{
			{Label: LabelItemCost, Amount: e.itemCost.StringFixed(2)},
			{Label: LabelShipping, Amount: "0.00"},
			{Label: LabelTax, Amount: "0.00"},
		},
	}
}

// DefaultRegion returns the region assumed before any shipping contact arrives.
func (e *PricingEngine) DefaultRegion() string {
	return e.defaultRegion
}

// ShippingOptionsForRegion returns the candidate shipping options for a region
// without touching any cart.
func (e *PricingEngine) ShippingOptionsForRegion(region string) []ShippingOption {
	options := e.standardOptions
	if strings.ToUpper(strings.TrimSpace(region)) == e.defaultRegion {
		options = e.defaultOptions
	}
	return append([]ShippingOption(nil), options...)
}

// FindShippingOption looks up a shipping option by id within a region's option
// set. The boolean reports whether the id names a valid option for the region.
func (e *PricingEngine) FindShippingOption(region, id string) (ShippingOption, bool) {
	for _, option := range e.ShippingOptionsForRegion(region) {
		if option.ID == id {
			return option, true
		}
	}
	return ShippingOption{}, false
}

// OnShippingOptionChanged replaces the Shipping line item's amount with the
// selected option's amount, leaving every other line item untouched.
func (e *PricingEngine) OnShippingOptionChanged(ctx context.Context, cart Cart, selected ShippingOption) Cart {
	updated := SetLineItems(cart, map[string]string{LabelShipping: selected.Amount})
	e.logger(ctx, "pricing.shipping_option_changed", map[string]any{
		"optionId": selected.ID,
		"shipping": selected.Amount,
		"total":    ComputeTotal(updated),
	})
	return updated
}

// OnShippingContactChanged selects the shipping option set for the contact's
// region, recomputes the Tax line item from the Item Cost amount and the
// regional rate, and returns the updated cart plus the candidate options.
// Shipping keeps its previous amount until the buyer picks from the new set.
func (e *PricingEngine) OnShippingContactChanged(ctx context.Context, cart Cart, contact ShippingContact) (Cart, []ShippingOption) {
	region := strings.ToUpper(strings.TrimSpace(contact.State))
	options := e.ShippingOptionsForRegion(region)

	itemCost := decimal.Zero
	for _, item := range cart.Items {
		if item.Label == LabelItemCost {
			itemCost = parseAmount(item.Amount)
			break
		}
	}
	tax := itemCost.Mul(e.tax.RateForRegion(region)).StringFixed(2)

	updated := SetLineItems(cart, map[string]string{LabelTax: tax})
	e.logger(ctx, "pricing.shipping_contact_changed", map[string]any{
		"region": region,
		"tax":    tax,
		"total":  ComputeTotal(updated),
	})

	return updated, options
}

// SetLineItems is the shared upsert primitive: existing line items named in
// updates get the new amount, labels not yet present are appended. Order is
// preserved and labels stay unique.
func SetLineItems(cart Cart, updates map[string]string) Cart {
	seen := make(map[string]struct{}, len(cart.Items))
	items := make([]LineItem, 0, len(cart.Items)+len(updates))
	for _, item := range cart.Items {
		seen[item.Label] = struct{}{}
		if amount, ok := updates[item.Label]; ok {
			item.Amount = parseAmount(amount).StringFixed(2)
		}
		items = append(items, item)
	}

	// Appended labels keep a stable order so replaying the same update map is a no-op.
	pending := make([]string, 0, len(updates))
	for label := range updates {
		if _, ok := seen[label]; !ok {
			pending = append(pending, label)
		}
	}
	sort.Strings(pending)
	for _, label := range pending {
		items = append(items, LineItem{Label: label, Amount: parseAmount(updates[label]).StringFixed(2)})
	}

	cart.Items = items
	return cart
}

// ComputeTotal derives the cart total: the sum of every line item amount,
// rounded half away from zero to two decimals. The input cart is not mutated.
func ComputeTotal(cart Cart) string {
	total := decimal.Zero
	for _, item := range cart.Items {
		total = total.Add(parseAmount(item.Amount))
	}
	return total.StringFixed(2)
}

// TotalLineItem renders the derived total in line item form for display.
func TotalLineItem(cart Cart) LineItem {
	return LineItem{Label: LabelTotal, Amount: ComputeTotal(cart)}
}

// parseAmount treats unparseable amounts as zero; cart amounts are validated at
// engine construction and only mutated through SetLineItems.
func parseAmount(value string) decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero
	}
	return amount
}
