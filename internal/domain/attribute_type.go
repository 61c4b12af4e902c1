package domain

import "github.com/shopspring/decimal"

// AttributeType is a user-managed, slugged tag classifying products outside
// the fixed category hierarchy (beer styles, wine styles). Products reference
// it by slug only, never by foreign key, which is what lets the backing table
// move between its legacy and dedicated representations without touching
// product rows.
type AttributeType struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Slug         string          `json:"slug"`
	DisplayOrder int             `json:"display_order"`
	IsActive     bool            `json:"is_active"`
	Usage        *AttributeUsage `json:"usage,omitempty"` // computed, never stored
}

// AttributeUsage reports how many active products currently carry a given
// attribute slug, broken down by category type and combined. A beer style is
// counted across both the bottled and keg categories.
type AttributeUsage struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
}

// CatalogEntry is the uniform read view over old single-price products and
// new multi-size products. Callers never need to know which model a product
// uses: legacy products get exactly one synthesized size.
type CatalogEntry struct {
	Product            Product         `json:"product"`
	Sizes              []SizeVariant   `json:"sizes"`
	IsLegacy           bool            `json:"is_legacy"`
	NeedsConfiguration bool            `json:"needs_configuration"` // multi-size enabled but no variants saved yet
	PriceMin           decimal.Decimal `json:"price_min"`
	PriceMax           decimal.Decimal `json:"price_max"`
}

// MigrationState is the persisted lifecycle of a one-shot data migration:
// NotRun until a successful full sweep, Completed afterwards, back to NotRun
// only through an explicit reset.
type MigrationState struct {
	Key       string `json:"key"`
	Completed bool   `json:"completed"`
}
