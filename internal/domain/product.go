package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category type discriminators. These are a fixed enum baked into the
// schema, not user-extensible (unlike attribute types).
const (
	CategoryTypeKeg         = "fut"
	CategoryTypeSoft        = "soft"
	CategoryTypeBottledBeer = "biere_bouteille"
	CategoryTypeWine        = "vin"
)

// Category represents a product category. Categories are managed through the
// admin layer and are never deleted while products still reference them; some
// legacy callers hard-code specific ids, so ids must stay stable.
type Category struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	ServiceType  string `json:"service_type"`
	IsActive     bool   `json:"is_active"`
	DisplayOrder int    `json:"display_order"`
}

// Product represents a sellable item (dish, bottled beverage, keg).
//
// Price and Volume are only authoritative while HasMultipleSizes is false;
// once a product opts into the multi-size model its pricing lives entirely
// on its SizeVariant rows and readers ignore the base fields.
type Product struct {
	ID                int64           `json:"id"`
	CategoryID        int64           `json:"category_id"`
	Name              string          `json:"name"`
	Description       *string         `json:"description,omitempty"`
	Price             decimal.Decimal `json:"price"`
	Volume            *float64        `json:"volume,omitempty"`             // base container volume, unit depends on category type
	AttributeCategory *string         `json:"attribute_category,omitempty"` // free-text slug into an attribute registry, opaque here
	HasMultipleSizes  bool            `json:"has_multiple_sizes"`
	ImagePath         *string         `json:"image_path,omitempty"`
	IsActive          bool            `json:"is_active"`
	DisplayOrder      int             `json:"display_order"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SizeVariant is one independently priced container size belonging to a
// multi-size product (e.g. "10L keg", "33cl bottle"). Volume is liters for
// kegs and centiliters for bottled beverages; the shape is identical either
// way. Volumes are unique within one product's variant set.
type SizeVariant struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"product_id"`
	Volume       float64         `json:"volume"`
	Price        decimal.Decimal `json:"price"`
	ImagePath    *string         `json:"image_path,omitempty"`
	IsFeatured   bool            `json:"is_featured"`
	DisplayOrder int             `json:"display_order"`
	IsActive     bool            `json:"is_active"`
}
