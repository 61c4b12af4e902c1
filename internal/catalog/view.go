// Package catalog composes the product and variant stores into the uniform
// read view the presentation layer consumes. It performs no writes.
package catalog

import (
	"context"
	"fmt"

	"bar-catalog-service/internal/domain"
	"bar-catalog-service/internal/store"
)

// Reader presents old single-price products and new multi-size products
// through one shape. Callers never see which model a row uses.
type Reader struct {
	products store.ProductStorer
	variants store.VariantStorer
}

// NewReader creates a Reader over the given stores.
func NewReader(products store.ProductStorer, variants store.VariantStorer) *Reader {
	return &Reader{products: products, variants: variants}
}

// ListCatalogView returns every active product of a category type as a
// CatalogEntry. Multi-size products carry their sorted variant list and a
// price range over it; single-price products get one synthesized size from
// their own price and volume fields. A multi-size product with no variants
// yet is a valid state and comes back flagged NeedsConfiguration, with an
// empty size list, rather than failing.
func (r *Reader) ListCatalogView(ctx context.Context, categoryType string) ([]domain.CatalogEntry, error) {
	active := true
	products, err := r.products.ListProducts(ctx, store.ListProductsParams{
		CategoryType: &categoryType,
		IsActive:     &active,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list products for %q: %w", categoryType, err)
	}

	var multiSizeIDs []int64
	for _, p := range products {
		if p.HasMultipleSizes {
			multiSizeIDs = append(multiSizeIDs, p.ID)
		}
	}

	variantsByProduct := make(map[int64][]domain.SizeVariant)
	if len(multiSizeIDs) > 0 {
		variantsByProduct, err = r.variants.ListVariantsForProducts(ctx, multiSizeIDs)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to load variants: %w", err)
		}
	}

	entries := make([]domain.CatalogEntry, 0, len(products))
	for _, p := range products {
		if p.HasMultipleSizes {
			entries = append(entries, multiSizeEntry(p, variantsByProduct[p.ID]))
		} else {
			entries = append(entries, legacyEntry(p, categoryType))
		}
	}
	return entries, nil
}

func multiSizeEntry(p domain.Product, variants []domain.SizeVariant) domain.CatalogEntry {
	sizes := make([]domain.SizeVariant, 0, len(variants))
	for _, v := range variants {
		if v.IsActive {
			sizes = append(sizes, v)
		}
	}

	entry := domain.CatalogEntry{
		Product: p,
		Sizes:   sizes,
	}
	if len(sizes) == 0 {
		entry.NeedsConfiguration = true
		return entry
	}

	entry.PriceMin = sizes[0].Price
	entry.PriceMax = sizes[0].Price
	for _, v := range sizes[1:] {
		if v.Price.LessThan(entry.PriceMin) {
			entry.PriceMin = v.Price
		}
		if v.Price.GreaterThan(entry.PriceMax) {
			entry.PriceMax = v.Price
		}
	}
	return entry
}

func legacyEntry(p domain.Product, categoryType string) domain.CatalogEntry {
	volume := 0.0
	if p.Volume != nil {
		volume = *p.Volume
	}
	// Keg rows store their base volume in centiliter-equivalent units; the
	// historical display path divides by 100 to show liters. Kept exactly as
	// the legacy rows expect.
	if categoryType == domain.CategoryTypeKeg {
		volume = volume / 100
	}

	synthesized := domain.SizeVariant{
		ProductID: p.ID,
		Volume:    volume,
		Price:     p.Price,
		ImagePath: p.ImagePath,
		IsActive:  true,
	}
	return domain.CatalogEntry{
		Product:  p,
		Sizes:    []domain.SizeVariant{synthesized},
		IsLegacy: true,
		PriceMin: p.Price,
		PriceMax: p.Price,
	}
}
