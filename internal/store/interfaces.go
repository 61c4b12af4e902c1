package store

import (
	"context"

	"bar-catalog-service/internal/domain"
)

// ListCategoriesParams holds filters for listing categories.
type ListCategoriesParams struct {
	ServiceType *string // restrict to one service channel
	IsActive    *bool
}

// CategoryStorer defines the database operations for categories.
// Deletion is deliberately absent: categories are never removed while
// products reference them.
type CategoryStorer interface {
	CreateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error)
	ListCategories(ctx context.Context, params ListCategoriesParams) ([]domain.Category, error)
	UpdateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error)
}

// ListProductsParams holds filters for listing products. CategoryID and
// CategoryType are alternative scopes; when both are set they are ANDed.
type ListProductsParams struct {
	CategoryID   *int64
	CategoryType *string
	IsActive     *bool
}

// ProductStorer defines the database operations for products.
type ProductStorer interface {
	CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error // cascades to the product's size variants
}

// VariantStorer defines the database operations for size variants.
//
// There is intentionally no row-level create/update/delete: callers save
// variants only as a whole-set replacement per product, which keeps the
// "no partial variant sets" invariant in the interface instead of relying
// on caller discipline.
type VariantStorer interface {
	ReplaceVariants(ctx context.Context, productID int64, variants []domain.SizeVariant) ([]domain.SizeVariant, error)
	ListVariants(ctx context.Context, productID int64) ([]domain.SizeVariant, error)
	ListVariantsForProducts(ctx context.Context, productIDs []int64) (map[int64][]domain.SizeVariant, error)
	DeleteVariants(ctx context.Context, productID int64) error
}

// AttributeTypeStorer defines the registry operations for user-managed
// attribute types (beer styles, wine styles). All operations are
// parameterized by a domain key and work identically whichever physical
// representation (dedicated or legacy table) currently backs that domain.
type AttributeTypeStorer interface {
	ListAttributeTypes(ctx context.Context, domainKey string) ([]domain.AttributeType, error)
	AttributeTypeUsage(ctx context.Context, domainKey, slug string) (*domain.AttributeUsage, error)
	CreateAttributeType(ctx context.Context, domainKey, name string) (*domain.AttributeType, error)
	// RenameAttributeType also rewrites the slug on every product that
	// referenced the old one and reports how many rows that touched.
	RenameAttributeType(ctx context.Context, domainKey, oldSlug, newName string) (*domain.AttributeType, int64, error)
	DeleteAttributeType(ctx context.Context, domainKey, slug string) error
}
