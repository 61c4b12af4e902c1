package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/lib/pq"

	"bar-catalog-service/internal/domain"
)

// Predefined errors for store operations
var (
	ErrCategoryNotFound      = errors.New("store: category not found")
	ErrProductNotFound       = errors.New("store: product not found")
	ErrProductInvalid        = errors.New("store: product failed validation")
	ErrVariantInvalid        = errors.New("store: size variant failed validation")
	ErrDuplicateVolume       = errors.New("store: duplicate volume within variant set")
	ErrAttributeTypeNotFound = errors.New("store: attribute type not found")
	ErrAttributeTypeInvalid  = errors.New("store: attribute type failed validation")
	ErrAttributeTypeExists   = errors.New("store: attribute type slug already exists")
	ErrAttributeTypeInUse    = errors.New("store: attribute type is still in use")
	ErrUnknownDomain         = errors.New("store: unknown attribute domain")
)

// AttributeTypeInUseError blocks deletion of an attribute type that active
// products still reference. It carries the usage breakdown so callers can
// explain the refusal to an end user. Matches ErrAttributeTypeInUse under
// errors.Is.
type AttributeTypeInUseError struct {
	Slug  string
	Usage domain.AttributeUsage
}

func (e *AttributeTypeInUseError) Error() string {
	return fmt.Sprintf("store: attribute type %q is still in use by %d active product(s)", e.Slug, e.Usage.Total)
}

func (e *AttributeTypeInUseError) Unwrap() error { return ErrAttributeTypeInUse }

// PostgresStore implements the CategoryStorer, ProductStorer, VariantStorer
// and AttributeTypeStorer interfaces using PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// attrTables caches the outcome of the dedicated-vs-legacy schema probe
	// per attribute domain. See attribute_types.go.
	mu         sync.Mutex
	attrTables map[string]attributeTypeTable
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:         db,
		attrTables: make(map[string]attributeTypeTable),
	}
}

// --- CategoryStorer Implementation ---

func (s *PostgresStore) CreateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error) {
	query := `
		INSERT INTO catalog.categories (name, type, service_type, is_active, display_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, type, service_type, is_active, display_order;
	`
	row := s.db.QueryRowContext(ctx, query,
		category.Name, category.Type, category.ServiceType, category.IsActive, category.DisplayOrder)

	var created domain.Category
	err := row.Scan(
		&created.ID,
		&created.Name,
		&created.Type,
		&created.ServiceType,
		&created.IsActive,
		&created.DisplayOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("store: CreateCategory failed to scan row: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error) {
	query := `
		SELECT id, name, type, service_type, is_active, display_order
		FROM catalog.categories
		WHERE id = $1;
	`
	var category domain.Category
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&category.ID,
		&category.Name,
		&category.Type,
		&category.ServiceType,
		&category.IsActive,
		&category.DisplayOrder,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: GetCategoryByID failed to scan row: %w", err)
	}
	return &category, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context, params ListCategoriesParams) ([]domain.Category, error) {
	var queryArgs []interface{}
	var whereClauses []string
	argID := 1

	if params.ServiceType != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("service_type = $%d", argID))
		queryArgs = append(queryArgs, *params.ServiceType)
		argID++
	}
	if params.IsActive != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("is_active = $%d", argID))
		queryArgs = append(queryArgs, *params.IsActive)
		argID++
	}

	whereCondition := ""
	if len(whereClauses) > 0 {
		whereCondition = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query := `
		SELECT id, name, type, service_type, is_active, display_order
		FROM catalog.categories` + whereCondition + `
		ORDER BY display_order ASC, name ASC;`

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("store: ListCategories failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.ServiceType, &c.IsActive, &c.DisplayOrder); err != nil {
			return nil, fmt.Errorf("store: ListCategories failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListCategories iteration error: %w", err)
	}

	return categories, nil
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error) {
	query := `
		UPDATE catalog.categories
		SET name = $1, type = $2, service_type = $3, is_active = $4, display_order = $5
		WHERE id = $6
		RETURNING id, name, type, service_type, is_active, display_order;
	`
	var updated domain.Category
	err := s.db.QueryRowContext(ctx, query,
		category.Name, category.Type, category.ServiceType, category.IsActive, category.DisplayOrder, category.ID,
	).Scan(
		&updated.ID,
		&updated.Name,
		&updated.Type,
		&updated.ServiceType,
		&updated.IsActive,
		&updated.DisplayOrder,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: UpdateCategory failed to scan row: %w", err)
	}
	return &updated, nil
}

// --- ProductStorer Implementation ---

func (s *PostgresStore) validateProduct(ctx context.Context, product *domain.Product) error {
	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrProductInvalid)
	}
	if product.Price.IsNegative() {
		return fmt.Errorf("%w: price cannot be negative", ErrProductInvalid)
	}

	var exists bool
	checkQuery := `SELECT EXISTS(SELECT 1 FROM catalog.categories WHERE id = $1);`
	if err := s.db.QueryRowContext(ctx, checkQuery, product.CategoryID).Scan(&exists); err != nil {
		return fmt.Errorf("store: failed to check category existence: %w", err)
	}
	if !exists {
		return ErrCategoryNotFound
	}
	return nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	if err := s.validateProduct(ctx, product); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO catalog.products
			(category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order, created_at;
	`
	row := s.db.QueryRowContext(ctx, query,
		product.CategoryID, product.Name, product.Description, product.Price, product.Volume,
		product.AttributeCategory, product.HasMultipleSizes, product.ImagePath, product.IsActive, product.DisplayOrder,
	)

	var created domain.Product
	err := row.Scan(
		&created.ID, &created.CategoryID, &created.Name, &created.Description,
		&created.Price, &created.Volume, &created.AttributeCategory, &created.HasMultipleSizes,
		&created.ImagePath, &created.IsActive, &created.DisplayOrder, &created.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" { // Foreign key violation on category_id
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: CreateProduct failed to scan row: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT id, category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order, created_at
		FROM catalog.products
		WHERE id = $1;
	`
	var product domain.Product
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&product.ID, &product.CategoryID, &product.Name, &product.Description,
		&product.Price, &product.Volume, &product.AttributeCategory, &product.HasMultipleSizes,
		&product.ImagePath, &product.IsActive, &product.DisplayOrder, &product.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetProductByID failed to scan row: %w", err)
	}
	return &product, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, error) {
	var queryArgs []interface{}
	var whereClauses []string
	argID := 1

	if params.CategoryID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("category_id = $%d", argID))
		queryArgs = append(queryArgs, *params.CategoryID)
		argID++
	}
	if params.CategoryType != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("category_id IN (SELECT id FROM catalog.categories WHERE type = $%d)", argID))
		queryArgs = append(queryArgs, *params.CategoryType)
		argID++
	}
	if params.IsActive != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("is_active = $%d", argID))
		queryArgs = append(queryArgs, *params.IsActive)
		argID++
	}

	whereCondition := ""
	if len(whereClauses) > 0 {
		whereCondition = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query := `
		SELECT id, category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order, created_at
		FROM catalog.products` + whereCondition + `
		ORDER BY display_order ASC, name ASC;`

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("store: ListProducts failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID, &p.CategoryID, &p.Name, &p.Description,
			&p.Price, &p.Volume, &p.AttributeCategory, &p.HasMultipleSizes,
			&p.ImagePath, &p.IsActive, &p.DisplayOrder, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: ListProducts failed to scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListProducts iteration error: %w", err)
	}

	return products, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	if err := s.validateProduct(ctx, product); err != nil {
		return nil, err
	}

	query := `
		UPDATE catalog.products
		SET category_id = $1, name = $2, description = $3, price = $4, volume = $5,
			attribute_category = $6, has_multiple_sizes = $7, image_path = $8, is_active = $9, display_order = $10
		WHERE id = $11
		RETURNING id, category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order, created_at;
	`
	var updated domain.Product
	err := s.db.QueryRowContext(ctx, query,
		product.CategoryID, product.Name, product.Description, product.Price, product.Volume,
		product.AttributeCategory, product.HasMultipleSizes, product.ImagePath, product.IsActive, product.DisplayOrder,
		product.ID,
	).Scan(
		&updated.ID, &updated.CategoryID, &updated.Name, &updated.Description,
		&updated.Price, &updated.Volume, &updated.AttributeCategory, &updated.HasMultipleSizes,
		&updated.ImagePath, &updated.IsActive, &updated.DisplayOrder, &updated.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: UpdateProduct failed to scan row: %w", err)
	}
	return &updated, nil
}

// DeleteProduct removes a product together with its size variants. Both
// deletes run in one transaction so a failure cannot orphan variant rows.
func (s *PostgresStore) DeleteProduct(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog.product_sizes WHERE product_id = $1;`, id); err != nil {
		return fmt.Errorf("store: DeleteProduct failed to delete variants: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM catalog.products WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to execute delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: DeleteProduct failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		log.Println("INFO: Closing database connection pool...")
		err := s.db.Close()
		if err != nil {
			log.Printf("ERROR: Failed to close database connection pool: %v", err)
			return err
		}
		log.Println("INFO: Database connection pool closed successfully.")
		return nil
	}
	return nil
}
