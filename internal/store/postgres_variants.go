package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bar-catalog-service/internal/domain"
)

// --- VariantStorer Implementation ---

func validateVariantSet(variants []domain.SizeVariant) error {
	seen := make(map[float64]struct{}, len(variants))
	for i, v := range variants {
		if v.Volume <= 0 {
			return fmt.Errorf("%w: variant %d is missing a volume", ErrVariantInvalid, i)
		}
		if v.Price.IsNegative() {
			return fmt.Errorf("%w: variant %d has a negative price", ErrVariantInvalid, i)
		}
		if _, dup := seen[v.Volume]; dup {
			return fmt.Errorf("%w: volume %v appears more than once", ErrDuplicateVolume, v.Volume)
		}
		seen[v.Volume] = struct{}{}
	}
	return nil
}

// ReplaceVariants swaps the full variant set of a product: every existing row
// is deleted, then the given list is inserted, all inside one transaction.
// The whole operation fails together; a rejected list leaves the previous set
// untouched, and readers never observe the intermediate empty state.
func (s *PostgresStore) ReplaceVariants(ctx context.Context, productID int64, variants []domain.SizeVariant) ([]domain.SizeVariant, error) {
	if err := validateVariantSet(variants); err != nil {
		return nil, err
	}

	var exists bool
	checkQuery := `SELECT EXISTS(SELECT 1 FROM catalog.products WHERE id = $1);`
	if err := s.db.QueryRowContext(ctx, checkQuery, productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("store: ReplaceVariants failed to check product existence: %w", err)
	}
	if !exists {
		return nil, ErrProductNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: ReplaceVariants failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog.product_sizes WHERE product_id = $1;`, productID); err != nil {
		return nil, fmt.Errorf("store: ReplaceVariants failed to delete existing variants: %w", err)
	}

	insertQuery := `
		INSERT INTO catalog.product_sizes (product_id, volume, price, image_path, is_featured, display_order, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id;
	`
	inserted := make([]domain.SizeVariant, 0, len(variants))
	for _, v := range variants {
		v.ProductID = productID
		err := tx.QueryRowContext(ctx, insertQuery,
			v.ProductID, v.Volume, v.Price, v.ImagePath, v.IsFeatured, v.DisplayOrder, v.IsActive,
		).Scan(&v.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" { // Unique (product_id, volume)
				return nil, fmt.Errorf("%w: volume %v appears more than once", ErrDuplicateVolume, v.Volume)
			}
			return nil, fmt.Errorf("store: ReplaceVariants failed to insert variant: %w", err)
		}
		inserted = append(inserted, v)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: ReplaceVariants failed to commit: %w", err)
	}
	return inserted, nil
}

// ListVariants returns the variants of one product ordered by display_order,
// ties broken by volume ascending (smallest container first). This ordering
// is a user-facing contract, not an implementation detail.
func (s *PostgresStore) ListVariants(ctx context.Context, productID int64) ([]domain.SizeVariant, error) {
	query := `
		SELECT id, product_id, volume, price, image_path, is_featured, display_order, is_active
		FROM catalog.product_sizes
		WHERE product_id = $1
		ORDER BY display_order ASC, volume ASC;
	`
	rows, err := s.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("store: ListVariants failed to query variants: %w", err)
	}
	defer rows.Close()

	variants := make([]domain.SizeVariant, 0)
	for rows.Next() {
		var v domain.SizeVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Volume, &v.Price, &v.ImagePath, &v.IsFeatured, &v.DisplayOrder, &v.IsActive); err != nil {
			return nil, fmt.Errorf("store: ListVariants failed to scan variant row: %w", err)
		}
		variants = append(variants, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListVariants iteration error: %w", err)
	}
	return variants, nil
}

// ListVariantsForProducts prefetches the variants of many products in a
// single query, keyed by product id. Used by the catalog read view to avoid
// one query per multi-size product. Ordering within each product matches
// ListVariants.
func (s *PostgresStore) ListVariantsForProducts(ctx context.Context, productIDs []int64) (map[int64][]domain.SizeVariant, error) {
	byProduct := make(map[int64][]domain.SizeVariant, len(productIDs))
	if len(productIDs) == 0 {
		return byProduct, nil
	}

	query := `
		SELECT id, product_id, volume, price, image_path, is_featured, display_order, is_active
		FROM catalog.product_sizes
		WHERE product_id = ANY($1)
		ORDER BY product_id ASC, display_order ASC, volume ASC;
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("store: ListVariantsForProducts failed to query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.SizeVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Volume, &v.Price, &v.ImagePath, &v.IsFeatured, &v.DisplayOrder, &v.IsActive); err != nil {
			return nil, fmt.Errorf("store: ListVariantsForProducts failed to scan variant row: %w", err)
		}
		byProduct[v.ProductID] = append(byProduct[v.ProductID], v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListVariantsForProducts iteration error: %w", err)
	}
	return byProduct, nil
}

// DeleteVariants removes every variant of a product. Idempotent: deleting
// from a product that has none is a no-op, which lets product deletion call
// it unconditionally.
func (s *PostgresStore) DeleteVariants(ctx context.Context, productID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM catalog.product_sizes WHERE product_id = $1;`, productID); err != nil {
		return fmt.Errorf("store: DeleteVariants failed to execute delete: %w", err)
	}
	return nil
}
