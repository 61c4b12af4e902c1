// File: bar-catalog-service/internal/store/postgres_variants_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"bar-catalog-service/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	productExistsQuery = regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM catalog.products WHERE id = $1);`)
	deleteVariantsStmt = regexp.QuoteMeta(`DELETE FROM catalog.product_sizes WHERE product_id = $1;`)
	insertVariantQuery = regexp.QuoteMeta(`
		INSERT INTO catalog.product_sizes (product_id, volume, price, image_path, is_featured, display_order, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id;
	`)
)

func variantColumns() []string {
	return []string{"id", "product_id", "volume", "price", "image_path", "is_featured", "display_order", "is_active"}
}

func TestPostgresStore_ReplaceVariants(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	variants := []domain.SizeVariant{
		{Volume: 25, Price: decimal.NewFromFloat(3.50), DisplayOrder: 10, IsActive: true},
		{Volume: 50, Price: decimal.NewFromFloat(6.00), DisplayOrder: 20, IsActive: true, IsFeatured: true},
	}

	mock.ExpectQuery(productExistsQuery).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectExec(deleteVariantsStmt).WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(insertVariantQuery).
		WithArgs(int64(7), 25.0, variants[0].Price, nil, false, 10, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectQuery(insertVariantQuery).
		WithArgs(int64(7), 50.0, variants[1].Price, nil, true, 20, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(102)))
	mock.ExpectCommit()

	inserted, err := store.ReplaceVariants(context.Background(), 7, variants)

	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.Equal(t, int64(101), inserted[0].ID)
	assert.Equal(t, int64(102), inserted[1].ID)
	assert.Equal(t, int64(7), inserted[0].ProductID, "ProductID should be stamped onto each variant")
	require.NoError(t, mock.ExpectationsWereMet(), "SQLmock expectations were not met")
}

func TestPostgresStore_ReplaceVariants_EmptySetClearsAll(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(productExistsQuery).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectExec(deleteVariantsStmt).WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	inserted, err := store.ReplaceVariants(context.Background(), 7, nil)

	require.NoError(t, err)
	assert.Empty(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceVariants_RejectsBeforeSQL(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	testCases := []struct {
		name     string
		variants []domain.SizeVariant
		wantErr  error
	}{
		{
			name:     "missing volume",
			variants: []domain.SizeVariant{{Volume: 0, Price: decimal.NewFromFloat(3.50)}},
			wantErr:  ErrVariantInvalid,
		},
		{
			name:     "negative price",
			variants: []domain.SizeVariant{{Volume: 25, Price: decimal.NewFromFloat(-1)}},
			wantErr:  ErrVariantInvalid,
		},
		{
			name: "duplicate volume",
			variants: []domain.SizeVariant{
				{Volume: 25, Price: decimal.NewFromFloat(3.50)},
				{Volume: 25, Price: decimal.NewFromFloat(4.00)},
			},
			wantErr: ErrDuplicateVolume,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.ReplaceVariants(context.Background(), 7, tc.variants)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr))
		})
	}

	// A rejected set must leave the previous variants untouched.
	require.NoError(t, mock.ExpectationsWereMet(), "Validation must fail before any SQL runs")
}

func TestPostgresStore_ReplaceVariants_ProductNotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(productExistsQuery).WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.ReplaceVariants(context.Background(), 99, []domain.SizeVariant{
		{Volume: 25, Price: decimal.NewFromFloat(3.50)},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceVariants_RollsBackOnInsertFailure(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	variants := []domain.SizeVariant{
		{Volume: 25, Price: decimal.NewFromFloat(3.50), DisplayOrder: 10, IsActive: true},
	}

	mock.ExpectQuery(productExistsQuery).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectExec(deleteVariantsStmt).WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertVariantQuery).
		WithArgs(int64(7), 25.0, variants[0].Price, nil, false, 10, true).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := store.ReplaceVariants(context.Background(), 7, variants)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateVolume), "Unique violation should map to ErrDuplicateVolume")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListVariants(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	query := regexp.QuoteMeta(`
		SELECT id, product_id, volume, price, image_path, is_featured, display_order, is_active
		FROM catalog.product_sizes
		WHERE product_id = $1
		ORDER BY display_order ASC, volume ASC;
	`)
	rows := sqlmock.NewRows(variantColumns()).
		AddRow(int64(101), int64(7), 25.0, "3.5", nil, false, 10, true).
		AddRow(int64(102), int64(7), 50.0, "6.0", nil, true, 20, true)

	mock.ExpectQuery(query).WithArgs(int64(7)).WillReturnRows(rows)

	variants, err := store.ListVariants(context.Background(), 7)

	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, 25.0, variants[0].Volume)
	assert.True(t, variants[1].IsFeatured)
	assert.True(t, variants[1].Price.Equal(decimal.NewFromFloat(6.0)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListVariantsForProducts(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	query := regexp.QuoteMeta(`
		SELECT id, product_id, volume, price, image_path, is_featured, display_order, is_active
		FROM catalog.product_sizes
		WHERE product_id = ANY($1)
		ORDER BY product_id ASC, display_order ASC, volume ASC;
	`)
	rows := sqlmock.NewRows(variantColumns()).
		AddRow(int64(101), int64(7), 25.0, "3.5", nil, false, 10, true).
		AddRow(int64(102), int64(7), 50.0, "6.0", nil, false, 20, true).
		AddRow(int64(103), int64(8), 33.0, "4.2", nil, false, 10, true)

	mock.ExpectQuery(query).WithArgs(pq.Array([]int64{7, 8})).WillReturnRows(rows)

	byProduct, err := store.ListVariantsForProducts(context.Background(), []int64{7, 8})

	require.NoError(t, err)
	require.Len(t, byProduct, 2)
	assert.Len(t, byProduct[7], 2)
	assert.Len(t, byProduct[8], 1)
	assert.Equal(t, 33.0, byProduct[8][0].Volume)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListVariantsForProducts_EmptyInput(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	byProduct, err := store.ListVariantsForProducts(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, byProduct)
	require.NoError(t, mock.ExpectationsWereMet(), "Empty input should not touch the database")
}

func TestPostgresStore_DeleteVariants_Idempotent(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectExec(deleteVariantsStmt).WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteVariants(context.Background(), 7)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
