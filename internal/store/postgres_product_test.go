// File: bar-catalog-service/internal/store/postgres_product_test.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"bar-catalog-service/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a mock DB and PostgresStore for testing
func newMockDBAndStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp)) // Use regexp matcher
	require.NoError(t, err, "Failed to create sqlmock")

	store := NewPostgresStore(db)
	require.NotNil(t, store, "Store should not be nil")

	return db, mock, store
}

// Helper function to get a pointer (useful for optional fields in domain structs)
func PtrTo[T any](v T) *T {
	return &v
}

var categoryExistsQuery = regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM catalog.categories WHERE id = $1);`)

func expectCategoryExists(mock sqlmock.Sqlmock, categoryID int64, exists bool) {
	mock.ExpectQuery(categoryExistsQuery).WithArgs(categoryID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func productColumns() []string {
	return []string{"id", "category_id", "name", "description", "price", "volume",
		"attribute_category", "has_multiple_sizes", "image_path", "is_active", "display_order", "created_at"}
}

func TestPostgresStore_CreateProduct(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	productToCreate := &domain.Product{
		CategoryID:        2,
		Name:              "Chouffe",
		Description:       PtrTo("Blonde forte"),
		Price:             decimal.NewFromFloat(4.50),
		Volume:            PtrTo(33.0),
		AttributeCategory: PtrTo("blonde"),
		IsActive:          true,
		DisplayOrder:      10,
	}

	expectCategoryExists(mock, 2, true)

	insertQuery := regexp.QuoteMeta(`
		INSERT INTO catalog.products
			(category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order, created_at;
	`)
	rows := sqlmock.NewRows(productColumns()).
		AddRow(int64(1), int64(2), "Chouffe", "Blonde forte", "4.5", 33.0, "blonde", false, nil, true, 10, now)

	mock.ExpectQuery(insertQuery).
		WithArgs(int64(2), "Chouffe", productToCreate.Description, productToCreate.Price,
			productToCreate.Volume, productToCreate.AttributeCategory, false, nil, true, 10).
		WillReturnRows(rows)

	created, err := store.CreateProduct(context.Background(), productToCreate)

	require.NoError(t, err, "CreateProduct should not return an error")
	require.NotNil(t, created)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "Chouffe", created.Name)
	assert.True(t, created.Price.Equal(decimal.NewFromFloat(4.5)))
	assert.False(t, created.HasMultipleSizes)
	require.NotNil(t, created.AttributeCategory)
	assert.Equal(t, "blonde", *created.AttributeCategory)

	require.NoError(t, mock.ExpectationsWereMet(), "SQLmock expectations were not met")
}

func TestPostgresStore_CreateProduct_EmptyName(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	_, err := store.CreateProduct(context.Background(), &domain.Product{
		CategoryID: 2,
		Name:       "   ",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductInvalid), "Error should be ErrProductInvalid")
	require.NoError(t, mock.ExpectationsWereMet(), "Validation must fail before any SQL runs")
}

func TestPostgresStore_CreateProduct_CategoryMissing(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	expectCategoryExists(mock, 99, false)

	_, err := store.CreateProduct(context.Background(), &domain.Product{
		CategoryID: 99,
		Name:       "Orphan",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCategoryNotFound), "Error should be ErrCategoryNotFound")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProductByID_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	query := regexp.QuoteMeta(`
		SELECT id, category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order, created_at
		FROM catalog.products
		WHERE id = $1;
	`)
	mock.ExpectQuery(query).WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	product, err := store.GetProductByID(context.Background(), 99)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound), "Error should be ErrProductNotFound")
	assert.Nil(t, product)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProducts_ByCategoryType(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	active := true
	params := ListProductsParams{
		CategoryType: PtrTo(domain.CategoryTypeKeg),
		IsActive:     &active,
	}

	query := regexp.QuoteMeta(`
		SELECT id, category_id, name, description, price, volume, attribute_category, has_multiple_sizes, image_path, is_active, display_order, created_at
		FROM catalog.products WHERE category_id IN (SELECT id FROM catalog.categories WHERE type = $1) AND is_active = $2
		ORDER BY display_order ASC, name ASC;`)

	rows := sqlmock.NewRows(productColumns()).
		AddRow(int64(1), int64(3), "Fut Pils", nil, "0", 1000.0, "pils", true, nil, true, 10, now).
		AddRow(int64(2), int64(3), "Fut Triple", nil, "95.0", 2000.0, "triple", false, nil, true, 20, now)

	mock.ExpectQuery(query).WithArgs(domain.CategoryTypeKeg, true).WillReturnRows(rows)

	products, err := store.ListProducts(context.Background(), params)

	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Fut Pils", products[0].Name)
	assert.True(t, products[0].HasMultipleSizes)
	assert.True(t, products[1].Price.Equal(decimal.NewFromFloat(95.0)))
	require.NoError(t, mock.ExpectationsWereMet())
}

// Product deletion removes owned size variants in the same transaction.
func TestPostgresStore_DeleteProduct_CascadesVariants(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM catalog.product_sizes WHERE product_id = $1;`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM catalog.products WHERE id = $1;`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.DeleteProduct(context.Background(), 5)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteProduct_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM catalog.product_sizes WHERE product_id = $1;`)).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM catalog.products WHERE id = $1;`)).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.DeleteProduct(context.Background(), 99)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound), "Error should be ErrProductNotFound")
	require.NoError(t, mock.ExpectationsWereMet())
}
