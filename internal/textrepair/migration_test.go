package textrepair

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDBAndMigrator(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Migrator) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Failed to create sqlmock")
	return db, mock, NewMigrator(db)
}

var flagQuery = regexp.QuoteMeta(`SELECT value FROM catalog.app_settings WHERE key = $1;`)

func sweepQuery(table, column string) string {
	return regexp.QuoteMeta(`SELECT id, ` + column + ` FROM ` + table + ` WHERE ` + column + ` LIKE '%\\%';`)
}

func expectEmptySweep(mock sqlmock.Sqlmock, table, column string) {
	mock.ExpectQuery(sweepQuery(table, column)).
		WillReturnRows(sqlmock.NewRows([]string{"id", column}))
}

func TestMigrator_Run_NoOpWhenCompleted(t *testing.T) {
	db, mock, migrator := newMockDBAndMigrator(t)
	defer db.Close()

	mock.ExpectQuery(flagQuery).WithArgs(CompletionFlagKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("1"))

	changed, err := migrator.Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, changed, "A completed migration must not sweep again")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Run_FullSweep(t *testing.T) {
	db, mock, migrator := newMockDBAndMigrator(t)
	defer db.Close()

	// Flag not set yet.
	mock.ExpectQuery(flagQuery).WithArgs(CompletionFlagKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	// products.name: one row that changes, one whose backslashes do not
	// precede a quote and must be skipped.
	mock.ExpectQuery(sweepQuery("catalog.products", "name")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), `caf\\\'e`).
			AddRow(int64(2), `back\slash`))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE catalog.products SET name = $1 WHERE id = $2;`)).
		WithArgs("caf'e", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectEmptySweep(mock, "catalog.products", "description")
	expectEmptySweep(mock, "catalog.categories", "name")
	expectEmptySweep(mock, "catalog.subcategories", "name")
	expectEmptySweep(mock, "catalog.beer_styles", "name")
	expectEmptySweep(mock, "catalog.wine_styles", "name")

	// booking_options blob: escaped quote inside a JSON string value.
	mock.ExpectQuery(flagQuery).WithArgs("booking_options").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`{"note":"l\\'apero"}`))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE catalog.app_settings SET value = $1 WHERE key = $2;`)).
		WithArgs(`{"note":"l'apero"}`, "booking_options").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// menu_options blob absent.
	mock.ExpectQuery(flagQuery).WithArgs("menu_options").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	mock.ExpectExec(`INSERT INTO catalog.app_settings`).
		WithArgs(CompletionFlagKey).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := migrator.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, changed, "One product row and one settings blob were rewritten")
	require.NoError(t, mock.ExpectationsWereMet())
}

// A single unreadable location must not abort the rest of the sweep.
func TestMigrator_Run_SkipsFailedLocation(t *testing.T) {
	db, mock, migrator := newMockDBAndMigrator(t)
	defer db.Close()

	mock.ExpectQuery(flagQuery).WithArgs(CompletionFlagKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	mock.ExpectQuery(sweepQuery("catalog.products", "name")).
		WillReturnError(errors.New("relation is locked"))

	mock.ExpectQuery(sweepQuery("catalog.products", "description")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "description"}).
			AddRow(int64(7), `un \'fut\' de 10L`))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE catalog.products SET description = $1 WHERE id = $2;`)).
		WithArgs("un 'fut' de 10L", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectEmptySweep(mock, "catalog.categories", "name")
	expectEmptySweep(mock, "catalog.subcategories", "name")
	expectEmptySweep(mock, "catalog.beer_styles", "name")
	expectEmptySweep(mock, "catalog.wine_styles", "name")

	mock.ExpectQuery(flagQuery).WithArgs("booking_options").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectQuery(flagQuery).WithArgs("menu_options").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	mock.ExpectExec(`INSERT INTO catalog.app_settings`).
		WithArgs(CompletionFlagKey).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := migrator.Run(context.Background())

	require.NoError(t, err, "A failed location is skipped, not fatal")
	assert.Equal(t, 1, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Status(t *testing.T) {
	db, mock, migrator := newMockDBAndMigrator(t)
	defer db.Close()

	mock.ExpectQuery(flagQuery).WithArgs(CompletionFlagKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	state, err := migrator.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Completed)
	assert.Equal(t, CompletionFlagKey, state.Key)

	mock.ExpectQuery(flagQuery).WithArgs(CompletionFlagKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("1"))

	state, err = migrator.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Completed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Reset(t *testing.T) {
	db, mock, migrator := newMockDBAndMigrator(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM catalog.app_settings WHERE key = $1;`)).
		WithArgs(CompletionFlagKey).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, migrator.Reset(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
