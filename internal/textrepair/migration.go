package textrepair

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"bar-catalog-service/internal/domain"
)

// CompletionFlagKey identifies this migration in the settings table. The
// flag is written once after a successful full sweep; later runs short-
// circuit on it.
const CompletionFlagKey = "escaped_quotes_repair_done"

// location is one (table, column) pair the sweep visits. Tables here must
// have an integer id primary key.
type location struct {
	table  string
	column string
}

var sweepLocations = []location{
	{"catalog.products", "name"},
	{"catalog.products", "description"},
	{"catalog.categories", "name"},
	{"catalog.subcategories", "name"},
	{"catalog.beer_styles", "name"},
	{"catalog.wine_styles", "name"},
}

// sweepSettings are the named serialized option blobs in app_settings that
// accumulated the same double-escaping inside their string values.
var sweepSettings = []string{
	"booking_options",
	"menu_options",
}

// Migrator runs the one-shot escaped-quote repair. Run is guarded by the
// persisted completion flag and serialized in process by a mutex; a cross-
// process overlap before either run sets the flag is self-correcting because
// Collapse is idempotent.
type Migrator struct {
	db *sql.DB
	mu sync.Mutex
}

// NewMigrator creates a Migrator over the given database handle.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Status reports whether the sweep has completed.
func (m *Migrator) Status(ctx context.Context) (*domain.MigrationState, error) {
	state := &domain.MigrationState{Key: CompletionFlagKey}
	var value string
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM catalog.app_settings WHERE key = $1;`, CompletionFlagKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, nil
		}
		return nil, fmt.Errorf("textrepair: failed to read completion flag: %w", err)
	}
	state.Completed = value == "1"
	return state, nil
}

// Run executes the full sweep unless the completion flag is already set, in
// which case it is a no-op. A failure on one location is logged and skipped
// so a single unreadable table does not abort the rest; partial progress is
// safe to re-run. Returns the number of rows and blobs actually rewritten.
func (m *Migrator) Run(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	if state.Completed {
		return 0, nil
	}

	changed := 0
	for _, loc := range sweepLocations {
		n, err := m.sweepColumn(ctx, loc)
		if err != nil {
			log.Printf("WARN: text repair skipped %s.%s: %v", loc.table, loc.column, err)
			continue
		}
		changed += n
	}
	for _, key := range sweepSettings {
		n, err := m.sweepSetting(ctx, key)
		if err != nil {
			log.Printf("WARN: text repair skipped setting %q: %v", key, err)
			continue
		}
		changed += n
	}

	setFlag := `
		INSERT INTO catalog.app_settings (key, value)
		VALUES ($1, '1')
		ON CONFLICT (key) DO UPDATE SET value = '1';`
	if _, err := m.db.ExecContext(ctx, setFlag, CompletionFlagKey); err != nil {
		return changed, fmt.Errorf("textrepair: failed to set completion flag: %w", err)
	}

	log.Printf("INFO: text repair completed, %d value(s) rewritten", changed)
	return changed, nil
}

// Reset clears the completion flag only; it does not undo repaired text.
// Intended for re-running the sweep after a new location is added.
func (m *Migrator) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM catalog.app_settings WHERE key = $1;`, CompletionFlagKey); err != nil {
		return fmt.Errorf("textrepair: failed to clear completion flag: %w", err)
	}
	return nil
}

type candidateRow struct {
	id    int64
	value string
}

// sweepColumn repairs one (table, column) pair. Only rows whose text
// contains a backslash are fetched, and only rows whose value actually
// changes are written back.
func (m *Migrator) sweepColumn(ctx context.Context, loc location) (int, error) {
	// The pattern '%\\%' matches a literal backslash; backslash is the LIKE
	// escape character.
	selectQuery := fmt.Sprintf(
		`SELECT id, %s FROM %s WHERE %s LIKE '%%\\%%';`, loc.column, loc.table, loc.column)

	rows, err := m.db.QueryContext(ctx, selectQuery)
	if err != nil {
		return 0, fmt.Errorf("select failed: %w", err)
	}

	var candidates []candidateRow
	for rows.Next() {
		var c candidateRow
		var value sql.NullString
		if err := rows.Scan(&c.id, &value); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan failed: %w", err)
		}
		if !value.Valid {
			continue
		}
		c.value = value.String
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iteration failed: %w", err)
	}
	rows.Close()

	updateQuery := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2;`, loc.table, loc.column)
	changed := 0
	for _, c := range candidates {
		fixed := Collapse(c.value)
		if fixed == c.value {
			continue
		}
		if _, err := m.db.ExecContext(ctx, updateQuery, fixed, c.id); err != nil {
			return changed, fmt.Errorf("update of row %d failed: %w", c.id, err)
		}
		changed++
	}
	return changed, nil
}

// sweepSetting repairs one named option blob. Blobs that decode as JSON are
// walked recursively so escaping inside nested values is fixed without
// disturbing the structure; anything else is treated as a plain string.
func (m *Migrator) sweepSetting(ctx context.Context, key string) (int, error) {
	var value string
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM catalog.app_settings WHERE key = $1;`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select failed: %w", err)
	}

	var fixed string
	var tree interface{}
	if json.Unmarshal([]byte(value), &tree) == nil {
		repaired, changed := CollapseValue(tree)
		if !changed {
			return 0, nil
		}
		encoded, err := json.Marshal(repaired)
		if err != nil {
			return 0, fmt.Errorf("re-encode failed: %w", err)
		}
		fixed = string(encoded)
	} else {
		fixed = Collapse(value)
		if fixed == value {
			return 0, nil
		}
	}

	if _, err := m.db.ExecContext(ctx,
		`UPDATE catalog.app_settings SET value = $1 WHERE key = $2;`, fixed, key); err != nil {
		return 0, fmt.Errorf("update failed: %w", err)
	}
	return 1, nil
}
