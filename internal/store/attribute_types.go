package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"bar-catalog-service/internal/domain"
)

// AttributeDomain describes one attribute-type registry: where its dedicated
// table lives, which parent category scopes its rows in the legacy
// subcategories table, and which category types carry its slugs on products.
type AttributeDomain struct {
	Key                    string
	DedicatedTable         string
	LegacyParentCategoryID int64
	CategoryTypes          []string
}

// The two registries share identical shape and rules; only the wiring below
// differs. The legacy parent ids are fixed historical values and must not
// change, existing installs depend on them.
var attributeDomains = map[string]AttributeDomain{
	"beer": {
		Key:                    "beer",
		DedicatedTable:         "catalog.beer_styles",
		LegacyParentCategoryID: 4,
		CategoryTypes:          []string{domain.CategoryTypeBottledBeer, domain.CategoryTypeKeg},
	},
	"wine": {
		Key:                    "wine",
		DedicatedTable:         "catalog.wine_styles",
		LegacyParentCategoryID: 7,
		CategoryTypes:          []string{domain.CategoryTypeWine},
	},
}

// DomainByKey resolves an attribute domain key ("beer", "wine").
func DomainByKey(key string) (AttributeDomain, error) {
	d, ok := attributeDomains[key]
	if !ok {
		return AttributeDomain{}, fmt.Errorf("%w: %q", ErrUnknownDomain, key)
	}
	return d, nil
}

// displayOrderStep leaves gaps between appended rows so users can reorder
// manually without renumbering everything.
const displayOrderStep = 10

var (
	slugAccents = strings.NewReplacer(
		"à", "a", "â", "a", "ä", "a",
		"ç", "c",
		"é", "e", "è", "e", "ê", "e", "ë", "e",
		"î", "i", "ï", "i",
		"ô", "o", "ö", "o",
		"û", "u", "ù", "u", "ü", "u",
	)
	slugInvalidRuns = regexp.MustCompile(`[^a-z0-9]+`)
)

// Slugify derives the stable key stored on product rows from a display name:
// lowercase, accents folded, any run of other characters collapsed to a
// single dash. "IPA" and "ipa " derive the same slug.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugAccents.Replace(s)
	s = slugInvalidRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// sqlExecutor abstracts over *sql.DB and *sql.Tx so the table strategies
// below can run inside or outside a transaction.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// attributeTypeTable is the strategy interface over the two physical
// representations of an attribute registry. PostgresStore selects an
// implementation by probing for the dedicated table; callers of the
// AttributeTypeStorer API never see which one served a request.
type attributeTypeTable interface {
	List(ctx context.Context, q sqlExecutor) ([]domain.AttributeType, error)
	BySlug(ctx context.Context, q sqlExecutor, slug string) (*domain.AttributeType, error)
	Insert(ctx context.Context, q sqlExecutor, name, slug string, displayOrder int) (*domain.AttributeType, error)
	Rename(ctx context.Context, q sqlExecutor, oldSlug, name, newSlug string) error
	Delete(ctx context.Context, q sqlExecutor, slug string) error
	NextDisplayOrder(ctx context.Context, q sqlExecutor) (int, error)
}

// --- Dedicated table representation ---

type dedicatedTypeTable struct {
	table string
}

func (t dedicatedTypeTable) List(ctx context.Context, q sqlExecutor) ([]domain.AttributeType, error) {
	query := fmt.Sprintf(`
		SELECT id, name, slug, display_order, is_active
		FROM %s
		WHERE is_active = TRUE
		ORDER BY display_order ASC, name ASC;`, t.table)
	return scanAttributeTypes(ctx, q, query)
}

func (t dedicatedTypeTable) BySlug(ctx context.Context, q sqlExecutor, slug string) (*domain.AttributeType, error) {
	query := fmt.Sprintf(`
		SELECT id, name, slug, display_order, is_active
		FROM %s
		WHERE slug = $1;`, t.table)
	return scanAttributeType(ctx, q, query, slug)
}

func (t dedicatedTypeTable) Insert(ctx context.Context, q sqlExecutor, name, slug string, displayOrder int) (*domain.AttributeType, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, slug, display_order, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, name, slug, display_order, is_active;`, t.table)
	return scanAttributeType(ctx, q, query, name, slug, displayOrder)
}

func (t dedicatedTypeTable) Rename(ctx context.Context, q sqlExecutor, oldSlug, name, newSlug string) error {
	query := fmt.Sprintf(`UPDATE %s SET name = $1, slug = $2 WHERE slug = $3;`, t.table)
	return execExpectingRow(ctx, q, query, name, newSlug, oldSlug)
}

func (t dedicatedTypeTable) Delete(ctx context.Context, q sqlExecutor, slug string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE slug = $1;`, t.table)
	return execExpectingRow(ctx, q, query, slug)
}

func (t dedicatedTypeTable) NextDisplayOrder(ctx context.Context, q sqlExecutor) (int, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(display_order), 0) FROM %s;`, t.table)
	var max int
	if err := q.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("store: failed to compute next display order: %w", err)
	}
	return max + displayOrderStep, nil
}

// --- Legacy subcategories representation ---

// legacyTypeTable serves attribute types from the generic subcategories
// table that predates the dedicated tables. Rows belonging to one registry
// are scoped by a fixed parent category id.
type legacyTypeTable struct {
	parentCategoryID int64
}

func (t legacyTypeTable) List(ctx context.Context, q sqlExecutor) ([]domain.AttributeType, error) {
	query := `
		SELECT id, name, slug, display_order, is_active
		FROM catalog.subcategories
		WHERE parent_category_id = $1 AND is_active = TRUE
		ORDER BY display_order ASC, name ASC;`
	return scanAttributeTypes(ctx, q, query, t.parentCategoryID)
}

func (t legacyTypeTable) BySlug(ctx context.Context, q sqlExecutor, slug string) (*domain.AttributeType, error) {
	query := `
		SELECT id, name, slug, display_order, is_active
		FROM catalog.subcategories
		WHERE parent_category_id = $1 AND slug = $2;`
	return scanAttributeType(ctx, q, query, t.parentCategoryID, slug)
}

func (t legacyTypeTable) Insert(ctx context.Context, q sqlExecutor, name, slug string, displayOrder int) (*domain.AttributeType, error) {
	query := `
		INSERT INTO catalog.subcategories (parent_category_id, name, slug, display_order, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, name, slug, display_order, is_active;`
	return scanAttributeType(ctx, q, query, t.parentCategoryID, name, slug, displayOrder)
}

func (t legacyTypeTable) Rename(ctx context.Context, q sqlExecutor, oldSlug, name, newSlug string) error {
	query := `UPDATE catalog.subcategories SET name = $1, slug = $2 WHERE parent_category_id = $3 AND slug = $4;`
	return execExpectingRow(ctx, q, query, name, newSlug, t.parentCategoryID, oldSlug)
}

func (t legacyTypeTable) Delete(ctx context.Context, q sqlExecutor, slug string) error {
	query := `DELETE FROM catalog.subcategories WHERE parent_category_id = $1 AND slug = $2;`
	return execExpectingRow(ctx, q, query, t.parentCategoryID, slug)
}

func (t legacyTypeTable) NextDisplayOrder(ctx context.Context, q sqlExecutor) (int, error) {
	query := `SELECT COALESCE(MAX(display_order), 0) FROM catalog.subcategories WHERE parent_category_id = $1;`
	var max int
	if err := q.QueryRowContext(ctx, query, t.parentCategoryID).Scan(&max); err != nil {
		return 0, fmt.Errorf("store: failed to compute next display order: %w", err)
	}
	return max + displayOrderStep, nil
}

// --- Shared scan/exec helpers ---

func scanAttributeTypes(ctx context.Context, q sqlExecutor, query string, args ...interface{}) ([]domain.AttributeType, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query attribute types: %w", err)
	}
	defer rows.Close()

	types := make([]domain.AttributeType, 0)
	for rows.Next() {
		var t domain.AttributeType
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.DisplayOrder, &t.IsActive); err != nil {
			return nil, fmt.Errorf("store: failed to scan attribute type row: %w", err)
		}
		types = append(types, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: attribute type iteration error: %w", err)
	}
	return types, nil
}

func scanAttributeType(ctx context.Context, q sqlExecutor, query string, args ...interface{}) (*domain.AttributeType, error) {
	var t domain.AttributeType
	err := q.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.Name, &t.Slug, &t.DisplayOrder, &t.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttributeTypeNotFound
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // Unique violation on slug
			return nil, ErrAttributeTypeExists
		}
		return nil, fmt.Errorf("store: failed to scan attribute type row: %w", err)
	}
	return &t, nil
}

func execExpectingRow(ctx context.Context, q sqlExecutor, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAttributeTypeExists
		}
		return fmt.Errorf("store: failed to execute attribute type statement: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAttributeTypeNotFound
	}
	return nil
}

// --- Representation probe ---

// attributeTable picks the physical representation for a domain. The probe
// asks Postgres whether the dedicated table exists; the outcome is cached
// per process since a schema migration mid-flight is not a supported state.
func (s *PostgresStore) attributeTable(ctx context.Context, d AttributeDomain) (attributeTypeTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tbl, ok := s.attrTables[d.Key]; ok {
		return tbl, nil
	}

	var reg sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT to_regclass($1);`, d.DedicatedTable).Scan(&reg); err != nil {
		return nil, fmt.Errorf("store: failed to probe for table %s: %w", d.DedicatedTable, err)
	}

	var tbl attributeTypeTable
	if reg.Valid {
		tbl = dedicatedTypeTable{table: d.DedicatedTable}
	} else {
		tbl = legacyTypeTable{parentCategoryID: d.LegacyParentCategoryID}
	}
	s.attrTables[d.Key] = tbl
	return tbl, nil
}

// ResetSchemaCache forgets probed representations. Call it after creating a
// dedicated table at runtime so the next operation re-probes.
func (s *PostgresStore) ResetSchemaCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrTables = make(map[string]attributeTypeTable)
}

// --- AttributeTypeStorer Implementation ---

const usageCountQuery = `
		SELECT c.type, COUNT(*)
		FROM catalog.products p
		JOIN catalog.categories c ON c.id = p.category_id
		WHERE p.is_active = TRUE AND p.attribute_category = $1 AND c.type = ANY($2)
		GROUP BY c.type;`

// AttributeTypeUsage counts active products referencing a slug across every
// category type of the domain. Counts are always computed on demand; a
// stored counter would go stale the moment a product is toggled.
func (s *PostgresStore) AttributeTypeUsage(ctx context.Context, domainKey, slug string) (*domain.AttributeUsage, error) {
	d, err := DomainByKey(domainKey)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, usageCountQuery, slug, pq.Array(d.CategoryTypes))
	if err != nil {
		return nil, fmt.Errorf("store: AttributeTypeUsage failed to query counts: %w", err)
	}
	defer rows.Close()

	usage := &domain.AttributeUsage{ByCategory: make(map[string]int, len(d.CategoryTypes))}
	for _, ct := range d.CategoryTypes {
		usage.ByCategory[ct] = 0
	}
	for rows.Next() {
		var categoryType string
		var count int
		if err := rows.Scan(&categoryType, &count); err != nil {
			return nil, fmt.Errorf("store: AttributeTypeUsage failed to scan count row: %w", err)
		}
		usage.ByCategory[categoryType] = count
		usage.Total += count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: AttributeTypeUsage iteration error: %w", err)
	}
	return usage, nil
}

// ListAttributeTypes returns all active types of a domain in display order,
// each carrying its computed usage. Usage for every slug comes from a single
// grouped query rather than one count per type.
func (s *PostgresStore) ListAttributeTypes(ctx context.Context, domainKey string) ([]domain.AttributeType, error) {
	d, err := DomainByKey(domainKey)
	if err != nil {
		return nil, err
	}
	tbl, err := s.attributeTable(ctx, d)
	if err != nil {
		return nil, err
	}

	types, err := tbl.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	allUsageQuery := `
		SELECT p.attribute_category, c.type, COUNT(*)
		FROM catalog.products p
		JOIN catalog.categories c ON c.id = p.category_id
		WHERE p.is_active = TRUE AND p.attribute_category IS NOT NULL AND c.type = ANY($1)
		GROUP BY p.attribute_category, c.type;`
	rows, err := s.db.QueryContext(ctx, allUsageQuery, pq.Array(d.CategoryTypes))
	if err != nil {
		return nil, fmt.Errorf("store: ListAttributeTypes failed to query usage counts: %w", err)
	}
	defer rows.Close()

	usageBySlug := make(map[string]*domain.AttributeUsage)
	for rows.Next() {
		var slug, categoryType string
		var count int
		if err := rows.Scan(&slug, &categoryType, &count); err != nil {
			return nil, fmt.Errorf("store: ListAttributeTypes failed to scan usage row: %w", err)
		}
		u := usageBySlug[slug]
		if u == nil {
			u = &domain.AttributeUsage{ByCategory: make(map[string]int, len(d.CategoryTypes))}
			usageBySlug[slug] = u
		}
		u.ByCategory[categoryType] = count
		u.Total += count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListAttributeTypes usage iteration error: %w", err)
	}

	for i := range types {
		if u, ok := usageBySlug[types[i].Slug]; ok {
			types[i].Usage = u
		} else {
			types[i].Usage = &domain.AttributeUsage{ByCategory: make(map[string]int)}
		}
	}
	return types, nil
}

func (s *PostgresStore) CreateAttributeType(ctx context.Context, domainKey, name string) (*domain.AttributeType, error) {
	d, err := DomainByKey(domainKey)
	if err != nil {
		return nil, err
	}
	slug := Slugify(name)
	if slug == "" {
		return nil, fmt.Errorf("%w: name %q produces an empty slug", ErrAttributeTypeInvalid, name)
	}
	tbl, err := s.attributeTable(ctx, d)
	if err != nil {
		return nil, err
	}

	existing, err := tbl.BySlug(ctx, s.db, slug)
	if err != nil && !errors.Is(err, ErrAttributeTypeNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrAttributeTypeExists, slug)
	}

	displayOrder, err := tbl.NextDisplayOrder(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return tbl.Insert(ctx, s.db, strings.TrimSpace(name), slug, displayOrder)
}

// RenameAttributeType updates the type row and rewrites the slug on every
// product that referenced the old one, in a single transaction: a failure in
// either write leaves both untouched, so products can never point at a slug
// without a type row.
func (s *PostgresStore) RenameAttributeType(ctx context.Context, domainKey, oldSlug, newName string) (*domain.AttributeType, int64, error) {
	d, err := DomainByKey(domainKey)
	if err != nil {
		return nil, 0, err
	}
	newSlug := Slugify(newName)
	if newSlug == "" {
		return nil, 0, fmt.Errorf("%w: name %q produces an empty slug", ErrAttributeTypeInvalid, newName)
	}
	tbl, err := s.attributeTable(ctx, d)
	if err != nil {
		return nil, 0, err
	}

	existing, err := tbl.BySlug(ctx, s.db, oldSlug)
	if err != nil {
		return nil, 0, err
	}
	if newSlug != oldSlug {
		if _, err := tbl.BySlug(ctx, s.db, newSlug); err == nil {
			return nil, 0, fmt.Errorf("%w: %q", ErrAttributeTypeExists, newSlug)
		} else if !errors.Is(err, ErrAttributeTypeNotFound) {
			return nil, 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("store: RenameAttributeType failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tbl.Rename(ctx, tx, oldSlug, strings.TrimSpace(newName), newSlug); err != nil {
		return nil, 0, err
	}

	rewriteQuery := `
		UPDATE catalog.products
		SET attribute_category = $1
		WHERE attribute_category = $2
		  AND category_id IN (SELECT id FROM catalog.categories WHERE type = ANY($3));`
	result, err := tx.ExecContext(ctx, rewriteQuery, newSlug, oldSlug, pq.Array(d.CategoryTypes))
	if err != nil {
		return nil, 0, fmt.Errorf("store: RenameAttributeType failed to rewrite product slugs: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return nil, 0, fmt.Errorf("store: RenameAttributeType failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("store: RenameAttributeType failed to commit: %w", err)
	}

	renamed := *existing
	renamed.Name = strings.TrimSpace(newName)
	renamed.Slug = newSlug
	return &renamed, updated, nil
}

// DeleteAttributeType refuses to delete a type while any active product
// still references its slug. Products are never silently reclassified or
// orphaned by a delete; the caller must reassign or deactivate them first.
func (s *PostgresStore) DeleteAttributeType(ctx context.Context, domainKey, slug string) error {
	d, err := DomainByKey(domainKey)
	if err != nil {
		return err
	}
	tbl, err := s.attributeTable(ctx, d)
	if err != nil {
		return err
	}

	usage, err := s.AttributeTypeUsage(ctx, domainKey, slug)
	if err != nil {
		return err
	}
	if usage.Total > 0 {
		return &AttributeTypeInUseError{Slug: slug, Usage: *usage}
	}

	return tbl.Delete(ctx, s.db, slug)
}
