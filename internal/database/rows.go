package database

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"sgcars-go/internal/model"
	"sgcars-go/internal/updater"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent validates a table or column name and quotes it for SQLite.
// Names come from configuration and CSV headers, so anything outside plain
// identifiers is rejected rather than escaped.
func quoteIdent(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

func quoteIdents(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := quoteIdent(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// Keys returns the distinct projection of fields across every row of table.
func (s *SQLiteStore) Keys(ctx context.Context, table string, fields []string) ([]model.Record, error) {
	return selectKeys(ctx, s.db, table, fields)
}

// Insert writes rows into table in one transaction using INSERT OR IGNORE,
// and returns how many rows SQLite actually inserted.
func (s *SQLiteStore) Insert(ctx context.Context, table string, rows []model.Record) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := insertRows(ctx, tx, table, rows)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return n, nil
}

// InTx runs fn against a Store bound to a single transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(updater.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// txStore is the view of the store inside InTx.
type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) Keys(ctx context.Context, table string, fields []string) ([]model.Record, error) {
	return selectKeys(ctx, t.tx, table, fields)
}

func (t *txStore) Insert(ctx context.Context, table string, rows []model.Record) (int, error) {
	return insertRows(ctx, t.tx, table, rows)
}

func selectKeys(ctx context.Context, q sqlx.QueryerContext, table string, fields []string) ([]model.Record, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no key fields for table %s", table)
	}
	qt, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	cols, err := quoteIdents(fields)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", strings.Join(cols, ", "), qt)
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying keys of %s: %w", table, err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		m := make(map[string]any, len(fields))
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("scanning keys of %s: %w", table, err)
		}
		out = append(out, model.Record(m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading keys of %s: %w", table, err)
	}
	return out, nil
}

// insertRows inserts one row per statement execution. A multi-row VALUES list
// would hit SQLite's bound-parameter limit at the default batch size.
func insertRows(ctx context.Context, tx *sqlx.Tx, table string, rows []model.Record) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	qt, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}

	columns := columnsOf(rows)
	cols, err := quoteIdents(columns)
	if err != nil {
		return 0, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", qt, strings.Join(cols, ", "), placeholders)

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing insert into %s: %w", table, err)
	}
	defer stmt.Close()

	inserted := 0
	args := make([]any, len(columns))
	for i, r := range rows {
		for j, c := range columns {
			args[j] = r[c]
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("inserting row %d into %s: %w", i, table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting inserted rows: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// columnsOf returns the union of field names across rows, sorted.
func columnsOf(rows []model.Record) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)
	return columns
}
