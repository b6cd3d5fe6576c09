package database

import (
	"context"
	"fmt"
)

const summaryKey = "summary"

// TableSummary describes the contents of a dataset table.
type TableSummary struct {
	Table       string `json:"table"`
	Rows        int64  `json:"rows"`
	LatestMonth string `json:"latestMonth,omitempty"`
	// Cached is true when the summary came from the read cache.
	Cached bool `json:"cached"`
}

// Summary returns the row count and latest month of table. Results are kept
// in the read cache until the persister invalidates the table. A result read
// while the table was being invalidated is returned but not cached.
func (s *SQLiteStore) Summary(ctx context.Context, table string) (*TableSummary, error) {
	var gen uint64
	if s.summaries != nil {
		if v, ok := s.summaries.Get(table, summaryKey); ok {
			sum := *v.(*TableSummary)
			sum.Cached = true
			return &sum, nil
		}
		gen = s.summaries.Generation(table)
	}

	qt, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}

	sum := &TableSummary{Table: table}
	if err := s.db.GetContext(ctx, &sum.Rows, fmt.Sprintf("SELECT COUNT(*) FROM %s", qt)); err != nil {
		return nil, fmt.Errorf("counting rows of %s: %w", table, err)
	}

	var hasMonth int
	err = s.db.GetContext(ctx, &hasMonth, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = 'month'`, table)
	if err != nil {
		return nil, fmt.Errorf("inspecting columns of %s: %w", table, err)
	}
	if hasMonth > 0 {
		query := fmt.Sprintf("SELECT COALESCE(MAX(month), '') FROM %s", qt)
		if err := s.db.GetContext(ctx, &sum.LatestMonth, query); err != nil {
			return nil, fmt.Errorf("finding latest month of %s: %w", table, err)
		}
	}

	if s.summaries != nil {
		cached := *sum
		s.summaries.AddAt(table, summaryKey, &cached, gen)
	}
	return sum, nil
}
