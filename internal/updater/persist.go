package updater

import (
	"context"
	"fmt"

	"sgcars-go/internal/model"
)

// Persister writes new records to the store in fixed-size batches.
//
// In the default mode every batch is independent: batches committed before a
// failure stay committed, and the next run's deduplication skips them. With
// Atomic set and a store implementing TxStore, all batches share one
// transaction instead.
type Persister struct {
	store       Store
	invalidator Invalidator
	batchSize   int
	atomic      bool
}

// NewPersister creates a Persister. batchSize <= 0 selects DefaultBatchSize;
// a nil invalidator is replaced by NopInvalidator.
func NewPersister(store Store, invalidator Invalidator, batchSize int, atomic bool) *Persister {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if invalidator == nil {
		invalidator = NopInvalidator{}
	}
	return &Persister{
		store:       store,
		invalidator: invalidator,
		batchSize:   batchSize,
		atomic:      atomic,
	}
}

// BatchSize returns the configured batch size.
func (p *Persister) BatchSize() int { return p.batchSize }

// Persist inserts records into table and returns the number of rows the store
// reported as inserted. Read caches for table are invalidated only after every
// batch succeeded.
func (p *Persister) Persist(ctx context.Context, table string, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var inserted int
	var err error
	if txs, ok := p.store.(TxStore); ok && p.atomic {
		err = txs.InTx(ctx, func(s Store) error {
			n, err := p.insertBatches(ctx, s, table, records)
			inserted = n
			return err
		})
		if err != nil {
			// The transaction rolled back, nothing was committed.
			inserted = 0
		}
	} else {
		inserted, err = p.insertBatches(ctx, p.store, table, records)
	}
	if err != nil {
		return inserted, err
	}

	p.invalidator.InvalidateTable(table)
	return inserted, nil
}

func (p *Persister) insertBatches(ctx context.Context, s Store, table string, records []model.Record) (int, error) {
	total := 0
	for start := 0; start < len(records); start += p.batchSize {
		end := start + p.batchSize
		if end > len(records) {
			end = len(records)
		}

		n, err := s.Insert(ctx, table, records[start:end])
		if err != nil {
			return total, &StoreError{
				Op:    "insert",
				Table: table,
				Err:   fmt.Errorf("batch starting at record %d: %w", start, err),
			}
		}
		total += n
	}
	return total, nil
}
