package updater

import (
	"context"

	"sgcars-go/internal/model"
)

// Store is the destination store.
type Store interface {
	// Keys returns the distinct projection of fields across every row of table.
	Keys(ctx context.Context, table string, fields []string) ([]model.Record, error)

	// Insert writes rows into table and returns how many were actually inserted.
	Insert(ctx context.Context, table string, rows []model.Record) (int, error)
}

// TxStore is a Store that can run several operations in one transaction.
// Used only when single-transaction persistence is requested.
type TxStore interface {
	Store

	// InTx runs fn against a Store bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Store) error) error
}

// Invalidator drops downstream read caches for a table after new rows land.
type Invalidator interface {
	InvalidateTable(table string)
}

// NopInvalidator is an Invalidator that does nothing.
type NopInvalidator struct{}

func (NopInvalidator) InvalidateTable(string) {}
