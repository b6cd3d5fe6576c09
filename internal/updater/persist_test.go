package updater_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sgcars-go/internal/model"
	"sgcars-go/internal/testutil"
	"sgcars-go/internal/updater"
)

func numbered(n int) []model.Record {
	out := make([]model.Record, n)
	for i := range out {
		out[i] = model.Record{"id": fmt.Sprintf("r%05d", i)}
	}
	return out
}

// txFakeStore buffers inserts made inside InTx and applies them on commit.
type txFakeStore struct {
	*testutil.FakeStore
	commits   int
	rollbacks int
}

type bufferedStore struct {
	parent  *testutil.FakeStore
	pending map[string][]model.Record
	calls   int
	failOn  int
}

func (b *bufferedStore) Keys(ctx context.Context, table string, fields []string) ([]model.Record, error) {
	return b.parent.Keys(ctx, table, fields)
}

func (b *bufferedStore) Insert(_ context.Context, table string, rows []model.Record) (int, error) {
	b.calls++
	if b.failOn == b.calls {
		return 0, errors.New("injected failure")
	}
	b.pending[table] = append(b.pending[table], rows...)
	return len(rows), nil
}

func (s *txFakeStore) InTx(_ context.Context, fn func(updater.Store) error) error {
	tx := &bufferedStore{parent: s.FakeStore, pending: map[string][]model.Record{}, failOn: s.FailOnInsert}
	if err := fn(tx); err != nil {
		s.rollbacks++
		return err
	}
	for table, rows := range tx.pending {
		s.Seed(table, rows...)
	}
	s.commits++
	return nil
}

func TestPersister_Batches(t *testing.T) {
	store := testutil.NewFakeStore()
	inv := &testutil.RecordingInvalidator{}
	p := updater.NewPersister(store, inv, 5000, false)

	n, err := p.Persist(context.Background(), "cars", numbered(12000))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if n != 12000 {
		t.Errorf("inserted = %d, want 12000", n)
	}
	if diff := cmp.Diff([]int{5000, 5000, 2000}, store.InsertCalls()); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cars"}, inv.Tables()); diff != "" {
		t.Errorf("invalidated tables mismatch (-want +got):\n%s", diff)
	}
}

func TestPersister_SumsReportedCounts(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SetUnique("cars", "id")
	store.Seed("cars", model.Record{"id": "r00001"}, model.Record{"id": "r00007"})
	p := updater.NewPersister(store, nil, 4, false)

	n, err := p.Persist(context.Background(), "cars", numbered(10))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// The store silently skips the two seeded keys.
	if n != 8 {
		t.Errorf("inserted = %d, want 8", n)
	}
	if diff := cmp.Diff([]int{4, 4, 2}, store.InsertCalls()); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestPersister_Empty(t *testing.T) {
	store := testutil.NewFakeStore()
	inv := &testutil.RecordingInvalidator{}
	p := updater.NewPersister(store, inv, 0, false)

	n, err := p.Persist(context.Background(), "cars", nil)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if n != 0 {
		t.Errorf("inserted = %d, want 0", n)
	}
	if len(store.InsertCalls()) != 0 {
		t.Errorf("insert calls = %v, want none", store.InsertCalls())
	}
	if len(inv.Tables()) != 0 {
		t.Errorf("invalidated = %v, want none", inv.Tables())
	}
}

func TestPersister_DefaultBatchSize(t *testing.T) {
	p := updater.NewPersister(testutil.NewFakeStore(), nil, 0, false)
	if p.BatchSize() != updater.DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", p.BatchSize(), updater.DefaultBatchSize)
	}
}

func TestPersister_FailureKeepsEarlierBatches(t *testing.T) {
	store := testutil.NewFakeStore()
	store.FailOnInsert = 2
	inv := &testutil.RecordingInvalidator{}
	p := updater.NewPersister(store, inv, 5000, false)

	n, err := p.Persist(context.Background(), "cars", numbered(12000))

	var se *updater.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StoreError", err)
	}
	if se.Op != "insert" || se.Table != "cars" {
		t.Errorf("StoreError = %+v", se)
	}
	if n != 5000 {
		t.Errorf("inserted = %d, want 5000 from the committed batch", n)
	}
	if len(store.Rows("cars")) != 5000 {
		t.Errorf("stored rows = %d, want 5000", len(store.Rows("cars")))
	}
	if diff := cmp.Diff([]int{5000, 5000}, store.InsertCalls()); diff != "" {
		t.Errorf("no batch may be attempted after a failure (-want +got):\n%s", diff)
	}
	if len(inv.Tables()) != 0 {
		t.Errorf("invalidated = %v, want none on failure", inv.Tables())
	}
}

func TestPersister_Atomic(t *testing.T) {
	t.Run("commits all batches together", func(t *testing.T) {
		store := &txFakeStore{FakeStore: testutil.NewFakeStore()}
		inv := &testutil.RecordingInvalidator{}
		p := updater.NewPersister(store, inv, 5000, true)

		n, err := p.Persist(context.Background(), "cars", numbered(12000))
		if err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		if n != 12000 {
			t.Errorf("inserted = %d, want 12000", n)
		}
		if store.commits != 1 {
			t.Errorf("commits = %d, want 1", store.commits)
		}
		if len(store.Rows("cars")) != 12000 {
			t.Errorf("stored rows = %d, want 12000", len(store.Rows("cars")))
		}
		if len(inv.Tables()) != 1 {
			t.Errorf("invalidated = %v, want one call", inv.Tables())
		}
	})

	t.Run("failure rolls back everything", func(t *testing.T) {
		store := &txFakeStore{FakeStore: testutil.NewFakeStore()}
		store.FailOnInsert = 3
		p := updater.NewPersister(store, nil, 5000, true)

		n, err := p.Persist(context.Background(), "cars", numbered(12000))

		var se *updater.StoreError
		if !errors.As(err, &se) {
			t.Fatalf("error = %v, want *StoreError", err)
		}
		if n != 0 {
			t.Errorf("inserted = %d, want 0 after rollback", n)
		}
		if store.rollbacks != 1 {
			t.Errorf("rollbacks = %d, want 1", store.rollbacks)
		}
		if len(store.Rows("cars")) != 0 {
			t.Errorf("stored rows = %d, want 0", len(store.Rows("cars")))
		}
	})

	t.Run("non-transactional store falls back to independent batches", func(t *testing.T) {
		store := testutil.NewFakeStore()
		p := updater.NewPersister(store, nil, 5000, true)

		if _, err := p.Persist(context.Background(), "cars", numbered(6000)); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		if diff := cmp.Diff([]int{5000, 1000}, store.InsertCalls()); diff != "" {
			t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
		}
	})
}
