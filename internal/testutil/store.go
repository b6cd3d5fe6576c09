package testutil

import (
	"context"
	"fmt"
	"sync"

	"sgcars-go/internal/model"
	"sgcars-go/internal/updater"
)

// FakeStore is an in-memory updater.Store that records every insert call.
// Safe for concurrent use.
type FakeStore struct {
	mu          sync.Mutex
	rows        map[string][]model.Record
	unique      map[string][]string
	insertCalls []int
	keysCalls   int

	// FailOnInsert makes the Nth insert call (1-based) fail. Zero never fails.
	FailOnInsert int
	// KeysErr is returned by every Keys call when set.
	KeysErr error
}

var _ updater.Store = (*FakeStore)(nil)

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		rows:   make(map[string][]model.Record),
		unique: make(map[string][]string),
	}
}

// SetUnique makes inserts into table skip rows whose key over fields is
// already stored, like INSERT OR IGNORE against a UNIQUE constraint.
func (s *FakeStore) SetUnique(table string, fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unique[table] = fields
}

// Seed adds rows to table without counting an insert call.
func (s *FakeStore) Seed(table string, rows ...model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = append(s.rows[table], rows...)
}

func (s *FakeStore) Keys(_ context.Context, table string, fields []string) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keysCalls++
	if s.KeysErr != nil {
		return nil, s.KeysErr
	}

	seen := make(map[string]bool)
	var out []model.Record
	for _, r := range s.rows[table] {
		k := model.UniqueKey(r, fields)
		if seen[k] {
			continue
		}
		seen[k] = true
		proj := make(model.Record, len(fields))
		for _, f := range fields {
			proj[f] = r[f]
		}
		out = append(out, proj)
	}
	return out, nil
}

func (s *FakeStore) Insert(_ context.Context, table string, rows []model.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertCalls = append(s.insertCalls, len(rows))
	if s.FailOnInsert == len(s.insertCalls) {
		return 0, fmt.Errorf("injected insert failure on call %d", len(s.insertCalls))
	}

	fields, enforce := s.unique[table]
	existing := make(map[string]bool)
	if enforce {
		for _, r := range s.rows[table] {
			existing[model.UniqueKey(r, fields)] = true
		}
	}

	inserted := 0
	for _, r := range rows {
		if enforce {
			k := model.UniqueKey(r, fields)
			if existing[k] {
				continue
			}
			existing[k] = true
		}
		s.rows[table] = append(s.rows[table], r)
		inserted++
	}
	return inserted, nil
}

// Rows returns a copy of the rows stored in table.
func (s *FakeStore) Rows(table string) []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Record(nil), s.rows[table]...)
}

// InsertCalls returns the batch size of every insert call, in order.
func (s *FakeStore) InsertCalls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.insertCalls...)
}

// KeysCalls returns how many times Keys was called.
func (s *FakeStore) KeysCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keysCalls
}

// RecordingInvalidator remembers every invalidated table.
type RecordingInvalidator struct {
	mu     sync.Mutex
	tables []string
}

func (r *RecordingInvalidator) InvalidateTable(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = append(r.tables, table)
}

// Tables returns the invalidated tables in call order.
func (r *RecordingInvalidator) Tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tables...)
}
