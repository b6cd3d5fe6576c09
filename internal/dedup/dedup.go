// Package dedup decides which parsed records are not yet in the destination
// store. Everything here is a pure function of its inputs.
package dedup

import "sgcars-go/internal/model"

// KeySet is a set of UniqueKeys over a fixed list of key fields.
type KeySet struct {
	fields []string
	keys   map[string]struct{}
}

// NewKeySet builds the set of UniqueKeys of existing over fields.
func NewKeySet(fields []string, existing []model.Record) *KeySet {
	ks := &KeySet{
		fields: fields,
		keys:   make(map[string]struct{}, len(existing)),
	}
	for _, r := range existing {
		ks.keys[model.UniqueKey(r, fields)] = struct{}{}
	}
	return ks
}

// Len returns the number of distinct keys in the set.
func (ks *KeySet) Len() int { return len(ks.keys) }

// Contains reports whether r's UniqueKey is in the set.
func (ks *KeySet) Contains(r model.Record) bool {
	_, ok := ks.keys[model.UniqueKey(r, ks.fields)]
	return ok
}

// Add inserts r's UniqueKey and reports whether it was absent.
func (ks *KeySet) Add(r model.Record) bool {
	k := model.UniqueKey(r, ks.fields)
	if _, ok := ks.keys[k]; ok {
		return false
	}
	ks.keys[k] = struct{}{}
	return true
}

// Filter returns the records of incoming whose UniqueKey over fields is
// neither among existing nor repeated earlier in incoming. Order is kept, and
// of several records sharing a key only the first survives. Non-key fields
// are never compared.
func Filter(fields []string, existing, incoming []model.Record) []model.Record {
	ks := NewKeySet(fields, existing)
	fresh := make([]model.Record, 0, len(incoming))
	for _, r := range incoming {
		if ks.Add(r) {
			fresh = append(fresh, r)
		}
	}
	return fresh
}
