// Package docstore is a JSON document store in the spirit of lowdb: a single
// document of named collections, each a list of flat records, held in memory
// and written back to a Backend after every mutation.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

const (
	CollectionUsers       = "users"
	CollectionResetTokens = "password_reset_tokens"
)

// Record is a single flat document.
type Record = map[string]any

// Backend persists the serialized document. Load returns nil data when
// nothing has been stored yet.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Store is safe for concurrent use. Each mutation is applied and persisted
// under one lock; a failed write leaves the in-memory document unchanged.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	data    map[string][]Record
}

// Open loads the document from backend, creating the credential collections
// if they are missing.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	raw, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("docstore: load: %w", err)
	}

	data := make(map[string][]Record)
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return nil, fmt.Errorf("docstore: decode: %w", err)
		}
	}
	for _, c := range []string{CollectionUsers, CollectionResetTokens} {
		if data[c] == nil {
			data[c] = []Record{}
		}
	}

	return &Store{backend: backend, data: data}, nil
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Collections returns the collection names in sorted order.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasCollection reports whether name exists.
func (s *Store) HasCollection(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[name]
	return ok
}

// Snapshot returns a copy of the whole document.
func (s *Store) Snapshot() map[string][]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Record, len(s.data))
	for name, recs := range s.data {
		out[name] = copyRecords(recs)
	}
	return out
}

// Filter returns copies of all records in collection accepted by match.
// A nil match accepts everything.
func (s *Store) Filter(collection string, match func(Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.data[collection] {
		if match == nil || match(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

// Find returns a copy of the first record accepted by match.
func (s *Store) Find(collection string, match func(Record) bool) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.data[collection] {
		if match(rec) {
			return copyRecord(rec), true
		}
	}
	return nil, false
}

// Push appends rec to collection, creating the collection if needed.
func (s *Store) Push(ctx context.Context, collection string, rec Record) error {
	return s.mutate(ctx, collection, func(recs []Record) ([]Record, error) {
		return append(recs, copyRecord(rec)), nil
	})
}

// Assign merges patch into the first record accepted by match. It reports
// whether a record was found.
func (s *Store) Assign(ctx context.Context, collection string, match func(Record) bool, patch Record) (bool, error) {
	found := false
	err := s.mutate(ctx, collection, func(recs []Record) ([]Record, error) {
		for i, rec := range recs {
			if !match(rec) {
				continue
			}
			updated := copyRecord(rec)
			for k, v := range patch {
				updated[k] = v
			}
			recs[i] = updated
			found = true
			break
		}
		return recs, nil
	})
	return found, err
}

// Replace swaps the first record accepted by match for rec.
func (s *Store) Replace(ctx context.Context, collection string, match func(Record) bool, rec Record) (bool, error) {
	found := false
	err := s.mutate(ctx, collection, func(recs []Record) ([]Record, error) {
		for i := range recs {
			if match(recs[i]) {
				recs[i] = copyRecord(rec)
				found = true
				break
			}
		}
		return recs, nil
	})
	return found, err
}

// Remove deletes every record accepted by match and returns how many were removed.
func (s *Store) Remove(ctx context.Context, collection string, match func(Record) bool) (int, error) {
	removed := 0
	err := s.mutate(ctx, collection, func(recs []Record) ([]Record, error) {
		kept := recs[:0]
		for _, rec := range recs {
			if match(rec) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		return kept, nil
	})
	return removed, err
}

// mutate applies fn to a private copy of collection and persists the result.
func (s *Store) mutate(ctx context.Context, collection string, fn func([]Record) ([]Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[collection]
	working := make([]Record, len(prev))
	copy(working, prev)

	next, err := fn(working)
	if err != nil {
		return err
	}
	if next == nil {
		next = []Record{}
	}
	s.data[collection] = next

	if err := s.persist(ctx); err != nil {
		if existed {
			s.data[collection] = prev
		} else {
			delete(s.data, collection)
		}
		return err
	}
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encode: %w", err)
	}
	if err := s.backend.Save(ctx, raw); err != nil {
		return fmt.Errorf("docstore: save: %w", err)
	}
	return nil
}

// FieldEquals matches records whose field has the given string form.
func FieldEquals(field, value string) func(Record) bool {
	return func(rec Record) bool {
		v, ok := rec[field]
		return ok && StringValue(v) == value
	}
}

// StringValue renders scalar JSON values the way they are compared in queries,
// so that legacy integer ids match their string form.
func StringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func copyRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, rec := range recs {
		out[i] = copyRecord(rec)
	}
	return out
}
