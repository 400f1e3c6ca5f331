package keystore

import (
	"context"
	"sync"

	"github.com/benaskins/credence/internal/service"
)

type recordKey struct {
	user    string
	service service.ID
}

// MemoryStore is an in-memory implementation of Store. Contents live for
// the lifetime of the value.
type MemoryStore struct {
	mu        sync.RWMutex
	validator Validator
	records   map[recordKey]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(v Validator) *MemoryStore {
	return &MemoryStore{validator: v, records: make(map[recordKey]Record)}
}

func (s *MemoryStore) Get(_ context.Context, userID string, svc service.ID) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{userID, svc}]
	if !ok {
		return Record{}, false, nil
	}
	return clone(rec), true, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	rec, err := prepare(s.validator, rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{rec.UserID, rec.Service}] = clone(rec)
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for k, rec := range s.records {
		if k.user == userID {
			out = append(out, clone(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string, svc service.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{userID, svc}
	_, ok := s.records[k]
	delete(s.records, k)
	return ok, nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, svc service.ID, fn func(*Record) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{userID, svc}
	rec, ok := s.records[k]
	if !ok {
		return false, nil
	}
	next, changed, err := apply(s.validator, rec, fn)
	if err != nil || !changed {
		return true, err
	}
	s.records[k] = clone(next)
	return true, nil
}
