// Package keystore persists per-user provider credentials.
//
// Records are keyed by (user, service). Every implementation validates a
// record against its service's rule before writing, so a store never holds
// a credential that could not be returned by the resolver.
//
// Variants:
//   - MemoryStore: process lifetime only.
//   - FileStore: a JSON document mapping user IDs to record lists.
//   - SQLStore: a SQLite database.
//   - SystemStore: macOS Keychain (memory on other platforms).
package keystore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/benaskins/credence/internal/service"
)

// ErrUnavailable is wrapped by errors returned when the backing storage
// cannot be read or written.
var ErrUnavailable = errors.New("key store unavailable")

// Record is a stored credential.
type Record struct {
	UserID          string     `json:"user_id"`
	Service         service.ID `json:"service"`
	RawValue        string     `json:"raw_value"`
	CreatedAt       time.Time  `json:"created_at"`
	LastValidatedAt *time.Time `json:"last_validated_at"`
	Enabled         bool       `json:"enabled"`
}

// Validator checks a value against the rule of a service.
type Validator interface {
	Validate(id service.ID, value string) error
}

// Store is the interface for credential storage operations.
type Store interface {
	// Get returns the record for (userID, svc). The bool is false when
	// no record exists.
	Get(ctx context.Context, userID string, svc service.ID) (Record, bool, error)
	// Put inserts or overwrites the record. It returns a
	// *service.ValidationError if RawValue fails the service's rule.
	Put(ctx context.Context, rec Record) error
	// List returns the user's records sorted by service.
	List(ctx context.Context, userID string) ([]Record, error)
	// Delete removes the record and reports whether one existed.
	Delete(ctx context.Context, userID string, svc service.ID) (bool, error)
	// Update applies fn to the stored record for (userID, svc) with no
	// other write through the store in between. fn reports whether it
	// changed the record; a changed record is validated and written. The
	// bool is false when no record exists, in which case fn is not called.
	Update(ctx context.Context, userID string, svc service.ID, fn func(*Record) bool) (bool, error)
}

func prepare(v Validator, rec Record) (Record, error) {
	if err := v.Validate(rec.Service, rec.RawValue); err != nil {
		return Record{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return rec, nil
}

// apply runs fn on a copy of rec. The identity fields cannot be changed.
func apply(v Validator, rec Record, fn func(*Record) bool) (Record, bool, error) {
	next := clone(rec)
	if !fn(&next) {
		return rec, false, nil
	}
	next.UserID, next.Service = rec.UserID, rec.Service
	next, err := prepare(v, next)
	if err != nil {
		return rec, false, err
	}
	return next, true, nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Service < recs[j].Service })
}

// clone copies rec so callers cannot reach the store's LastValidatedAt.
func clone(rec Record) Record {
	if rec.LastValidatedAt != nil {
		t := *rec.LastValidatedAt
		rec.LastValidatedAt = &t
	}
	return rec
}
