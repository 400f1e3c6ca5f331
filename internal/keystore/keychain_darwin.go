//go:build darwin

package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	gokeychain "github.com/keybase/go-keychain"

	"github.com/benaskins/credence/internal/service"
)

// ServiceName is the Keychain service attribute for all credence records.
const ServiceName = "com.credence"

// SystemStore keeps records in the macOS Keychain as generic passwords.
// The account is the escaped "<user>/<service>" and the password data is
// the JSON encoded Record. Items are never synced and are only readable
// while the machine is unlocked. Writes are serialized within the process.
type SystemStore struct {
	mu        sync.Mutex
	service   string
	validator Validator
}

// NewSystemStore creates a Keychain-backed store.
func NewSystemStore(v Validator) Store {
	return &SystemStore{service: ServiceName, validator: v}
}

func (s *SystemStore) Get(_ context.Context, userID string, svc service.ID) (Record, bool, error) {
	data, err := gokeychain.GetGenericPassword(s.service, account(userID, svc), "", "")
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: keychain get: %w", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("%w: decoding keychain item: %w", ErrUnavailable, err)
	}
	return rec, true, nil
}

func (s *SystemStore) Put(_ context.Context, rec Record) error {
	rec, err := prepare(s.validator, rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(rec)
}

// put replaces the item for rec. Update is delete + add, so callers hold mu.
func (s *SystemStore) put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	acct := account(rec.UserID, rec.Service)
	if err := gokeychain.DeleteGenericPasswordItem(s.service, acct); err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("%w: keychain replace %q: %w", ErrUnavailable, acct, err)
	}

	item := gokeychain.NewGenericPassword(s.service, acct, "credence: "+acct, data, "")
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)
	if err := gokeychain.AddItem(item); err != nil {
		return fmt.Errorf("%w: keychain add %q: %w", ErrUnavailable, acct, err)
	}
	return nil
}

func (s *SystemStore) List(ctx context.Context, userID string) ([]Record, error) {
	accounts, err := gokeychain.GetGenericPasswordAccounts(s.service)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: keychain list: %w", ErrUnavailable, err)
	}

	var out []Record
	for _, acct := range accounts {
		owner, svc, ok := parseAccount(acct)
		if !ok || owner != userID {
			continue
		}
		rec, ok, err := s.Get(ctx, userID, svc)
		if err != nil {
			return nil, err
		}
		if ok && rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *SystemStore) Delete(ctx context.Context, userID string, svc service.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok, err := s.Get(ctx, userID, svc)
	if err != nil || !ok {
		return false, err
	}
	if err := gokeychain.DeleteGenericPasswordItem(s.service, account(userID, svc)); err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return false, fmt.Errorf("%w: keychain delete: %w", ErrUnavailable, err)
	}
	return true, nil
}

func (s *SystemStore) Update(ctx context.Context, userID string, svc service.ID, fn func(*Record) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.Get(ctx, userID, svc)
	if err != nil || !ok {
		return false, err
	}
	next, changed, err := apply(s.validator, rec, fn)
	if err != nil || !changed {
		return true, err
	}
	return true, s.put(next)
}
