package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/benaskins/credence/internal/service"
)

// document is the on-disk layout: user ID to that user's records.
type document map[string][]Record

// errCorrupt marks a store file that was read but could not be decoded.
var errCorrupt = errors.New("corrupt key store")

// FileStore persists records to a single JSON file.
//
// Writes are read-modify-write under a mutex and an advisory lock on a
// sibling ".lock" file, so concurrent writers in this or another process
// never drop each other's records. The file is replaced via rename.
type FileStore struct {
	mu        sync.Mutex
	path      string
	validator Validator
	logger    *slog.Logger
}

// NewFileStore returns a store backed by path. Neither the file nor its
// directory needs to exist yet; both are created on first write.
func NewFileStore(path string, v Validator) *FileStore {
	return &FileStore{
		path:      path,
		validator: v,
		logger:    slog.With("component", "keystore", "path", path),
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, userID string, svc service.ID) (Record, bool, error) {
	doc, err := s.load()
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range doc[userID] {
		if rec.Service == svc {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (s *FileStore) List(_ context.Context, userID string) ([]Record, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	recs := doc[userID]
	sortRecords(recs)
	return recs, nil
}

func (s *FileStore) Put(_ context.Context, rec Record) error {
	rec, err := prepare(s.validator, rec)
	if err != nil {
		return err
	}

	return s.update(func(doc document) bool {
		recs := doc[rec.UserID]
		for i := range recs {
			if recs[i].Service == rec.Service {
				recs[i] = rec
				return true
			}
		}
		recs = append(recs, rec)
		sortRecords(recs)
		doc[rec.UserID] = recs
		return true
	})
}

func (s *FileStore) Delete(_ context.Context, userID string, svc service.ID) (bool, error) {
	var found bool
	err := s.update(func(doc document) bool {
		recs := doc[userID]
		for i := range recs {
			if recs[i].Service == svc {
				found = true
				recs = append(recs[:i], recs[i+1:]...)
				break
			}
		}
		if !found {
			return false
		}
		if len(recs) == 0 {
			delete(doc, userID)
		} else {
			doc[userID] = recs
		}
		return true
	})
	return found, err
}

func (s *FileStore) Update(_ context.Context, userID string, svc service.ID, fn func(*Record) bool) (bool, error) {
	var (
		found bool
		fnErr error
	)
	err := s.update(func(doc document) bool {
		recs := doc[userID]
		for i := range recs {
			if recs[i].Service != svc {
				continue
			}
			found = true
			next, changed, err := apply(s.validator, recs[i], fn)
			if err != nil || !changed {
				fnErr = err
				return false
			}
			recs[i] = next
			return true
		}
		return false
	})
	if err != nil {
		return found, err
	}
	return found, fnErr
}

// update runs fn on the current document and saves it if fn reports a
// change. A corrupt document is moved aside and treated as empty.
func (s *FileStore) update(fn func(document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("%w: creating store dir: %w", ErrUnavailable, err)
	}

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("%w: locking store: %w", ErrUnavailable, err)
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		if !errors.Is(err, errCorrupt) {
			return err
		}
		s.logger.Warn("corrupt key store, starting fresh", "error", err)
		if mvErr := os.Rename(s.path, s.path+".corrupt"); mvErr != nil {
			s.logger.Warn("could not move corrupt key store aside", "error", mvErr)
		}
		doc = document{}
	}

	if !fn(doc) {
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return document{}, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrUnavailable, s.path, err)
	}
	if len(data) == 0 {
		return document{}, nil
	}

	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w: parsing %s: %w", ErrUnavailable, errCorrupt, s.path, err)
	}
	// A literal null decodes to a nil map.
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

func (s *FileStore) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("%w: writing store: %w", ErrUnavailable, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: replacing store: %w", ErrUnavailable, err)
	}
	return nil
}
