package keystore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benaskins/credence/internal/service"
)

const (
	validKey  = "sk-store-abcdefghij1234"
	validKey2 = "sk-other-abcdefghij5678"
)

func testRegistry(t *testing.T) *service.Registry {
	t.Helper()
	reg, err := service.NewRegistry([]service.Service{
		{ID: "textgen", Category: service.CategoryText, Prefix: "sk-", MinLength: 20},
		{ID: "imagegen", Category: service.CategoryVisual, Prefix: "sk-", MinLength: 20},
		{ID: "voice", Category: service.CategoryAudio, MinLength: 10},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

// stores returns a fresh instance of every portable Store implementation.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	reg := testRegistry(t)
	dir := t.TempDir()

	sqlStore, err := OpenSQLStore(filepath.Join(dir, "keys.db"), reg)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(reg),
		"file":   NewFileStore(filepath.Join(dir, "nested", "keys.json"), reg),
		"sqlite": sqlStore,
	}
}

func record(user string, svc service.ID, value string) Record {
	return Record{UserID: user, Service: svc, RawValue: value, Enabled: true}
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			validated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			rec := record("u1", "textgen", validKey)
			rec.LastValidatedAt = &validated

			if err := s.Put(ctx, rec); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, ok, err := s.Get(ctx, "u1", "textgen")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !ok {
				t.Fatal("expected record to exist")
			}
			if got.RawValue != validKey {
				t.Errorf("RawValue = %q, want %q", got.RawValue, validKey)
			}
			if !got.Enabled {
				t.Error("expected Enabled")
			}
			if got.CreatedAt.IsZero() {
				t.Error("CreatedAt should be set on put")
			}
			if got.LastValidatedAt == nil || !got.LastValidatedAt.Equal(validated) {
				t.Errorf("LastValidatedAt = %v, want %v", got.LastValidatedAt, validated)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "nobody", "textgen")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if ok {
				t.Error("expected no record")
			}
		})
	}
}

func TestPutRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, rec := range []Record{
				record("u1", "textgen", "bad-key"),
				record("u1", "textgen", "sk-short"),
				record("u1", "unknown", validKey),
			} {
				err := s.Put(ctx, rec)
				var ve *service.ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("Put(%s, %q) = %v, want ValidationError", rec.Service, rec.RawValue, err)
				}
			}

			recs, err := s.List(ctx, "u1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(recs) != 0 {
				t.Errorf("expected nothing stored, got %d records", len(recs))
			}
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Put(ctx, record("u1", "textgen", validKey))
			s.Put(ctx, record("u1", "textgen", validKey2))

			recs, err := s.List(ctx, "u1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(recs) != 1 {
				t.Fatalf("expected 1 record, got %d", len(recs))
			}
			if recs[0].RawValue != validKey2 {
				t.Errorf("expected latest value, got %q", recs[0].RawValue)
			}
		})
	}
}

func TestListSortedPerUser(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Put(ctx, record("u1", "voice", "voice-key-12345"))
			s.Put(ctx, record("u1", "textgen", validKey))
			s.Put(ctx, record("u1", "imagegen", validKey2))
			s.Put(ctx, record("u2", "textgen", validKey2))

			recs, err := s.List(ctx, "u1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []service.ID{"imagegen", "textgen", "voice"}
			if len(recs) != len(want) {
				t.Fatalf("expected %d records, got %d", len(want), len(recs))
			}
			for i, id := range want {
				if recs[i].Service != id {
					t.Errorf("recs[%d] = %s, want %s", i, recs[i].Service, id)
				}
				if recs[i].UserID != "u1" {
					t.Errorf("recs[%d] belongs to %s", i, recs[i].UserID)
				}
			}
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Put(ctx, record("u1", "textgen", validKey))
			s.Put(ctx, record("u1", "imagegen", validKey2))

			ok, err := s.Delete(ctx, "u1", "textgen")
			if err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if !ok {
				t.Error("expected Delete to report an existing record")
			}

			if _, found, _ := s.Get(ctx, "u1", "textgen"); found {
				t.Error("record still present after delete")
			}
			if _, found, _ := s.Get(ctx, "u1", "imagegen"); !found {
				t.Error("sibling record removed by delete")
			}

			ok, err = s.Delete(ctx, "u1", "textgen")
			if err != nil {
				t.Fatalf("Delete again: %v", err)
			}
			if ok {
				t.Error("second delete should report false")
			}
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(testRegistry(t))

	now := time.Now()
	rec := record("u1", "textgen", validKey)
	rec.LastValidatedAt = &now
	s.Put(ctx, rec)

	got, _, _ := s.Get(ctx, "u1", "textgen")
	*got.LastValidatedAt = time.Time{}

	again, _, _ := s.Get(ctx, "u1", "textgen")
	if again.LastValidatedAt.IsZero() {
		t.Error("mutating a returned record changed the store")
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			called := false
			ok, err := s.Update(ctx, "u1", "textgen", func(*Record) bool {
				called = true
				return true
			})
			if err != nil || ok || called {
				t.Fatalf("Update on missing record: ok=%v err=%v called=%v", ok, err, called)
			}
			if _, found, _ := s.Get(ctx, "u1", "textgen"); found {
				t.Fatal("Update must not create a record")
			}

			if err := s.Put(ctx, record("u1", "textgen", validKey)); err != nil {
				t.Fatalf("Put: %v", err)
			}

			validated := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
			ok, err = s.Update(ctx, "u1", "textgen", func(rec *Record) bool {
				rec.Enabled = false
				rec.LastValidatedAt = &validated
				rec.UserID = "someone-else"
				return true
			})
			if err != nil || !ok {
				t.Fatalf("Update: ok=%v err=%v", ok, err)
			}
			got, found, _ := s.Get(ctx, "u1", "textgen")
			if !found {
				t.Fatal("record lost after update")
			}
			if got.Enabled {
				t.Error("Enabled should be false after update")
			}
			if got.LastValidatedAt == nil || !got.LastValidatedAt.Equal(validated) {
				t.Errorf("LastValidatedAt = %v, want %v", got.LastValidatedAt, validated)
			}
			if recs, _ := s.List(ctx, "someone-else"); len(recs) != 0 {
				t.Error("Update must not move a record to another user")
			}

			_, err = s.Update(ctx, "u1", "textgen", func(rec *Record) bool {
				rec.RawValue = "bad-key"
				return true
			})
			var ve *service.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("invalid update error = %v, want ValidationError", err)
			}
			got, _, _ = s.Get(ctx, "u1", "textgen")
			if got.RawValue != validKey {
				t.Errorf("RawValue = %q after rejected update, want %q", got.RawValue, validKey)
			}

			ok, err = s.Update(ctx, "u1", "textgen", func(rec *Record) bool {
				rec.RawValue = validKey2
				return false
			})
			if err != nil || !ok {
				t.Fatalf("no-op Update: ok=%v err=%v", ok, err)
			}
			got, _, _ = s.Get(ctx, "u1", "textgen")
			if got.RawValue != validKey {
				t.Error("Update that reports no change must not write")
			}
		})
	}
}
