package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/benaskins/credence/internal/service"
)

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "keys.json")
	s := NewFileStore(path, testRegistry(t))

	if err := s.Put(ctx, record("u1", "textgen", validKey)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	recs := doc["u1"]
	if len(recs) != 1 {
		t.Fatalf("expected 1 record for u1, got %d", len(recs))
	}
	if recs[0]["raw_value"] != validKey {
		t.Errorf("raw_value = %v", recs[0]["raw_value"])
	}
	if recs[0]["service"] != "textgen" {
		t.Errorf("service = %v", recs[0]["service"])
	}
	if _, ok := recs[0]["last_validated_at"]; !ok {
		t.Error("last_validated_at should be present (null)")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.json")
	reg := testRegistry(t)

	if err := NewFileStore(path, reg).Put(ctx, record("u1", "textgen", validKey)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec, ok, err := NewFileStore(path, reg).Get(ctx, "u1", "textgen")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if rec.RawValue != validKey {
		t.Errorf("RawValue = %q", rec.RawValue)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path, testRegistry(t))

	_, ok, err := s.Get(ctx, "u1", "textgen")
	if ok {
		t.Error("corrupt store should not yield a record")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get error = %v, want ErrUnavailable", err)
	}

	// A write heals the store and keeps the corrupt copy for inspection.
	if err := s.Put(ctx, record("u1", "textgen", validKey)); err != nil {
		t.Fatalf("Put on corrupt store: %v", err)
	}
	if _, ok, err := s.Get(ctx, "u1", "textgen"); err != nil || !ok {
		t.Errorf("Get after heal: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("expected corrupt backup: %v", err)
	}
}

func TestFileStoreUndecodableDocuments(t *testing.T) {
	for name, content := range map[string]string{
		"null document":  "null",
		"bad timestamp":  `{"u2":[{"service":"textgen","raw_value":"x","created_at":"yesterday"}]}`,
		"records object": `{"u2":{"service":"textgen"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "keys.json")
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatal(err)
			}
			s := NewFileStore(path, testRegistry(t))

			if _, ok, _ := s.Get(ctx, "u1", "textgen"); ok {
				t.Error("undecodable store should not yield a record")
			}
			if err := s.Put(ctx, record("u1", "textgen", validKey)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if _, ok, err := s.Get(ctx, "u1", "textgen"); err != nil || !ok {
				t.Errorf("Get after Put: ok=%v err=%v", ok, err)
			}
			if ok, err := s.Delete(ctx, "u1", "textgen"); err != nil || !ok {
				t.Errorf("Delete: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	recs, err := NewFileStore(path, testRegistry(t)).List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty list, got %d", len(recs))
	}
}

func TestFileStoreDeleteLastRecordDropsUser(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.json")
	s := NewFileStore(path, testRegistry(t))

	s.Put(ctx, record("u1", "textgen", validKey))
	s.Put(ctx, record("u2", "textgen", validKey2))
	if ok, err := s.Delete(ctx, "u1", "textgen"); err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}

	data, _ := os.ReadFile(path)
	var doc map[string]json.RawMessage
	json.Unmarshal(data, &doc)
	if _, ok := doc["u1"]; ok {
		t.Error("user with no records should be removed from the document")
	}
	if _, ok := doc["u2"]; !ok {
		t.Error("other user lost")
	}
}

func TestFileStoreConcurrentWritersKeepSiblings(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.json")
	reg := testRegistry(t)

	// Two handles on the same file mimic separate request paths.
	a := NewFileStore(path, reg)
	b := NewFileStore(path, reg)

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(2)
		user := fmt.Sprintf("user-%02d", i)
		go func() {
			defer wg.Done()
			if err := a.Put(ctx, record(user, "textgen", validKey)); err != nil {
				t.Errorf("Put textgen: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := b.Put(ctx, record(user, "imagegen", validKey2)); err != nil {
				t.Errorf("Put imagegen: %v", err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < users; i++ {
		user := fmt.Sprintf("user-%02d", i)
		recs, err := a.List(ctx, user)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("%s: expected 2 records, got %d", user, len(recs))
		}
	}
}

func TestFileStoreUnknownServiceNotWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	s := NewFileStore(path, testRegistry(t))

	err := s.Put(context.Background(), record("u1", service.ID("nope"), validKey))
	if err == nil {
		t.Fatal("expected error")
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("rejected put should not create the store file")
	}
}
