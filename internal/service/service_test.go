package service

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func textgen() Service {
	return Service{ID: "textgen", Name: "Text Gen", Category: CategoryText, Prefix: "sk-", MinLength: 20, EnvVar: "TEXTGEN_API_KEY"}
}

func TestCheck(t *testing.T) {
	s := textgen()

	tests := []struct {
		value string
		ok    bool
	}{
		{"sk-env-1234567890abcdef", true},
		{"sk-store-abcdefghij1234", true},
		{"sk-12345678901234567", false}, // exactly 20 chars
		{"sk-123456789012345678", true}, // 21 chars
		{"bad-key", false},
		{"pk-1234567890abcdefghijkl", false},
		{"", false},
	}
	for _, tt := range tests {
		err := s.Check(tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("Check(%q) = %v, want ok=%v", tt.value, err, tt.ok)
		}
		if err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Check(%q) error is %T, want *ValidationError", tt.value, err)
			}
		}
	}
}

func TestRegistryValidateUnknown(t *testing.T) {
	r, err := NewRegistry([]Service{textgen()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	err = r.Validate("nope", "sk-1234567890abcdefghijk")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Service != "nope" {
		t.Errorf("Service = %q, want nope", ve.Service)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Service{textgen(), textgen()})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestRegistryReplaceKeepsOldOnError(t *testing.T) {
	r, err := NewRegistry([]Service{textgen()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := r.Replace([]Service{{ID: ""}}); err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, ok := r.Lookup("textgen"); !ok {
		t.Error("old catalog should remain after failed replace")
	}

	if err := r.Replace([]Service{{ID: "audio", Category: CategoryAudio}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, ok := r.Lookup("textgen"); ok {
		t.Error("textgen should be gone after replace")
	}
	s, _ := r.Lookup("audio")
	if s.Name != "audio" {
		t.Errorf("Name defaulted to %q, want audio", s.Name)
	}
}

func TestByCategory(t *testing.T) {
	r, err := NewRegistry(Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	grouped := r.ByCategory()
	for _, c := range []Category{CategoryText, CategoryVisual, CategoryVideo, CategoryAudio} {
		if len(grouped[c]) == 0 {
			t.Errorf("no services in category %s", c)
		}
	}
	text := grouped[CategoryText]
	for i := 1; i < len(text); i++ {
		if text[i-1].ID > text[i].ID {
			t.Errorf("category not sorted: %s before %s", text[i-1].ID, text[i].ID)
		}
	}
}

func TestMask(t *testing.T) {
	key := "sk-env-1234567890abcdef"
	m := Mask(key)
	if m != "sk-env-..." {
		t.Errorf("Mask = %q", m)
	}
	if Mask("") != "" {
		t.Error("empty value should mask to empty")
	}
	if got := Mask("abcd"); got != "ab..." {
		t.Errorf("short mask = %q, want ab...", got)
	}

	for i := 0; i+8 <= len(key); i++ {
		if strings.Contains(m, key[i:i+8]) {
			t.Fatalf("mask leaks %q", key[i:i+8])
		}
	}
}

func TestMaskMultibyte(t *testing.T) {
	for _, v := range []string{"ключ-секретный-длинный", "鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵", "é"} {
		m := Mask(v)
		if !utf8.ValidString(m) {
			t.Errorf("Mask(%q) = %q is not valid UTF-8", v, m)
		}
		prefix := strings.TrimSuffix(m, "...")
		if n := utf8.RuneCountInString(prefix); n > 7 || n > utf8.RuneCountInString(v)/2 {
			t.Errorf("Mask(%q) reveals %d runes", v, n)
		}
		if !strings.HasPrefix(v, prefix) {
			t.Errorf("Mask(%q) = %q is not a prefix", v, m)
		}
	}
	if got := Mask("鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵鍵"); got != "鍵鍵鍵鍵鍵鍵鍵..." {
		t.Errorf("Mask = %q", got)
	}
}
