package hash

import (
	"testing"

	"github.com/owlconnect/snapdiff/internal/normalize"
)

func TestDigestDeterminism(t *testing.T) {
	norm := map[string]string{"name": "alice", "dept": "eng"}

	d1 := Digest(norm)
	d2 := Digest(norm)

	if d1 != d2 {
		t.Error("same normalized row should produce same digest")
	}

	if len(d1) != 64 {
		t.Errorf("expected digest length 64, got %d", len(d1))
	}
}

func TestDigestKeyOrderInvariance(t *testing.T) {
	// Maps carry no order, so build the canonical input through normalization
	// of two rows declared in different field order.
	r1 := normalize.Row(map[string]any{"a": "1", "b": "2", "c": "3"}, nil)
	r2 := normalize.Row(map[string]any{"c": "3", "a": "1", "b": "2"}, nil)

	if Digest(r1) != Digest(r2) {
		t.Error("field order should not affect the digest")
	}
}

func TestDigestDistinguishesContent(t *testing.T) {
	d1 := Digest(map[string]string{"name": "alice"})
	d2 := Digest(map[string]string{"name": "bob"})

	if d1 == d2 {
		t.Error("different content should produce different digests")
	}
}

func TestDigestKeyValueBoundary(t *testing.T) {
	// Values containing the delimiter bytes must not collide with rows where
	// those bytes really are delimiters.
	cases := []struct {
		name   string
		r1, r2 map[string]string
	}{
		{"value embeds entry separator",
			map[string]string{"a": "b|c:d"},
			map[string]string{"a": "b", "c": "d"}},
		{"value embeds key separator",
			map[string]string{"a": "b:c"},
			map[string]string{"a:b": "c"}},
		{"value embeds escape byte",
			map[string]string{"a": `\`, "b": "c"},
			map[string]string{"a": `\|b:c`}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if Digest(tc.r1) == Digest(tc.r2) {
				t.Error("serialization boundary collision")
			}
		})
	}
}

func TestDigestExclusionInvariance(t *testing.T) {
	r1 := normalize.Row(map[string]any{"name": "Alice", "updated_at": "2024-01-01"}, normalize.DefaultExcludedColumns)
	r2 := normalize.Row(map[string]any{"name": "Alice", "updated_at": "2025-06-30"}, normalize.DefaultExcludedColumns)

	if Digest(r1) != Digest(r2) {
		t.Error("changing only an excluded column should not change the digest")
	}
}

func TestCalculateString(t *testing.T) {
	h1 := CalculateString("test string")
	h2 := CalculateString("test string")

	if h1 != h2 {
		t.Error("same string should produce same hash")
	}

	if len(h1) != 64 {
		t.Errorf("expected hash length 64, got %d", len(h1))
	}
}
