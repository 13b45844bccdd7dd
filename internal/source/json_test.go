package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadJSONArray(t *testing.T) {
	path := writeTemp(t, `[
		{"name": "Alice", "dept": "Eng"},
		{"name": "Bob", "dept": "Sales"}
	]`)

	ds, err := ReadJSON(path, "attendees")
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}

	if ds.Table != "attendees" {
		t.Errorf("expected table attendees, got %s", ds.Table)
	}
	if len(ds.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(ds.Rows))
	}
	if ds.Rows[0]["name"] != "Alice" {
		t.Errorf("unexpected row: %v", ds.Rows[0])
	}
}

func TestReadJSONWrappedArray(t *testing.T) {
	path := writeTemp(t, `{"attendees": [{"fullName": "Alice", "yearGraduated": 2024}]}`)

	ds, err := ReadJSON(path, "attendees")
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}

	if len(ds.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(ds.Rows))
	}
	// Column names are sanitized on the way in.
	if _, ok := ds.Rows[0]["fullname"]; !ok {
		t.Errorf("expected sanitized column fullname, got %v", ds.Rows[0])
	}
	if _, ok := ds.Rows[0]["yeargraduated"]; !ok {
		t.Errorf("expected sanitized column yeargraduated, got %v", ds.Rows[0])
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	_, err := ReadJSON("/nonexistent/dataset.json", "attendees")
	if err == nil {
		t.Fatal("expected error")
	}

	var re *ReadError
	if !errors.As(err, &re) {
		t.Errorf("expected ReadError, got %T", err)
	}
}

func TestReadJSONMalformed(t *testing.T) {
	path := writeTemp(t, `{"attendees": "not an array"}`)

	_, err := ReadJSON(path, "attendees")
	if err == nil {
		t.Fatal("expected error for file without row array")
	}
	var re *ReadError
	if !errors.As(err, &re) {
		t.Errorf("expected ReadError, got %T", err)
	}
}

func TestSanitizeColumn(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Full Name", "full_name"},
		{"Event Detail Report", "event_detail_report"},
		{"E-mail (primary)", "e_mail_primary"},
		{"2024 Status", "col_2024_status"},
		{"__weird__", "weird"},
		{"%%%", "col"},
	}

	for _, tt := range tests {
		if got := SanitizeColumn(tt.in); got != tt.want {
			t.Errorf("SanitizeColumn(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
