package store

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/owlconnect/snapdiff/internal/cdc"
)

// End-to-end over the real file-backed store: digests must survive the JSON
// round trip through persistence, including numeric and null fields.
func TestReconcileAgainstBolt(t *testing.T) {
	st := openTestBolt(t)
	ctx := context.Background()

	r := cdc.NewReconciler(st, nil, hclog.NewNullLogger())

	rows := []cdc.Row{
		{"full_name": "Alice Smith", "year_graduated": 2024.0, "linkedin": nil},
		{"full_name": "Bob Jones", "year_graduated": 2019.0, "linkedin": "bob-jones"},
	}

	summary, err := r.Run(ctx, "owl-connect-export", rows)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if summary.Inserts != 2 || summary.Deletes != 0 || summary.Unchanged != 0 {
		t.Fatalf("unexpected first-run summary: %+v", summary)
	}

	// A fresh reconciler (as after a process restart) replaying the same
	// dataset must see no changes.
	r2 := cdc.NewReconciler(st, nil, hclog.NewNullLogger())
	summary, err = r2.Run(ctx, "OWL_CONNECT_EXPORT", rows)
	if err != nil {
		t.Fatalf("replay run failed: %v", err)
	}
	if summary.Inserts != 0 || summary.Deletes != 0 || summary.Unchanged != 2 {
		t.Errorf("replay should be a no-op, got %+v", summary)
	}

	// One edited field surfaces as a delete+insert pair.
	rows[1]["linkedin"] = "bob-jones-cto"
	summary, err = r2.Run(ctx, "owl-connect-export", rows)
	if err != nil {
		t.Fatalf("edit run failed: %v", err)
	}
	if summary.Inserts != 1 || summary.Deletes != 1 || summary.Unchanged != 1 {
		t.Errorf("edit should surface as a pair, got %+v", summary)
	}

	changes, err := st.ReadChanges(ctx, "owl-connect-export")
	if err != nil {
		t.Fatalf("ReadChanges failed: %v", err)
	}
	if len(changes) != 4 {
		t.Errorf("expected 4 audit records (2 inserts + 1 pair), got %d", len(changes))
	}
}
