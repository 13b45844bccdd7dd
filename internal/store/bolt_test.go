package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/owlconnect/snapdiff/internal/cdc"
)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "snapdiff-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	store, err := OpenBolt(tmpfile.Name(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	return store
}

func TestBoltInitSchemaIdempotent(t *testing.T) {
	store := openTestBolt(t)

	if err := store.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema should succeed: %v", err)
	}
}

func TestBoltSnapshotRoundTrip(t *testing.T) {
	store := openTestBolt(t)
	ctx := context.Background()

	snap := &cdc.Snapshot{
		TableName: "owl-connect-export",
		Records: []cdc.Record{
			{ID: "digest-a", Data: cdc.Row{"name": "alice", "dept": "eng"}},
			{ID: "digest-b", Data: cdc.Row{"name": "bob", "dept": "sales"}},
		},
	}

	if err := store.ReplaceSnapshot(ctx, snap.TableName, snap); err != nil {
		t.Fatalf("ReplaceSnapshot failed: %v", err)
	}

	tables, err := store.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 1 || tables[0] != "owl-connect-export" {
		t.Errorf("unexpected table listing: %v", tables)
	}

	read, err := store.ReadSnapshot(ctx, snap.TableName)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(read.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(read.Records))
	}

	byID := make(map[string]cdc.Row)
	for _, rec := range read.Records {
		byID[rec.ID] = rec.Data
	}
	if byID["digest-a"]["name"] != "alice" {
		t.Errorf("unexpected row data: %v", byID["digest-a"])
	}
}

func TestBoltReplaceOverwritesWholeTable(t *testing.T) {
	store := openTestBolt(t)
	ctx := context.Background()

	first := &cdc.Snapshot{
		TableName: "attendees",
		Records:   []cdc.Record{{ID: "a", Data: cdc.Row{"name": "alice"}}},
	}
	if err := store.ReplaceSnapshot(ctx, first.TableName, first); err != nil {
		t.Fatalf("ReplaceSnapshot failed: %v", err)
	}

	second := &cdc.Snapshot{
		TableName: "attendees",
		Records:   []cdc.Record{{ID: "b", Data: cdc.Row{"name": "bob"}}},
	}
	if err := store.ReplaceSnapshot(ctx, second.TableName, second); err != nil {
		t.Fatalf("ReplaceSnapshot failed: %v", err)
	}

	read, err := store.ReadSnapshot(ctx, "attendees")
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(read.Records) != 1 || read.Records[0].ID != "b" {
		t.Errorf("replacement should overwrite wholesale, got %+v", read.Records)
	}
}

func TestBoltReadMissingSnapshot(t *testing.T) {
	store := openTestBolt(t)

	snap, err := store.ReadSnapshot(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(snap.Records) != 0 {
		t.Errorf("missing table should read as empty, got %d records", len(snap.Records))
	}
}

func TestBoltAppendAssignsMonotonicIDs(t *testing.T) {
	store := openTestBolt(t)
	ctx := context.Background()

	batch := func(runID string) []cdc.ChangeRecord {
		return []cdc.ChangeRecord{
			{ChangeType: cdc.ChangeInsert, TableName: "attendees", RecordID: "d1",
				NewData: cdc.Row{"name": "alice"}, ChangedAt: time.Now().UTC(), RunID: runID},
			{ChangeType: cdc.ChangeDelete, TableName: "attendees", RecordID: "d2",
				OldData: cdc.Row{"name": "bob"}, ChangedAt: time.Now().UTC(), RunID: runID},
		}
	}

	if err := store.Append(ctx, batch("run-1")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, batch("run-2")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records, err := store.ReadChanges(ctx, "attendees")
	if err != nil {
		t.Fatalf("ReadChanges failed: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}

	var last uint64
	for _, rec := range records {
		if rec.ID <= last {
			t.Errorf("ids should be strictly increasing: %d after %d", rec.ID, last)
		}
		last = rec.ID
	}

	if records[0].RunID != "run-1" || records[3].RunID != "run-2" {
		t.Error("records should retain their run ids")
	}
	if records[1].ChangeType != cdc.ChangeDelete || records[1].OldData == nil {
		t.Error("DELETE record should round-trip old_data")
	}
}

func TestBoltCommitRun(t *testing.T) {
	store := openTestBolt(t)
	ctx := context.Background()

	snap := &cdc.Snapshot{
		TableName: "attendees",
		Records:   []cdc.Record{{ID: "d1", Data: cdc.Row{"name": "alice"}}},
	}
	records := []cdc.ChangeRecord{
		{ChangeType: cdc.ChangeInsert, TableName: "attendees", RecordID: "d1",
			NewData: cdc.Row{"name": "alice"}, ChangedAt: time.Now().UTC(), RunID: "run-1"},
	}

	if err := store.CommitRun(ctx, "attendees", snap, records); err != nil {
		t.Fatalf("CommitRun failed: %v", err)
	}

	read, err := store.ReadSnapshot(ctx, "attendees")
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(read.Records) != 1 {
		t.Errorf("expected snapshot to be visible after CommitRun, got %d records", len(read.Records))
	}

	changes, err := store.ReadChanges(ctx, "attendees")
	if err != nil {
		t.Fatalf("ReadChanges failed: %v", err)
	}
	if len(changes) != 1 {
		t.Errorf("expected change log to be visible after CommitRun, got %d records", len(changes))
	}
}
