package cdc

import (
	"context"
	"time"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeDelete ChangeType = "DELETE"
)

// Row is one dataset row: sanitized column name to scalar value.
type Row = map[string]any

// ChangeRecord is one immutable audit entry. ID is assigned by the change log
// backend on append; RunID groups every record produced by one reconciliation
// run.
type ChangeRecord struct {
	ID         uint64     `json:"id"`
	ChangeType ChangeType `json:"change_type"`
	TableName  string     `json:"table_name"`
	RecordID   string     `json:"record_id"`
	OldData    Row        `json:"old_data,omitempty"`
	NewData    Row        `json:"new_data,omitempty"`
	ChangedAt  time.Time  `json:"changed_at"`
	RunID      string     `json:"run_id"`
}

// Record is one persisted snapshot row: its content digest plus the row data.
type Record struct {
	ID   string `json:"record_id"`
	Data Row    `json:"data"`
}

// Snapshot is the full state of one table at one point in time.
type Snapshot struct {
	TableName string
	Records   []Record
}

// Summary reports one reconciliation run. TotalProcessed counts every row that
// was classified: inserts + deletes + unchanged.
type Summary struct {
	RunID          string
	Inserts        int
	Deletes        int
	Unchanged      int
	TotalProcessed int
}

// SnapshotStore persists table snapshots. Replacement, not update, is the
// storage primitive: ReplaceSnapshot overwrites the whole table atomically.
type SnapshotStore interface {
	ListTables(ctx context.Context) ([]string, error)
	ReadSnapshot(ctx context.Context, name string) (*Snapshot, error)
	ReplaceSnapshot(ctx context.Context, name string, snap *Snapshot) error
}

// ChangeLog durably appends audit records. Append is atomic over the batch:
// either every record of a run is written or none are. InitSchema is
// idempotent and must be called before the first write of the process.
type ChangeLog interface {
	InitSchema(ctx context.Context) error
	Append(ctx context.Context, records []ChangeRecord) error
	ReadChanges(ctx context.Context, table string) ([]ChangeRecord, error)
}

// Store is a backend providing both snapshot and change log persistence.
type Store interface {
	SnapshotStore
	ChangeLog
	Close() error
}

// RunCommitter is implemented by stores that can append the change batch and
// replace the snapshot in a single transaction, closing the consistency gap
// between the two durable writes. The reconciler prefers this path when the
// store offers it.
type RunCommitter interface {
	CommitRun(ctx context.Context, name string, snap *Snapshot, records []ChangeRecord) error
}
