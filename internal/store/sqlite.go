package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/owlconnect/snapdiff/internal/cdc"
	_ "modernc.org/sqlite"
)

const (
	sqliteSnapshotsDDL = `CREATE TABLE IF NOT EXISTS snapshots (
    table_name TEXT NOT NULL,
    record_id  TEXT NOT NULL,
    data       TEXT NOT NULL,
    PRIMARY KEY (table_name, record_id)
)`

	sqliteChangeLogDDL = `CREATE TABLE IF NOT EXISTS change_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    change_type TEXT NOT NULL,
    table_name  TEXT NOT NULL,
    record_id   TEXT NOT NULL,
    old_data    TEXT,
    new_data    TEXT,
    changed_at  TEXT NOT NULL,
    run_id      TEXT NOT NULL
)`
)

// SQLite persists snapshots and the change log in an embedded SQLite file,
// for deployments without a database server. Timestamps are stored as
// RFC3339Nano text.
type SQLite struct {
	db     *sql.DB
	logger hclog.Logger
}

func OpenSQLite(path string, logger hclog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = hclog.Default().Named("store")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a second connection would only contend.
	db.SetMaxOpenConns(1)

	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) InitSchema(ctx context.Context) error {
	for _, ddl := range []string{sqliteSnapshotsDDL, sqliteChangeLogDDL} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT table_name FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *SQLite) ReadSnapshot(ctx context.Context, name string) (*cdc.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, data FROM snapshots WHERE table_name = ? ORDER BY record_id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	defer rows.Close()

	snap := &cdc.Snapshot{TableName: name}
	for rows.Next() {
		var (
			recordID string
			payload  string
		)
		if err := rows.Scan(&recordID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		var data cdc.Row
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot row %s: %w", recordID, err)
		}
		snap.Records = append(snap.Records, cdc.Record{ID: recordID, Data: data})
	}
	return snap, rows.Err()
}

func (s *SQLite) ReplaceSnapshot(ctx context.Context, name string, snap *cdc.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.replaceSnapshotTx(ctx, tx, name, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Append(ctx context.Context, records []cdc.ChangeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendTx(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

// CommitRun appends the change batch and replaces the snapshot in a single
// transaction.
func (s *SQLite) CommitRun(ctx context.Context, name string, snap *cdc.Snapshot, records []cdc.ChangeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendTx(ctx, tx, records); err != nil {
		return err
	}
	if err := s.replaceSnapshotTx(ctx, tx, name, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ReadChanges(ctx context.Context, table string) ([]cdc.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, change_type, table_name, record_id, old_data, new_data, changed_at, run_id
		 FROM change_log WHERE table_name = ? ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}
	defer rows.Close()

	var records []cdc.ChangeRecord
	for rows.Next() {
		var (
			rec              cdc.ChangeRecord
			id               int64
			changeType       string
			oldData, newData sql.NullString
			changedAt        string
		)
		if err := rows.Scan(&id, &changeType, &rec.TableName, &rec.RecordID,
			&oldData, &newData, &changedAt, &rec.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		rec.ID = uint64(id)
		rec.ChangeType = cdc.ChangeType(changeType)
		rec.ChangedAt, err = time.Parse(time.RFC3339Nano, changedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse changed_at: %w", err)
		}
		if oldData.Valid {
			if err := json.Unmarshal([]byte(oldData.String), &rec.OldData); err != nil {
				return nil, fmt.Errorf("failed to decode old_data: %w", err)
			}
		}
		if newData.Valid {
			if err := json.Unmarshal([]byte(newData.String), &rec.NewData); err != nil {
				return nil, fmt.Errorf("failed to decode new_data: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLite) replaceSnapshotTx(ctx context.Context, tx *sql.Tx, name string, snap *cdc.Snapshot) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("failed to clear snapshot %s: %w", name, err)
	}

	for _, rec := range snap.Records {
		payload, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot row %s: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (table_name, record_id, data) VALUES (?, ?, ?)`,
			name, rec.ID, string(payload)); err != nil {
			return fmt.Errorf("failed to write snapshot row %s: %w", rec.ID, err)
		}
	}

	s.logger.Debug("snapshot replaced", "table", name, "records", len(snap.Records))
	return nil
}

func (s *SQLite) appendTx(ctx context.Context, tx *sql.Tx, records []cdc.ChangeRecord) error {
	for _, rec := range records {
		oldData, newData, err := encodeChangeData(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_log (change_type, table_name, record_id, old_data, new_data, changed_at, run_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(rec.ChangeType), rec.TableName, rec.RecordID,
			oldData, newData, rec.ChangedAt.Format(time.RFC3339Nano), rec.RunID); err != nil {
			return fmt.Errorf("failed to append change record: %w", err)
		}
	}
	return nil
}
