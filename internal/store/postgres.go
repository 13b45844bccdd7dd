package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/owlconnect/snapdiff/internal/cdc"
)

const (
	pgSnapshotsDDL = `CREATE TABLE IF NOT EXISTS snapshots (
    table_name TEXT NOT NULL,
    record_id  TEXT NOT NULL,
    data       JSONB NOT NULL,
    PRIMARY KEY (table_name, record_id)
)`

	pgChangeLogDDL = `CREATE TABLE IF NOT EXISTS change_log (
    id          BIGSERIAL PRIMARY KEY,
    change_type TEXT NOT NULL,
    table_name  TEXT NOT NULL,
    record_id   TEXT NOT NULL,
    old_data    JSONB,
    new_data    JSONB,
    changed_at  TIMESTAMPTZ NOT NULL,
    run_id      TEXT NOT NULL
)`
)

// Postgres persists snapshots and the change log in a PostgreSQL database.
// CommitRun runs both writes in one transaction.
//
// The store holds a single *pgx.Conn, which is not safe for concurrent use:
// one Postgres instance serves one run at a time. Callers running tables
// concurrently must open a store per goroutine (or move to pgxpool).
type Postgres struct {
	conn   *pgx.Conn
	logger hclog.Logger
}

func OpenPostgres(ctx context.Context, connString string, logger hclog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = hclog.Default().Named("store")
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Postgres{conn: conn, logger: logger}, nil
}

func (s *Postgres) Close() error {
	return s.conn.Close(context.Background())
}

func (s *Postgres) InitSchema(ctx context.Context) error {
	for _, ddl := range []string{pgSnapshotsDDL, pgChangeLogDDL} {
		if _, err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Postgres) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT table_name FROM snapshots`)
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

func (s *Postgres) ReadSnapshot(ctx context.Context, name string) (*cdc.Snapshot, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT record_id, data FROM snapshots WHERE table_name = $1 ORDER BY record_id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	defer rows.Close()

	snap := &cdc.Snapshot{TableName: name}
	for rows.Next() {
		var (
			recordID string
			payload  []byte
		)
		if err := rows.Scan(&recordID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		var data cdc.Row
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot row %s: %w", recordID, err)
		}
		snap.Records = append(snap.Records, cdc.Record{ID: recordID, Data: data})
	}
	return snap, rows.Err()
}

func (s *Postgres) ReplaceSnapshot(ctx context.Context, name string, snap *cdc.Snapshot) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.replaceSnapshotTx(ctx, tx, name, snap); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Append(ctx context.Context, records []cdc.ChangeRecord) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.appendTx(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CommitRun appends the change batch and replaces the snapshot in a single
// transaction, so a crash can never leave the log and the snapshot disagreeing.
func (s *Postgres) CommitRun(ctx context.Context, name string, snap *cdc.Snapshot, records []cdc.ChangeRecord) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.appendTx(ctx, tx, records); err != nil {
		return err
	}
	if err := s.replaceSnapshotTx(ctx, tx, name, snap); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) ReadChanges(ctx context.Context, table string) ([]cdc.ChangeRecord, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, change_type, table_name, record_id, old_data, new_data, changed_at, run_id
		 FROM change_log WHERE table_name = $1 ORDER BY id`, table)
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
			oldData, newData []byte
		)
		if err := rows.Scan(&id, &changeType, &rec.TableName, &rec.RecordID,
			&oldData, &newData, &rec.ChangedAt, &rec.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		rec.ID = uint64(id)
		rec.ChangeType = cdc.ChangeType(changeType)
		if oldData != nil {
			if err := json.Unmarshal(oldData, &rec.OldData); err != nil {
				return nil, fmt.Errorf("failed to decode old_data: %w", err)
			}
		}
		if newData != nil {
			if err := json.Unmarshal(newData, &rec.NewData); err != nil {
				return nil, fmt.Errorf("failed to decode new_data: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Postgres) replaceSnapshotTx(ctx context.Context, tx pgx.Tx, name string, snap *cdc.Snapshot) error {
	if _, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE table_name = $1`, name); err != nil {
		return fmt.Errorf("failed to clear snapshot %s: %w", name, err)
	}

	for _, rec := range snap.Records {
		payload, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot row %s: %w", rec.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO snapshots (table_name, record_id, data) VALUES ($1, $2, $3)`,
			name, rec.ID, string(payload)); err != nil {
			return fmt.Errorf("failed to write snapshot row %s: %w", rec.ID, err)
		}
	}

	s.logger.Debug("snapshot replaced", "table", name, "records", len(snap.Records))
	return nil
}

func (s *Postgres) appendTx(ctx context.Context, tx pgx.Tx, records []cdc.ChangeRecord) error {
	for _, rec := range records {
		oldData, newData, err := encodeChangeData(rec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO change_log (change_type, table_name, record_id, old_data, new_data, changed_at, run_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(rec.ChangeType), rec.TableName, rec.RecordID,
			oldData, newData, rec.ChangedAt, rec.RunID); err != nil {
			return fmt.Errorf("failed to append change record: %w", err)
		}
	}
	return nil
}

// encodeChangeData serializes the optional row payloads, mapping absent data
// to SQL NULL.
func encodeChangeData(rec cdc.ChangeRecord) (any, any, error) {
	var oldData, newData any
	if rec.OldData != nil {
		payload, err := json.Marshal(rec.OldData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode old_data: %w", err)
		}
		oldData = string(payload)
	}
	if rec.NewData != nil {
		payload, err := json.Marshal(rec.NewData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode new_data: %w", err)
		}
		newData = string(payload)
	}
	return oldData, newData, nil
}
