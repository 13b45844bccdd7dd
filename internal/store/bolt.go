package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/owlconnect/snapdiff/internal/cdc"
	bolt "go.etcd.io/bbolt"
)

var (
	snapshotsBucket = []byte("snapshots")
	changeLogBucket = []byte("changelog")
)

// Bolt persists snapshots and the change log in a local bbolt file. Each table
// lives in a nested bucket keyed by record digest; change records are keyed by
// the bucket's monotonic sequence. Every write runs inside a single bbolt
// update transaction.
type Bolt struct {
	db     *bolt.DB
	logger hclog.Logger
}

func OpenBolt(path string, logger hclog.Logger) (*Bolt, error) {
	if logger == nil {
		logger = hclog.Default().Named("store")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Bolt{db: db, logger: logger}, nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func (s *Bolt) InitSchema(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{snapshotsBucket, changeLogBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		return nil
	})
}

func (s *Bolt) ListTables(ctx context.Context) ([]string, error) {
	var tables []string

	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(snapshotsBucket)
		if root == nil {
			return nil
		}
		cursor := root.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if v == nil { // nested buckets only
				tables = append(tables, string(k))
			}
		}
		return nil
	})

	return tables, err
}

func (s *Bolt) ReadSnapshot(ctx context.Context, name string) (*cdc.Snapshot, error) {
	snap := &cdc.Snapshot{TableName: name}

	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(snapshotsBucket)
		if root == nil {
			return nil
		}
		table := root.Bucket([]byte(name))
		if table == nil {
			return nil
		}
		return table.ForEach(func(k, v []byte) error {
			var data cdc.Row
			if err := json.Unmarshal(v, &data); err != nil {
				return fmt.Errorf("failed to decode snapshot row %s: %w", k, err)
			}
			snap.Records = append(snap.Records, cdc.Record{ID: string(k), Data: data})
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Bolt) ReplaceSnapshot(ctx context.Context, name string, snap *cdc.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.replaceSnapshotTx(tx, name, snap)
	})
}

func (s *Bolt) Append(ctx context.Context, records []cdc.ChangeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.appendTx(tx, records)
	})
}

// CommitRun appends the change batch and replaces the snapshot in one bbolt
// update transaction.
func (s *Bolt) CommitRun(ctx context.Context, name string, snap *cdc.Snapshot, records []cdc.ChangeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.appendTx(tx, records); err != nil {
			return err
		}
		return s.replaceSnapshotTx(tx, name, snap)
	})
}

func (s *Bolt) ReadChanges(ctx context.Context, table string) ([]cdc.ChangeRecord, error) {
	var records []cdc.ChangeRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(changeLogBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec cdc.ChangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode change record: %w", err)
			}
			if rec.TableName == table {
				records = append(records, rec)
			}
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Bolt) replaceSnapshotTx(tx *bolt.Tx, name string, snap *cdc.Snapshot) error {
	root := tx.Bucket(snapshotsBucket)
	if root == nil {
		return fmt.Errorf("schema not initialized")
	}

	if err := root.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return fmt.Errorf("failed to clear snapshot %s: %w", name, err)
	}

	table, err := root.CreateBucket([]byte(name))
	if err != nil {
		return fmt.Errorf("failed to create snapshot bucket %s: %w", name, err)
	}

	for _, rec := range snap.Records {
		payload, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot row %s: %w", rec.ID, err)
		}
		if err := table.Put([]byte(rec.ID), payload); err != nil {
			return fmt.Errorf("failed to write snapshot row %s: %w", rec.ID, err)
		}
	}

	s.logger.Debug("snapshot replaced", "table", name, "records", len(snap.Records))
	return nil
}

func (s *Bolt) appendTx(tx *bolt.Tx, records []cdc.ChangeRecord) error {
	bucket := tx.Bucket(changeLogBucket)
	if bucket == nil {
		return fmt.Errorf("schema not initialized")
	}

	for _, rec := range records {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate change id: %w", err)
		}
		rec.ID = seq

		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode change record: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bucket.Put(key, payload); err != nil {
			return fmt.Errorf("failed to append change record: %w", err)
		}
	}

	return nil
}
