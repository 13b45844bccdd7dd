package cdc

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/owlconnect/snapdiff/internal/hash"
	"github.com/owlconnect/snapdiff/internal/normalize"
)

// Reconciler compares an incoming snapshot against the previously persisted
// one and classifies every row as inserted, deleted, or unchanged. Identity is
// content: there is no external key, so a field-level edit always surfaces as
// a DELETE+INSERT pair, never as an UPDATE.
type Reconciler struct {
	store    Store
	excluded []string
	logger   hclog.Logger

	mu     sync.Mutex
	tables map[string]*sync.Mutex
}

func NewReconciler(store Store, excluded []string, logger hclog.Logger) *Reconciler {
	if excluded == nil {
		excluded = normalize.DefaultExcludedColumns
	}
	if logger == nil {
		logger = hclog.Default().Named("reconcile")
	}
	return &Reconciler{
		store:    store,
		excluded: excluded,
		logger:   logger,
		tables:   make(map[string]*sync.Mutex),
	}
}

// tableKey canonicalizes a table name for matching: case-insensitive, with
// hyphen and underscore treated as equivalent.
func tableKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", "_"))
}

// tableLock returns the mutex serializing runs against one logical table.
// Overlapping runs on the same table would race on the read/diff/replace
// sequence and silently lose updates.
func (r *Reconciler) tableLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.tables[key]
	if !ok {
		lock = &sync.Mutex{}
		r.tables[key] = lock
	}
	return lock
}

// Run executes one reconciliation: resolve the table, diff digests, classify
// every row, then commit the change log and replace the snapshot. On error
// nothing is committed and the prior snapshot remains authoritative.
func (r *Reconciler) Run(ctx context.Context, tableName string, rows []Row) (*Summary, error) {
	lock := r.tableLock(tableKey(tableName))
	lock.Lock()
	defer lock.Unlock()

	resolved, found, err := r.resolveTable(ctx, tableName)
	if err != nil {
		return nil, newReconciliationError(tableName, "resolve", err)
	}

	incoming := r.digestRows(rows)

	runID := uuid.NewString()
	changedAt := time.Now().UTC()

	summary := &Summary{RunID: runID}
	var records []ChangeRecord

	if !found {
		r.logger.Info("first import, no existing table matches",
			"table", tableName, "rows", len(rows))
		for _, rec := range incoming {
			records = append(records, ChangeRecord{
				ChangeType: ChangeInsert,
				TableName:  resolved,
				RecordID:   rec.ID,
				NewData:    rec.Data,
				ChangedAt:  changedAt,
				RunID:      runID,
			})
			summary.Inserts++
		}
	} else {
		prior, err := r.store.ReadSnapshot(ctx, resolved)
		if err != nil {
			return nil, newReconciliationError(resolved, "read", err)
		}

		priorByDigest := make(map[string]Record, len(prior.Records))
		for _, rec := range prior.Records {
			// Recompute from data so stored record IDs never go stale when the
			// exclusion list changes between runs.
			priorByDigest[r.digestRow(rec.Data)] = rec
		}

		newDigests := make(map[string]struct{}, len(incoming))
		for _, rec := range incoming {
			newDigests[rec.ID] = struct{}{}
		}

		for _, rec := range incoming {
			if _, ok := priorByDigest[rec.ID]; ok {
				summary.Unchanged++
				continue
			}
			records = append(records, ChangeRecord{
				ChangeType: ChangeInsert,
				TableName:  resolved,
				RecordID:   rec.ID,
				NewData:    rec.Data,
				ChangedAt:  changedAt,
				RunID:      runID,
			})
			summary.Inserts++
		}

		deleted := make([]string, 0)
		for digest := range priorByDigest {
			if _, ok := newDigests[digest]; !ok {
				deleted = append(deleted, digest)
			}
		}
		sort.Strings(deleted)
		for _, digest := range deleted {
			rec := priorByDigest[digest]
			records = append(records, ChangeRecord{
				ChangeType: ChangeDelete,
				TableName:  resolved,
				RecordID:   digest,
				OldData:    rec.Data,
				ChangedAt:  changedAt,
				RunID:      runID,
			})
			summary.Deletes++
		}
	}

	summary.TotalProcessed = summary.Inserts + summary.Deletes + summary.Unchanged

	// Last clean cancellation point. Once the commit starts it must run to
	// completion, so the writes below use a non-cancelable context.
	if err := ctx.Err(); err != nil {
		return nil, newReconciliationError(resolved, "commit", err)
	}
	commitCtx := context.WithoutCancel(ctx)

	snap := &Snapshot{TableName: resolved, Records: incoming}

	if tc, ok := r.store.(RunCommitter); ok {
		if err := tc.CommitRun(commitCtx, resolved, snap, records); err != nil {
			return nil, newReconciliationError(resolved, "commit", err)
		}
	} else {
		if err := r.store.Append(commitCtx, records); err != nil {
			return nil, newReconciliationError(resolved, "commit", err)
		}
		if err := r.store.ReplaceSnapshot(commitCtx, resolved, snap); err != nil {
			// The change log and the snapshot are now inconsistent. Surface it
			// loudly; the caller must re-run after fixing the cause.
			r.logger.Error("snapshot replace failed after change log commit",
				"table", resolved, "run_id", runID, "error", err)
			return nil, newReconciliationError(resolved, "replace", err)
		}
	}

	r.logger.Info("reconciliation complete",
		"table", resolved,
		"run_id", runID,
		"inserts", summary.Inserts,
		"deletes", summary.Deletes,
		"unchanged", summary.Unchanged)

	return summary, nil
}

// resolveTable matches the requested name against the store's table listing.
// Backend listing order is not guaranteed, so multiple matches are broken
// deterministically by lexicographic order of the stored name.
func (r *Reconciler) resolveTable(ctx context.Context, name string) (string, bool, error) {
	tables, err := r.store.ListTables(ctx)
	if err != nil {
		return "", false, err
	}

	key := tableKey(name)
	var matches []string
	for _, t := range tables {
		if tableKey(t) == key {
			matches = append(matches, t)
		}
	}

	if len(matches) == 0 {
		return name, false, nil
	}

	sort.Strings(matches)
	if len(matches) > 1 {
		r.logger.Warn("multiple stored tables match, using lexicographic tie-break",
			"requested", name, "chosen", matches[0], "candidates", len(matches))
	}

	return matches[0], true, nil
}

// digestRows normalizes and digests every incoming row. Rows with identical
// content collapse to one record: the snapshot is keyed by digest.
func (r *Reconciler) digestRows(rows []Row) []Record {
	records := make([]Record, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		digest := r.digestRow(row)
		if _, ok := seen[digest]; ok {
			continue
		}
		seen[digest] = struct{}{}
		records = append(records, Record{ID: digest, Data: row})
	}

	return records
}

func (r *Reconciler) digestRow(row Row) string {
	return hash.Digest(normalize.Row(row, r.excluded))
}
