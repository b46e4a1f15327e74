package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
	"github.com/fwoerister/vdstore/internal/querysql"
	"github.com/fwoerister/vdstore/internal/schema"
)

// UpsertResult reports the outcome of an upsert batch.
type UpsertResult struct {
	// Inserted counts new versions (new keys and changed payloads).
	Inserted int
	// Unchanged counts records whose payload equals the latest version.
	Unchanged int
	// Superseded counts records overridden by a later record with the
	// same key in the same batch.
	Superseded int
	// Warnings lists field values that failed type coercion. The records
	// were written with the raw values.
	Warnings []schema.ConversionWarning
	// At is the instant the new versions became visible. Zero for a dry
	// run or when nothing was written.
	At time.Time
}

type pendingVersion struct {
	key     string
	hash    string
	payload ir.Object
}

// Upsert writes a batch of records as new versions.
//
// Every record must carry the resource's business key; otherwise the whole
// batch is rejected with a MissingKeyError and nothing is written. Values
// are coerced to the declared field types. A record whose content hash
// equals the latest version of its key is skipped. Otherwise the latest
// version is closed and the new one inserted, inside one transaction.
//
// With dryRun, validation and change detection run but nothing is written.
func (s *Store) Upsert(ctx context.Context, id string, records []ir.Object, dryRun bool) (UpsertResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordDbOperation("upsert", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := s.lookup(ctx, tx, id)
	if err != nil {
		return UpsertResult{}, err
	}
	fields, err := openFields(ctx, tx, res.rowid)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert: %w", err)
	}

	var result UpsertResult
	pending, err := prepareBatch(res.PrimaryKey, records, fields, &result)
	if err != nil {
		return UpsertResult{}, err
	}

	var stamp int64
	if !dryRun {
		if stamp, err = s.nextStamp(ctx, tx, res); err != nil {
			return UpsertResult{}, fmt.Errorf("upsert: %w", err)
		}
	}

	table := querysql.QuoteIdent(res.table())
	closed := 0
	for _, p := range pending {
		wrote, closedPrev, err := s.writeVersion(ctx, tx, table, p, stamp, dryRun)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("upsert %q: %w", id, err)
		}
		if wrote {
			result.Inserted++
		} else {
			result.Unchanged++
		}
		if closedPrev {
			closed++
		}
	}

	if dryRun {
		return result, nil
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("upsert: commit: %w", err)
	}
	if result.Inserted > 0 {
		result.At = fromNanos(stamp)
	}

	s.metrics.RecordUpsert(id, result.Inserted, result.Unchanged, closed, len(result.Warnings))
	s.logger.Debug("upsert",
		"resource", id,
		"inserted", result.Inserted,
		"unchanged", result.Unchanged,
		"superseded", result.Superseded,
		"warnings", len(result.Warnings))
	for _, w := range result.Warnings {
		s.logger.Warn("conversion failed", "resource", id, "warning", w.String())
	}
	return result, nil
}

// prepareBatch coerces every record, checks the business key, and collapses
// records with the same key (the later one wins). No record is written
// unless every record passes.
func prepareBatch(primaryKey string, records []ir.Object, fields []schema.FieldDefinition, result *UpsertResult) ([]pendingVersion, error) {
	pending := make([]pendingVersion, 0, len(records))
	byKey := make(map[string]int, len(records))

	for i, rec := range records {
		payload, warnings := schema.Coerce(rec, fields)
		for _, w := range warnings {
			w.Index = i
			result.Warnings = append(result.Warnings, w)
		}

		keyValue, ok := payload[primaryKey]
		if _, isNull := keyValue.(ir.Null); !ok || isNull {
			return nil, &MissingKeyError{Field: primaryKey, Index: i}
		}
		key, err := ir.MarshalCanonical(keyValue)
		if err != nil {
			return nil, fmt.Errorf("record %d: business key: %w", i, err)
		}
		hash, err := ir.RecordHash(payload)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		p := pendingVersion{key: string(key), hash: hash, payload: payload}
		if j, dup := byKey[p.key]; dup {
			pending[j] = p
			result.Superseded++
			continue
		}
		byKey[p.key] = len(pending)
		pending = append(pending, p)
	}
	return pending, nil
}

// writeVersion compares p with the latest version of its key and, if it
// differs, closes the latest version and inserts p. The close is guarded by
// is_latest = 1; a lost guard re-reads the latest version.
func (s *Store) writeVersion(ctx context.Context, tx *sql.Tx, table string, p pendingVersion, stamp int64, dryRun bool) (wrote, closedPrev bool, err error) {
	for attempt := 0; ; attempt++ {
		var (
			prevSeq  int64
			prevHash string
			hasPrev  = true
		)
		err := tx.QueryRowContext(ctx,
			"SELECT seq, content_hash FROM "+table+" WHERE business_key = ? AND is_latest = 1",
			p.key).Scan(&prevSeq, &prevHash)
		if errors.Is(err, sql.ErrNoRows) {
			hasPrev = false
		} else if err != nil {
			return false, false, fmt.Errorf("read latest: %w", err)
		}

		if hasPrev && prevHash == p.hash {
			return false, false, nil
		}
		if dryRun {
			return true, false, nil
		}

		if hasPrev {
			result, err := tx.ExecContext(ctx,
				"UPDATE "+table+" SET valid_to = ?, is_latest = 0 WHERE seq = ? AND is_latest = 1",
				stamp, prevSeq)
			if err != nil {
				return false, false, fmt.Errorf("close version %d: %w", prevSeq, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return false, false, fmt.Errorf("close version %d: rows affected: %w", prevSeq, err)
			}
			if n == 0 {
				if attempt >= maxGuardRetries {
					return false, false, fmt.Errorf("close version %d: latest flag changed concurrently", prevSeq)
				}
				continue
			}
		}

		payload, err := ir.MarshalCanonical(p.payload)
		if err != nil {
			return false, false, fmt.Errorf("encode payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (business_key, payload, content_hash, created_at, valid_to, is_latest) VALUES (?, ?, ?, ?, NULL, 1)",
			p.key, string(payload), p.hash, stamp); err != nil {
			return false, false, fmt.Errorf("insert version: %w", err)
		}
		return true, hasPrev, nil
	}
}

// Delete closes every open version matching filter and returns how many
// were closed. A nil filter closes all open versions. Nothing is erased:
// the versions stay visible to reads as of earlier instants.
func (s *Store) Delete(ctx context.Context, id string, filter queryir.Predicate) (int64, error) {
	start := time.Now()
	defer func() { s.metrics.RecordDbOperation("delete", time.Since(start)) }()

	if err := queryir.Validate(filter); err != nil {
		return 0, fmt.Errorf("delete: filter: %w", err)
	}
	where, params, err := s.compiler.CompilePredicate(filter)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := s.lookup(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	stamp, err := s.nextStamp(ctx, tx, res)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	args := append([]any{stamp}, params...)
	result, err := tx.ExecContext(ctx,
		"UPDATE "+querysql.QuoteIdent(res.table())+" SET valid_to = ?, is_latest = 0 WHERE valid_to IS NULL AND ("+where+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("delete %q: %w", id, err)
	}
	closed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %q: rows affected: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete: commit: %w", err)
	}

	s.metrics.RecordDelete(id, closed)
	s.logger.Debug("delete", "resource", id, "closed", closed)
	return closed, nil
}
