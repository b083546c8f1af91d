// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes. Service IDs never contain ':' (validated at the API
// boundary), so it is a safe separator.
const (
	prefixTelemetry = "tel:"
	prefixZScore    = "zsc:"
	prefixBaseline  = "bas:"
	prefixHealth    = "hlt:"
	prefixEvent     = "evt:"
)

// BadgerStore implements Store on an embedded BadgerDB.
//
// # Description
//
// Rows are JSON values under prefixed keys. Time-ordered entities embed an
// inverted millisecond timestamp (^uint64, fixed-width hex) in the key so
// a plain forward prefix iteration yields newest-first order:
//
//	tel:<service>:<inv sample ts>:<seq>   telemetry, ordered by timestamp
//	zsc:<service>:<inv created_at>:<seq>  z-scores, ordered by created_at
//	bas:<service>                         baseline, one row per service
//	hlt:<service>                         health state, one row per service
//	evt:<inv detected_at>:<seq>           drift events, global time order
//
// The seq component is an inverted in-process counter that disambiguates
// rows created within the same millisecond, keeping newest-first order
// within a tied timestamp.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB provides per-statement serializable
// transactions.
type BadgerStore struct {
	db  *badger.DB
	gc  *gcRunner
	seq atomic.Uint64
}

// NewBadgerStore opens a Badger-backed store with the given configuration.
//
// Description:
//
//	Opens the database (creating the directory if needed) and starts the
//	value log GC runner when GCInterval is configured. Call Close() when
//	done.
//
// Outputs:
//
//	*BadgerStore - The ready store.
//	error - Non-nil if the database cannot be opened.
func NewBadgerStore(cfg Config) (*BadgerStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	s := &BadgerStore{db: db}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}

	return s, nil
}

// NewInMemoryStore opens a memory-only store for testing.
func NewInMemoryStore() (*BadgerStore, error) {
	return NewBadgerStore(InMemoryConfig())
}

// Close stops the GC runner and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// invHex encodes a millisecond timestamp so that lexicographic ascending
// key order equals descending time order.
func invHex(ms int64) string {
	return fmt.Sprintf("%016x", ^uint64(ms))
}

func (s *BadgerStore) nextSeq() string {
	return fmt.Sprintf("%016x", ^s.seq.Add(1))
}

func telemetryKey(serviceID string, ts int64, seq string) []byte {
	return []byte(prefixTelemetry + serviceID + ":" + invHex(ts) + ":" + seq)
}

func zscoreKey(serviceID string, createdAt int64, seq string) []byte {
	return []byte(prefixZScore + serviceID + ":" + invHex(createdAt) + ":" + seq)
}

func eventKey(detectedAt int64, seq string) []byte {
	return []byte(prefixEvent + invHex(detectedAt) + ":" + seq)
}

// setJSON marshals v and writes it under key inside txn.
func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return txn.Set(key, data)
}

// getJSON reads key inside txn and unmarshals into v.
// Returns ErrNotFound when the key does not exist.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// =============================================================================
// Telemetry
// =============================================================================

// InsertTelemetry appends one telemetry sample.
func (s *BadgerStore) InsertTelemetry(ctx context.Context, sample TelemetrySample) error {
	key := telemetryKey(sample.ServiceID, sample.Timestamp, s.nextSeq())
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return setJSON(txn, key, sample)
	})
}

// TelemetryCount returns how many samples exist for a service.
//
// Counts by a keys-only prefix scan; retention deletions are reflected
// immediately, matching row-count semantics.
func (s *BadgerStore) TelemetryCount(ctx context.Context, serviceID string) (int, error) {
	return s.countPrefix(ctx, []byte(prefixTelemetry+serviceID+":"))
}

// TotalTelemetryCount returns how many samples exist across all services.
func (s *BadgerStore) TotalTelemetryCount(ctx context.Context) (int, error) {
	return s.countPrefix(ctx, []byte(prefixTelemetry))
}

func (s *BadgerStore) countPrefix(ctx context.Context, prefix []byte) (int, error) {
	count := 0
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// RecentTelemetry returns up to limit samples newest-first by timestamp.
func (s *BadgerStore) RecentTelemetry(ctx context.Context, serviceID string, limit int) ([]TelemetrySample, error) {
	var samples []TelemetrySample
	prefix := []byte(prefixTelemetry + serviceID + ":")

	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(samples) < limit; it.Next() {
			var sample TelemetrySample
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			}); err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return nil
	})
	return samples, err
}

// =============================================================================
// Baselines
// =============================================================================

// UpsertBaseline inserts or replaces the baseline row for a service.
// CreatedAt of an existing row is preserved.
func (s *BadgerStore) UpsertBaseline(ctx context.Context, rec BaselineRecord) error {
	key := []byte(prefixBaseline + rec.ServiceID)
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		var existing BaselineRecord
		err := getJSON(txn, key, &existing)
		switch {
		case err == nil:
			rec.CreatedAt = existing.CreatedAt
		case errors.Is(err, ErrNotFound):
			// first baseline for this service
		default:
			return err
		}
		return setJSON(txn, key, rec)
	})
}

// GetBaseline returns the baseline row, or ErrNotFound.
func (s *BadgerStore) GetBaseline(ctx context.Context, serviceID string) (BaselineRecord, error) {
	var rec BaselineRecord
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixBaseline+serviceID), &rec)
	})
	return rec, err
}

// =============================================================================
// Health states
// =============================================================================

// UpsertHealthState inserts or replaces the health state row.
func (s *BadgerStore) UpsertHealthState(ctx context.Context, rec HealthStateRecord) error {
	key := []byte(prefixHealth + rec.ServiceID)
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return setJSON(txn, key, rec)
	})
}

// GetHealthState returns the health state row, or ErrNotFound.
func (s *BadgerStore) GetHealthState(ctx context.Context, serviceID string) (HealthStateRecord, error) {
	var rec HealthStateRecord
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixHealth+serviceID), &rec)
	})
	return rec, err
}

// MonitoredServiceCount returns how many services have a health state.
func (s *BadgerStore) MonitoredServiceCount(ctx context.Context) (int, error) {
	return s.countPrefix(ctx, []byte(prefixHealth))
}

// =============================================================================
// Drift events
// =============================================================================

// AppendDriftEvent appends one audit entry.
func (s *BadgerStore) AppendDriftEvent(ctx context.Context, ev DriftEventRecord) error {
	key := eventKey(ev.DetectedAt, s.nextSeq())
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return setJSON(txn, key, ev)
	})
}

// RecentDriftEvents returns up to limit events newest-first, optionally
// filtered by service.
//
// Events live in a single time-ordered log; per-service queries scan and
// filter. Transitions are rare, so the scan is bounded in practice by the
// 30-day event retention window.
func (s *BadgerStore) RecentDriftEvents(ctx context.Context, serviceID string, limit int) ([]DriftEventRecord, error) {
	var events []DriftEventRecord

	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEvent)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(events) < limit; it.Next() {
			var ev DriftEventRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			if serviceID != "" && ev.ServiceID != serviceID {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}

// =============================================================================
// Z-score history
// =============================================================================

// AppendZScore appends one z-score observation.
func (s *BadgerStore) AppendZScore(ctx context.Context, rec ZScoreRecord) error {
	key := zscoreKey(rec.ServiceID, rec.CreatedAt, s.nextSeq())
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return setJSON(txn, key, rec)
	})
}

// RecentZScores returns up to limit records newest-first by CreatedAt.
func (s *BadgerStore) RecentZScores(ctx context.Context, serviceID string, limit int) ([]ZScoreRecord, error) {
	var records []ZScoreRecord
	prefix := []byte(prefixZScore + serviceID + ":")

	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(records) < limit; it.Next() {
			var rec ZScoreRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// =============================================================================
// Retention
// =============================================================================

// Cleanup deletes rows past their retention cutoffs.
//
// Description:
//
//	Telemetry rows are matched on the CreatedAt field of the value
//	(telemetry keys embed the sample timestamp, not the insertion time).
//	Z-score and event keys embed the relevant timestamp, so those scans
//	never load values. Deletes go through a write batch to stay under
//	transaction size limits.
func (s *BadgerStore) Cleanup(ctx context.Context, telemetryCutoff, eventsCutoff int64) (CleanupResult, error) {
	var result CleanupResult

	telemetryKeys, err := s.expiredTelemetryKeys(ctx, telemetryCutoff)
	if err != nil {
		return result, err
	}
	zscoreKeys, err := s.expiredInvKeys(ctx, prefixZScore, telemetryCutoff, true)
	if err != nil {
		return result, err
	}
	eventKeys, err := s.expiredInvKeys(ctx, prefixEvent, eventsCutoff, false)
	if err != nil {
		return result, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range telemetryKeys {
		if err := wb.Delete(key); err != nil {
			return result, fmt.Errorf("delete telemetry: %w", err)
		}
	}
	for _, key := range zscoreKeys {
		if err := wb.Delete(key); err != nil {
			return result, fmt.Errorf("delete zscore: %w", err)
		}
	}
	for _, key := range eventKeys {
		if err := wb.Delete(key); err != nil {
			return result, fmt.Errorf("delete drift event: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return result, fmt.Errorf("flush deletes: %w", err)
	}

	result.Telemetry = len(telemetryKeys)
	result.ZScores = len(zscoreKeys)
	result.DriftEvents = len(eventKeys)
	return result, nil
}

// expiredTelemetryKeys scans telemetry values for CreatedAt < cutoff.
func (s *BadgerStore) expiredTelemetryKeys(ctx context.Context, cutoff int64) ([][]byte, error) {
	var keys [][]byte
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTelemetry)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sample TelemetrySample
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			}); err != nil {
				return err
			}
			if sample.CreatedAt < cutoff {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	return keys, err
}

// expiredInvKeys collects keys whose embedded inverted timestamp is before
// cutoff. Keys-only scan. withService selects the key layout
// (<prefix><svc>:<inv>:<seq> vs <prefix><inv>:<seq>).
func (s *BadgerStore) expiredInvKeys(ctx context.Context, prefix string, cutoff int64, withService bool) ([][]byte, error) {
	var keys [][]byte
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			ms, ok := parseInvKey(string(key), prefix, withService)
			if ok && ms < cutoff {
				keys = append(keys, key)
			}
		}
		return nil
	})
	return keys, err
}

// parseInvKey extracts the millisecond timestamp embedded in a key.
func parseInvKey(key, prefix string, withService bool) (int64, bool) {
	rest := key[len(prefix):]
	if withService {
		idx := -1
		for i := 0; i < len(rest); i++ {
			if rest[i] == ':' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return 0, false
		}
		rest = rest[idx+1:]
	}
	if len(rest) < 16 {
		return 0, false
	}
	var inv uint64
	if _, err := fmt.Sscanf(rest[:16], "%016x", &inv); err != nil {
		return 0, false
	}
	return int64(^inv), true
}
