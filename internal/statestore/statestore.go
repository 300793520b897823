// Package statestore is the ephemeral state adapter for detector
// evaluation. It keeps per-group dedupe watermarks and named counters in
// Redis with a 7-day expiry, batching all reads and writes through
// pipelines so an evaluation touches Redis a fixed number of times
// regardless of how many group keys a packet carries.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelwatch/kestrel/internal/models"
)

// TTL applied to every dedupe and counter key. Watermarks are self-healing:
// an expired key just means the next packet for that group is treated as new.
const TTL = 7 * 24 * time.Hour

// Store provides pipelined access to the dedupe/counter keyspace.
type Store struct {
	client redis.Cmdable
}

// New creates a store on top of any go-redis client (single node or cluster).
func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// DedupeKey builds the watermark key for a (detector, group key) pair.
// NoGroup maps to an empty middle segment.
func DedupeKey(detectorID string, groupKey models.GroupKey) string {
	return fmt.Sprintf("%s:%s:dedupe_value", detectorID, groupKey.String())
}

// CounterKey builds the key for a named counter of a (detector, group key) pair.
func CounterKey(detectorID string, groupKey models.GroupKey, counterName string) string {
	return fmt.Sprintf("%s:%s:%s", detectorID, groupKey.String(), counterName)
}

// FetchDedupeValues reads the dedupe watermark for every group key in one
// pipeline round trip. Absent keys parse as 0.
func (s *Store) FetchDedupeValues(ctx context.Context, detectorID string, groupKeys []models.GroupKey) (map[models.GroupKey]int64, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(groupKeys))
	for _, gk := range groupKeys {
		cmds = append(cmds, pipe.Get(ctx, DedupeKey(detectorID, gk)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to fetch dedupe values: %w", err)
	}

	values := make(map[models.GroupKey]int64, len(groupKeys))
	for i, gk := range groupKeys {
		v, err := cmds[i].Int64()
		if errors.Is(err, redis.Nil) {
			values[gk] = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse dedupe value for %q: %w", DedupeKey(detectorID, gk), err)
		}
		values[gk] = v
	}
	return values, nil
}

// FetchCounters reads every (group key, counter name) pair in one pipeline
// round trip. Absent counters are returned as nil entries, distinguishing
// "never set" from "set to zero".
func (s *Store) FetchCounters(ctx context.Context, detectorID string, counterNames []string, groupKeys []models.GroupKey) (map[models.GroupKey]map[string]*int64, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(groupKeys)*len(counterNames))
	for _, gk := range groupKeys {
		for _, name := range counterNames {
			cmds = append(cmds, pipe.Get(ctx, CounterKey(detectorID, gk, name)))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to fetch counters: %w", err)
	}

	counters := make(map[models.GroupKey]map[string]*int64, len(groupKeys))
	i := 0
	for _, gk := range groupKeys {
		values := make(map[string]*int64, len(counterNames))
		for _, name := range counterNames {
			v, err := cmds[i].Int64()
			i++
			if errors.Is(err, redis.Nil) {
				values[name] = nil
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to parse counter %q: %w", CounterKey(detectorID, gk, name), err)
			}
			values[name] = &v
		}
		counters[gk] = values
	}
	return counters, nil
}

// Flush writes all staged dedupe watermarks and counter updates in one
// pipeline. A nil counter value unsets the key. Flushing is idempotent and
// safe to retry: watermarks only move forward and deleting an absent
// counter is a no-op.
func (s *Store) Flush(ctx context.Context, detectorID string, dedupeUpdates map[models.GroupKey]int64, counterUpdates map[models.GroupKey]map[string]*int64) error {
	pipe := s.client.Pipeline()
	for gk, dedupeValue := range dedupeUpdates {
		pipe.Set(ctx, DedupeKey(detectorID, gk), dedupeValue, TTL)
	}
	for gk, updates := range counterUpdates {
		for name, value := range updates {
			key := CounterKey(detectorID, gk, name)
			if value == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, *value, TTL)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush ephemeral state: %w", err)
	}
	return nil
}
