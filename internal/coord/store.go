// Package coord implements run coordination against Redis: the workflow
// exclusivity lock, cancellation flags, advisory progress snapshots, and the
// per-run event log that backs live streaming. Postgres remains the source of
// truth; everything here is coordination state with TTLs.
package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKey = "pf:workflow_lock"
	lockTTL = 600 * time.Second

	cancelTTL   = time.Hour
	progressTTL = 120 * time.Second
	logTTL      = time.Hour

	matchCachePattern = "pf:agent_matches:*"
)

// Store wraps a Redis client with the coordination operations the workflow
// supervisor and HTTP handlers need.
type Store struct {
	client *redis.Client
}

// New creates a coordination store from a Redis URL
// (e.g. redis://localhost:6379/0).
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the store is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func cancelKey(runID string) string   { return "pf:workflow:" + runID + ":cancel" }
func progressKey(runID string) string { return "pf:workflow:" + runID + ":progress" }
func logKey(runID string) string      { return "pf:workflow:" + runID + ":log" }
func notifyChannel(runID string) string {
	return "pf:workflow:" + runID + ":notify"
}

// TryAcquireLock attempts to take the global workflow lock. Only one pipeline
// run may hold it at a time across all processes. When the store is
// unreachable the lock is granted anyway: a run that cannot coordinate is
// still better than no run, and single-process deployments keep working
// through a Redis outage.
func (s *Store) TryAcquireLock(ctx context.Context, ownerID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey, ownerID, lockTTL).Result()
	if err != nil {
		log.Printf("[coord] lock store unreachable, assuming sole owner: %v", err)
		return true, nil
	}
	return ok, nil
}

// RefreshLock extends the lock TTL. Called between long-running batches so a
// healthy run never loses the lock mid-flight.
func (s *Store) RefreshLock(ctx context.Context) error {
	if err := s.client.Expire(ctx, lockKey, lockTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh workflow lock: %w", err)
	}
	return nil
}

// ReleaseLock drops the lock. Best-effort: if this fails the TTL reaps it.
func (s *Store) ReleaseLock(ctx context.Context) {
	if err := s.client.Del(ctx, lockKey).Err(); err != nil {
		log.Printf("[coord] failed to release workflow lock (TTL will expire it): %v", err)
	}
}

// LockHolder reports the current lock owner, or "" when unheld
func (s *Store) LockHolder(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, lockKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read workflow lock: %w", err)
	}
	return val, nil
}

// RequestCancel sets the cancellation flag for a run. The pipeline polls it
// between nodes and batches.
func (s *Store) RequestCancel(ctx context.Context, runID string) error {
	if err := s.client.Set(ctx, cancelKey(runID), "1", cancelTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	return nil
}

// IsCancelled reports whether cancellation was requested for a run. Returns
// false when the store is unreachable so an outage never aborts a run.
func (s *Store) IsCancelled(ctx context.Context, runID string) bool {
	n, err := s.client.Exists(ctx, cancelKey(runID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// ClearCancel removes the cancellation flag after a run reaches a terminal
// state
func (s *Store) ClearCancel(ctx context.Context, runID string) {
	if err := s.client.Del(ctx, cancelKey(runID)).Err(); err != nil {
		log.Printf("[coord] failed to clear cancel flag for %s: %v", runID, err)
	}
}

// Progress is the advisory progress snapshot published while a run executes.
// It expires quickly; absence just means "no recent update".
type Progress struct {
	RunID       string  `json:"run_id"`
	Status      string  `json:"status"`
	Phase       string  `json:"phase"`
	Iteration   int     `json:"iteration"`
	PercentDone float64 `json:"percent_done"`
	Detail      string  `json:"detail,omitempty"`
	UpdatedAt   string  `json:"updated_at"`
}

// PublishProgress stores a run's progress snapshot with a short TTL.
// Best-effort: failures are logged and never interrupt the pipeline.
func (s *Store) PublishProgress(ctx context.Context, runID string, p *Progress) {
	p.RunID = runID
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(p)
	if err != nil {
		log.Printf("[coord] failed to marshal progress for %s: %v", runID, err)
		return
	}
	if err := s.client.Set(ctx, progressKey(runID), data, progressTTL).Err(); err != nil {
		log.Printf("[coord] failed to publish progress for %s: %v", runID, err)
	}
}

// GetProgress retrieves the latest progress snapshot for a run, or nil when
// none has been published recently
func (s *Store) GetProgress(ctx context.Context, runID string) (*Progress, error) {
	data, err := s.client.Get(ctx, progressKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse progress snapshot: %w", err)
	}
	return &p, nil
}

// AppendLog appends an event to a run's event log and notifies subscribers.
// Best-effort: the durable record lives in workflow_steps.
func (s *Store) AppendLog(ctx context.Context, runID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[coord] failed to marshal log event for %s: %v", runID, err)
		return
	}
	key := logKey(runID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, logTTL)
	pipe.Publish(ctx, notifyChannel(runID), "1")
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[coord] failed to append log event for %s: %v", runID, err)
	}
}

// TailLog returns log entries from cursor onward plus the next cursor
func (s *Store) TailLog(ctx context.Context, runID string, cursor int64) ([]string, int64, error) {
	entries, err := s.client.LRange(ctx, logKey(runID), cursor, -1).Result()
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to read event log: %w", err)
	}
	return entries, cursor + int64(len(entries)), nil
}

// Subscribe opens a pub/sub subscription for a run's log notifications.
// The caller must Close the subscription.
func (s *Store) Subscribe(ctx context.Context, runID string) *redis.PubSub {
	return s.client.Subscribe(ctx, notifyChannel(runID))
}

// InvalidateMatchCaches drops cached match query results after a run persists
// fresh matches
func (s *Store) InvalidateMatchCaches(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, matchCachePattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan match caches: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete match caches: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
