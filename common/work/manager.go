package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/redis"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	workerKeyPrefix = "ocr:worker:"
	// workerTTL is how long a worker stays registered without a heartbeat.
	// Workers of a host that died without cleanup drop out after it.
	workerTTL = 10 * time.Minute
)

var ErrAlreadyRegistered = errors.New("worker is already registered")

// StateStore is the subset of the Redis client the manager needs
type StateStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

var _ StateStore = (*redis.RedisClient)(nil)

// WorkerRecord is what the manager stores per running worker
type WorkerRecord struct {
	WorkerID  string    `json:"workerId"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"startedAt"`
}

// WorkManager records the workers running across every service instance in
// Redis so any instance can list them.
type WorkManager struct {
	store StateStore
	host  string
}

// NewWorkManager creates a manager; host names this service instance in the
// records it writes.
func NewWorkManager(store StateStore, host string) *WorkManager {
	return &WorkManager{
		store: store,
		host:  host,
	}
}

func (wm *WorkManager) getWorkerKey(workerID string) string {
	return fmt.Sprintf("%s%s", workerKeyPrefix, workerID)
}

// Register marks a worker as running. Registering a worker id twice is an
// error.
func (wm *WorkManager) Register(ctx context.Context, workerID string) error {
	record, err := json.Marshal(WorkerRecord{
		WorkerID:  workerID,
		Host:      wm.host,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	ok, err := wm.store.SetNX(ctx, wm.getWorkerKey(workerID), string(record), workerTTL)
	if err != nil {
		return fmt.Errorf("failed to register worker %s: %w", workerID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, workerID)
	}
	return nil
}

// IsRunning checks if a worker is currently registered
func (wm *WorkManager) IsRunning(ctx context.Context, workerID string) (bool, error) {
	_, err := wm.store.Get(ctx, wm.getWorkerKey(workerID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get worker state for %s: %w", workerID, err)
	}
	return true, nil
}

// Heartbeat extends the registration of a running worker. It reports false
// when the registration already expired.
func (wm *WorkManager) Heartbeat(ctx context.Context, workerID string) (bool, error) {
	ok, err := wm.store.Expire(ctx, wm.getWorkerKey(workerID), workerTTL)
	if err != nil {
		return false, fmt.Errorf("failed to extend worker %s: %w", workerID, err)
	}
	return ok, nil
}

// Unregister removes a worker's state from Redis
func (wm *WorkManager) Unregister(ctx context.Context, workerID string) error {
	if err := wm.store.Delete(ctx, wm.getWorkerKey(workerID)); err != nil {
		return fmt.Errorf("failed to unregister worker %s: %w", workerID, err)
	}
	return nil
}

// ListRunning returns the records of every registered worker
func (wm *WorkManager) ListRunning(ctx context.Context) ([]WorkerRecord, error) {
	keys, err := wm.store.Scan(ctx, workerKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan for running workers in Redis: %w", err)
	}

	records := make([]WorkerRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := wm.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		var record WorkerRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping malformed worker record")
			record = WorkerRecord{WorkerID: strings.TrimPrefix(key, workerKeyPrefix)}
		}
		records = append(records, record)
	}
	return lo.UniqBy(records, func(r WorkerRecord) string { return r.WorkerID }), nil
}
