package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-match/internal/logging"
	"github.com/example/face-match/internal/upload"
)

// SlotStore keeps slot images across controller lifetimes so a session
// survives a server restart. Implementations must be safe for concurrent use.
type SlotStore interface {
	Save(ctx context.Context, sessionID string, slot Slot, img upload.Image) error
	Load(ctx context.Context, sessionID string) (map[Slot]upload.Image, error)
	Delete(ctx context.Context, sessionID string, slot Slot) error
}

// RedisSlotStore is a SlotStore backed by go-redis.
type RedisSlotStore struct {
	client         *redis.Client
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisSlotStore constructs a store whose entries expire after ttl of inactivity.
func NewRedisSlotStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSlotStore {
	return &RedisSlotStore{
		client:         client,
		ttl:            ttl,
		logger:         logger.Named("slot_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func slotKey(sessionID string, slot Slot) string {
	return fmt.Sprintf("facematch:session:%s:slot:%d", sessionID, int(slot))
}

// Save writes the slot image and refreshes its expiry.
func (s *RedisSlotStore) Save(ctx context.Context, sessionID string, slot Slot, img upload.Image) error {
	payload, err := json.Marshal(img)
	if err != nil {
		return logging.NewOperationError("store.save", sessionID, err)
	}
	return s.withRetry(ctx, sessionID, "store.save", func() error {
		return s.client.Set(ctx, slotKey(sessionID, slot), payload, s.ttl).Err()
	})
}

// Load returns the persisted slots of a session. Missing slots are omitted.
func (s *RedisSlotStore) Load(ctx context.Context, sessionID string) (map[Slot]upload.Image, error) {
	images := make(map[Slot]upload.Image, 2)
	for _, slot := range []Slot{SlotA, SlotB} {
		var raw string
		err := s.withRetry(ctx, sessionID, "store.load", func() error {
			value, err := s.client.Get(ctx, slotKey(sessionID, slot)).Result()
			if err != nil {
				return err
			}
			raw = value
			return nil
		})
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var img upload.Image
		if err := json.Unmarshal([]byte(raw), &img); err != nil {
			logging.WithOperation(s.logger, "store.load", sessionID).Warn("discarding undecodable slot",
				zap.Stringer("slot", slot), zap.Error(err))
			continue
		}
		images[slot] = img
	}
	return images, nil
}

// Delete forgets the slot image.
func (s *RedisSlotStore) Delete(ctx context.Context, sessionID string, slot Slot) error {
	return s.withRetry(ctx, sessionID, "store.delete", func() error {
		return s.client.Del(ctx, slotKey(sessionID, slot)).Err()
	})
}

func (s *RedisSlotStore) withRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, sessionID, err)
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
