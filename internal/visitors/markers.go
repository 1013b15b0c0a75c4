package visitors

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

// MarkerStore persists prior-visit markers. Implementations must be safe for
// concurrent use.
type MarkerStore interface {
	// Seen reports whether a marker exists for the signature.
	Seen(ctx context.Context, signature string) (bool, error)
	// Mark records that the visitor has now been seen.
	Mark(ctx context.Context, signature string) error
}

// RedisMarkerStore keeps visit markers in Redis with a bounded lifetime.
type RedisMarkerStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMarkerStore creates a marker store backed by the given Redis instance.
func NewRedisMarkerStore(addr, password string, db int, ttl time.Duration) *RedisMarkerStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisMarkerStore{client: client, ttl: ttl}
}

// NewRedisMarkerStoreWithClient wraps an existing client; used in tests.
func NewRedisMarkerStoreWithClient(client *redis.Client, ttl time.Duration) *RedisMarkerStore {
	return &RedisMarkerStore{client: client, ttl: ttl}
}

func markerKey(signature string) string {
	return fmt.Sprintf("visit:%s", signature)
}

// Seen reports whether a marker exists for the signature.
func (s *RedisMarkerStore) Seen(ctx context.Context, signature string) (bool, error) {
	n, err := s.client.Exists(ctx, markerKey(signature)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check visit marker: %w", err)
	}
	return n > 0, nil
}

// Mark records that the visitor has now been seen, refreshing the marker TTL.
func (s *RedisMarkerStore) Mark(ctx context.Context, signature string) error {
	if err := s.client.Set(ctx, markerKey(signature), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store visit marker: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisMarkerStore) Close() error {
	return s.client.Close()
}

// NullMarkerStore is used when no marker storage is configured. Every visitor
// reads as unseen, so detection degrades to FIRST_VISIT.
type NullMarkerStore struct{}

func (NullMarkerStore) Seen(context.Context, string) (bool, error) { return false, nil }
func (NullMarkerStore) Mark(context.Context, string) error         { return nil }

// ResolveFirstVisit checks the marker store and records the visit. Marker
// storage being unavailable degrades to first-visit (fail-open), never to an
// error on the session-start path.
func ResolveFirstVisit(ctx context.Context, store MarkerStore, logger *slog.Logger, signature string) bool {
	seen, err := store.Seen(ctx, signature)
	if err != nil {
		logger.Warn("Visit marker store unavailable, degrading to first visit", slog.Any("error", err))
		return true
	}

	if err := store.Mark(ctx, signature); err != nil {
		logger.Warn("Failed to record visit marker", slog.Any("error", err))
	}

	return !seen
}
