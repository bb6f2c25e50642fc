// Package database mirrors the published snapshot into Redis so other
// processes can read the monitor's view without talking to it.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"order-monitor/engine"
)

// KV is the subset of redis.Cmdable the repository needs. *redis.Client
// satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type SnapshotRepository struct {
	client   KV
	instance string
	ttl      time.Duration
}

func NewSnapshotRepository(client KV, instance string, ttl time.Duration) *SnapshotRepository {
	return &SnapshotRepository{
		client:   client,
		instance: instance,
		ttl:      ttl,
	}
}

func (r *SnapshotRepository) snapshotKey() string {
	return fmt.Sprintf("monitor:snapshot:%s", r.instance)
}

func (r *SnapshotRepository) connectedKey() string {
	return fmt.Sprintf("monitor:connected:%s", r.instance)
}

// GetSnapshot returns the mirrored snapshot, or nil when none is stored.
func (r *SnapshotRepository) GetSnapshot(ctx context.Context) (*engine.Snapshot, error) {
	data, err := r.client.Get(ctx, r.snapshotKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot stores s and refreshes the connected flag alongside it.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, s *engine.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.snapshotKey(), data, r.ttl).Err(); err != nil {
		return err
	}
	return r.SetConnected(ctx, s.Connected)
}

// GetConnected reports the last mirrored connection flag; false when absent.
func (r *SnapshotRepository) GetConnected(ctx context.Context) (bool, error) {
	val, err := r.client.Get(ctx, r.connectedKey()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (r *SnapshotRepository) SetConnected(ctx context.Context, connected bool) error {
	val := "0"
	if connected {
		val = "1"
	}
	return r.client.Set(ctx, r.connectedKey(), val, r.ttl).Err()
}

// Clear removes both keys for this instance.
func (r *SnapshotRepository) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.snapshotKey(), r.connectedKey()).Err()
}
