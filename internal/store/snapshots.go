package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/compendium/internal/session"
)

// SnapshotPublisher mirrors live session snapshots into Redis so API reads
// never touch the session's lock path. Implements session.SnapshotPublisher.
type SnapshotPublisher struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotPublisher(rdb *redis.Client, ttl time.Duration) *SnapshotPublisher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotPublisher{rdb: rdb, ttl: ttl}
}

func snapshotKey(sessionID string) string {
	return fmt.Sprintf("compendium:session:%s:snapshot", sessionID)
}

func (p *SnapshotPublisher) Publish(ctx context.Context, snap session.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.rdb.Set(ctx, snapshotKey(snap.ID), blob, p.ttl).Err()
}

// LoadSnapshot reads the latest published snapshot, if one exists.
func (p *SnapshotPublisher) LoadSnapshot(ctx context.Context, sessionID string) (session.Snapshot, bool, error) {
	var snap session.Snapshot
	blob, err := p.rdb.Get(ctx, snapshotKey(sessionID)).Bytes()
	if err == redis.Nil {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if err := json.Unmarshal(blob, &snap); err != nil {
		return snap, false, err
	}
	return snap, true, nil
}
