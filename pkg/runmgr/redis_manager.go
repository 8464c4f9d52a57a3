package runmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// releaseScript drops the claim only if the caller still holds it. Atomic so
// an expired claim re-acquired by another run cannot be released by the
// original holder.
var releaseScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager coordinates runs across nodes. Claims use SetNX with a TTL so
// a crashed node cannot hold a case forever.
type RedisManager struct {
	client   *redis.Client
	claimTTL time.Duration
}

// NewRedisManager connects to Redis at addr. claimTTL bounds how long a
// crashed run keeps its claim; zero means 30 minutes.
func NewRedisManager(addr, password string, db int, claimTTL time.Duration) *RedisManager {
	if claimTTL <= 0 {
		claimTTL = 30 * time.Minute
	}
	return &RedisManager{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		claimTTL: claimTTL,
	}
}

func claimKey(caseID string) string    { return "dossier:run:" + caseID }
func snapshotKey(caseID string) string { return "dossier:snapshot:" + caseID }

func (m *RedisManager) Claim(ctx context.Context, caseID, runID string) error {
	ok, err := m.client.SetNX(ctx, claimKey(caseID), runID, m.claimTTL).Result()
	if err != nil {
		return fmt.Errorf("runmgr: redis claim: %w", err)
	}
	if ok {
		return nil
	}
	holder, err := m.client.Get(ctx, claimKey(caseID)).Result()
	if err == nil && holder == runID {
		// Re-entrant claim by the same run; refresh the TTL.
		if err := m.client.Expire(ctx, claimKey(caseID), m.claimTTL).Err(); err != nil {
			return fmt.Errorf("runmgr: redis refresh claim: %w", err)
		}
		return nil
	}
	return ErrAlreadyRunning
}

func (m *RedisManager) Release(ctx context.Context, caseID, runID string) error {
	res, err := releaseScript.Run(ctx, m.client, []string{claimKey(caseID)}, runID).Result()
	if err != nil {
		return fmt.Errorf("runmgr: redis release: %w", err)
	}
	if deleted, ok := res.(int64); !ok || deleted == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (m *RedisManager) ActiveRun(ctx context.Context, caseID string) (string, bool, error) {
	holder, err := m.client.Get(ctx, claimKey(caseID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("runmgr: redis active run: %w", err)
	}
	return holder, true, nil
}

func (m *RedisManager) Publish(ctx context.Context, snap contracts.RunSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("runmgr: marshal snapshot: %w", err)
	}
	if err := m.client.Set(ctx, snapshotKey(snap.CaseID), data, 0).Err(); err != nil {
		return fmt.Errorf("runmgr: redis publish snapshot: %w", err)
	}
	return nil
}

func (m *RedisManager) Snapshot(ctx context.Context, caseID string) (contracts.RunSnapshot, error) {
	data, err := m.client.Get(ctx, snapshotKey(caseID)).Bytes()
	if err == redis.Nil {
		return contracts.RunSnapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return contracts.RunSnapshot{}, fmt.Errorf("runmgr: redis snapshot: %w", err)
	}
	var snap contracts.RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return contracts.RunSnapshot{}, fmt.Errorf("runmgr: decode snapshot: %w", err)
	}
	return snap, nil
}
