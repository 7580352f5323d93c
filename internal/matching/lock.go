package matching

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRunInProgress is returned when another reconciliation of the same
// claimant holds the run lock.
var ErrRunInProgress = errors.New("reconciliation already running for claimant")

// DefaultLockTTL bounds how long a crashed run can block its claimant.
const DefaultLockTTL = 10 * time.Minute

// Locker serialises reconciler runs per claimant. Acquire returns a release
// func on success and ErrRunInProgress when the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, claimantID int64) (release func(), err error)
}

// ─── In-process ──────────────────────────────────────────────────────────────

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, claimantID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[claimantID]; ok {
		return nil, ErrRunInProgress
	}
	l.held[claimantID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, claimantID)
			l.mu.Unlock()
		})
	}, nil
}

// ─── Redis ───────────────────────────────────────────────────────────────────

const lockKeyPrefix = "matching:lock:claimant:"

// releaseScript deletes the lock only if it still carries our token, so an
// expired-then-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker shares the per-claimant lock between service instances.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker returns a Locker backed by SET NX with a TTL.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, claimantID int64) (func(), error) {
	key := lockKeyPrefix + strconv.FormatInt(claimantID, 10)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func() {
		// The run context may already be cancelled; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
	}, nil
}
