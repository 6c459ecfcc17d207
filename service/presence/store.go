package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis"
)

// Store records heartbeats. A user is online while their last heartbeat is
// younger than the store's TTL.
type Store interface {
	Touch(ctx context.Context, userID uint, at time.Time) error
	// LastSeen reports the last heartbeat; ok is false once it has expired.
	LastSeen(ctx context.Context, userID uint) (at time.Time, ok bool, err error)
	Online(ctx context.Context, userIDs []uint) (map[uint]bool, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	seen map[uint]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{seen: make(map[uint]time.Time), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Touch(_ context.Context, userID uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.seen[userID]; !ok || at.After(prev) {
		s.seen[userID] = at
	}
	return nil
}

func (s *MemoryStore) LastSeen(_ context.Context, userID uint) (time.Time, bool, error) {
	s.mu.RLock()
	at, ok := s.seen[userID]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false, nil
	}
	if s.expired(at) {
		s.mu.Lock()
		if cur, still := s.seen[userID]; still && s.expired(cur) {
			delete(s.seen, userID)
		}
		s.mu.Unlock()
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (s *MemoryStore) Online(ctx context.Context, userIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(userIDs))
	for _, id := range userIDs {
		_, ok, _ := s.LastSeen(ctx, id)
		out[id] = ok
	}
	return out, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, at := range s.seen {
		if s.expired(at) {
			delete(s.seen, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) expired(at time.Time) bool {
	return s.now().Sub(at) >= s.ttl
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis instance at url (redis://host:port/db)
// and verifies it answers.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func presenceKey(userID uint) string {
	return "presence:" + strconv.FormatUint(uint64(userID), 10)
}

func (s *RedisStore) Touch(ctx context.Context, userID uint, at time.Time) error {
	return s.client.WithContext(ctx).Set(presenceKey(userID), at.Unix(), s.ttl).Err()
}

func (s *RedisStore) LastSeen(ctx context.Context, userID uint) (time.Time, bool, error) {
	secs, err := s.client.WithContext(ctx).Get(presenceKey(userID)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(secs, 0).UTC(), true, nil
}

func (s *RedisStore) Online(ctx context.Context, userIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	values, err := s.client.WithContext(ctx).MGet(keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, id := range userIDs {
		out[id] = i < len(values) && values[i] != nil
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
