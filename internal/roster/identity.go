package roster

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// IdentityStore keeps the learned mapping from live display names to roster member ids.
// Keys are normalized with NormalizeName.
type IdentityStore interface {
	Load(ctx context.Context, groupRef string) (map[string]string, error)
	Learn(ctx context.Context, groupRef, displayName, memberID string) error
}

// NormalizeName folds case and collapses whitespace so "  Jane   DOE " and "jane doe" compare equal.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// RedisIdentityStore stores one hash per group.
type RedisIdentityStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdentityStore builds a store using HSET/HGETALL under prefix.
func NewRedisIdentityStore(client *redis.Client, prefix string) *RedisIdentityStore {
	if prefix == "" {
		prefix = "liveclass:identities"
	}
	return &RedisIdentityStore{client: client, prefix: prefix}
}

func (s *RedisIdentityStore) key(groupRef string) string {
	return s.prefix + ":" + groupRef
}

// Load returns the learned identities for a group.
func (s *RedisIdentityStore) Load(ctx context.Context, groupRef string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key(groupRef)).Result()
}

// Learn records that displayName belongs to memberID.
func (s *RedisIdentityStore) Learn(ctx context.Context, groupRef, displayName, memberID string) error {
	return s.client.HSet(ctx, s.key(groupRef), NormalizeName(displayName), memberID).Err()
}

// MemoryIdentityStore is a process-local store for dev and tests.
type MemoryIdentityStore struct {
	mu     sync.RWMutex
	groups map[string]map[string]string
}

// NewMemoryIdentityStore creates an empty store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{groups: make(map[string]map[string]string)}
}

// Load returns a copy of the group's identities.
func (s *MemoryIdentityStore) Load(_ context.Context, groupRef string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.groups[groupRef]))
	for k, v := range s.groups[groupRef] {
		out[k] = v
	}
	return out, nil
}

// Learn records that displayName belongs to memberID.
func (s *MemoryIdentityStore) Learn(_ context.Context, groupRef, displayName, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupRef]
	if !ok {
		g = make(map[string]string)
		s.groups[groupRef] = g
	}
	g[NormalizeName(displayName)] = memberID
	return nil
}
