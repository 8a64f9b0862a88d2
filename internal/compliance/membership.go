package compliance

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"

	"compliance-ledger/internal/domain"
)

// MemoryMembership is an in-memory Membership.
type MemoryMembership struct {
	mu      sync.RWMutex
	members map[domain.Address]struct{}
}

// NewMemoryMembership creates an empty in-memory set.
func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{members: make(map[domain.Address]struct{})}
}

func (m *MemoryMembership) Add(_ context.Context, addrs ...domain.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range addrs {
		m.members[a] = struct{}{}
	}
	return nil
}

func (m *MemoryMembership) Remove(_ context.Context, addrs ...domain.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range addrs {
		delete(m.members, a)
	}
	return nil
}

func (m *MemoryMembership) Contains(_ context.Context, addr domain.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[addr]
	return ok, nil
}

func (m *MemoryMembership) Members(_ context.Context) ([]domain.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]domain.Address, 0, len(m.members))
	for a := range m.members {
		result = append(result, a)
	}
	slices.Sort(result)
	return result, nil
}

// RedisMembership stores the set in a Redis SET so several ledger processes share one whitelist.
type RedisMembership struct {
	client redis.UniversalClient
	key    string
}

// NewRedisMembership creates a Membership backed by the Redis set at key.
func NewRedisMembership(client redis.UniversalClient, key string) *RedisMembership {
	return &RedisMembership{client: client, key: key}
}

func (r *RedisMembership) Add(ctx context.Context, addrs ...domain.Address) error {
	if len(addrs) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, r.key, toMembers(addrs)...).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisMembership) Remove(ctx context.Context, addrs ...domain.Address) error {
	if len(addrs) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, r.key, toMembers(addrs)...).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisMembership) Contains(ctx context.Context, addr domain.Address) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, string(addr)).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember %s: %w", r.key, err)
	}
	return ok, nil
}

func (r *RedisMembership) Members(ctx context.Context) ([]domain.Address, error) {
	raw, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", r.key, err)
	}
	result := make([]domain.Address, 0, len(raw))
	for _, m := range raw {
		result = append(result, domain.Address(m))
	}
	slices.Sort(result)
	return result, nil
}

func toMembers(addrs []domain.Address) []any {
	members := make([]any, len(addrs))
	for i, a := range addrs {
		members[i] = string(a)
	}
	return members
}

var (
	_ Membership = (*MemoryMembership)(nil)
	_ Membership = (*RedisMembership)(nil)
)
