package authstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Persisted is the stored form of a session: the tokens and enough identity
// to report who it belonged to without a round trip.
type Persisted struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	UserID       string `json:"user_id"`
	Email        string `json:"email,omitempty"`
}

func persistedFrom(s *Session) *Persisted {
	p := &Persisted{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		UserID:       s.User.ID,
		Email:        s.User.Email,
	}
	if !s.ExpiresAt.IsZero() {
		p.ExpiresAt = s.ExpiresAt.Unix()
	}
	return p
}

// Persister stores session tokens under a key. Load returns nil, nil when
// nothing is stored.
type Persister interface {
	Load(ctx context.Context, key string) (*Persisted, error)
	Save(ctx context.Context, key string, p *Persisted) error
	Delete(ctx context.Context, key string) error
}

type RedisPersister struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPersister(client *redis.Client, prefix string, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisPersister) Load(ctx context.Context, key string) (*Persisted, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode persisted session: %w", err)
	}
	return &p, nil
}

func (r *RedisPersister) Save(ctx context.Context, key string, p *Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode persisted session: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisPersister) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// MemoryPersister keeps sessions in process memory. Sessions do not survive a
// restart.
type MemoryPersister struct {
	mu    sync.Mutex
	items map[string]Persisted
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{items: make(map[string]Persisted)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) (*Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryPersister) Save(_ context.Context, key string, p *Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = *p
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
