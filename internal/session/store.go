package session

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/vmihailenco/msgpack"
)

// Store persists sessions by id.
type Store interface {
	// Load reports a missing or expired session with ok == false and a nil error.
	Load(ctx context.Context, id string) (s *Session, ok bool, err error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

func encode(s *Session) ([]byte, error) {
	data, err := msgpack.Marshal(s)
	return data, errors.WrapIf(err, "failed to encode session")
}

func decode(id string, data []byte) (*Session, error) {
	var s Session
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, errors.WrapIf(err, "failed to decode session")
	}
	s.ID = id
	return &s, nil
}

const redisKeyPrefix = "polls:session:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, errors.WrapIf(err, "failed to load session")
	}

	s, err := decode(id, data)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session, ttl time.Duration) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	return errors.WrapIf(r.client.Set(ctx, redisKeyPrefix+s.ID, data, ttl).Err(), "failed to save session")
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return errors.WrapIf(r.client.Del(ctx, redisKeyPrefix+id).Err(), "failed to delete session")
}

// MemoryStore keeps encoded sessions in process.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, bool, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return nil, false, nil
	}

	s, err := decode(id, v.([]byte))
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session, ttl time.Duration) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	m.c.Set(s.ID, data, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}
