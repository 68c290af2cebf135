package staff

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"clinica.app/internal/auth"
)

var ErrMiss = errors.New("cache miss")

// KV is the slice of Redis used for server-side sessions.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

// RedisCodec keeps descriptors server-side; the cookie holds only a random
// opaque id. Logout deletes the key, so revocation is immediate.
type RedisCodec struct {
	kv     KV
	ttl    time.Duration
	prefix string
}

func NewRedisCodec(kv KV, ttl time.Duration) *RedisCodec {
	return &RedisCodec{kv: kv, ttl: ttl, prefix: "staff_session:"}
}

func (c *RedisCodec) Encode(ctx context.Context, s auth.Session) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	if err := c.kv.Set(ctx, c.prefix+id, string(payload), c.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

func (c *RedisCodec) Decode(ctx context.Context, value string) (auth.Session, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	raw, err := c.kv.Get(ctx, c.prefix+value)
	if errors.Is(err, ErrMiss) {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	if err != nil {
		return auth.Session{}, fmt.Errorf("load session: %w", err)
	}
	var s auth.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.RoleUserID == "" {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	return s, nil
}

func (c *RedisCodec) Revoke(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return c.kv.Del(ctx, c.prefix+value)
}

func newSessionID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
