package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/timeclock/attendance"
)

// Redis keeps sessions in Redis so they survive restarts and are shared
// between replicas. Expiry is delegated to the key TTL.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ attendance.SessionStore = (*Redis)(nil)

// NewRedis connects to redisURL (redis://host:port/db) and pings it.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisClient(client), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "timeclock:session:"}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(requesterID string) string {
	return r.prefix + requesterID
}

func (r *Redis) Get(ctx context.Context, requesterID string) (attendance.Session, error) {
	data, err := r.client.Get(ctx, r.key(requesterID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return attendance.Session{}, attendance.ErrNoSession
	}
	if err != nil {
		return attendance.Session{}, attendance.Transient(fmt.Errorf("failed to get session: %w", err))
	}

	var s attendance.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return attendance.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.Expired(time.Now()) {
		return attendance.Session{}, attendance.ErrNoSession
	}
	return s, nil
}

func (r *Redis) Put(ctx context.Context, s attendance.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, s.RequesterID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.RequesterID), data, ttl).Err(); err != nil {
		return attendance.Transient(fmt.Errorf("failed to save session: %w", err))
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, requesterID string) error {
	if err := r.client.Del(ctx, r.key(requesterID)).Err(); err != nil {
		return attendance.Transient(fmt.Errorf("failed to delete session: %w", err))
	}
	return nil
}
