// Package redisinbox keeps per-user notification records in Redis.
//
// Key format: notif:<user_id> is a hash of notification id to JSON record.
// The key expires after Retention without new writes.
package redisinbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"ticketflow/internal/model"
)

const (
	defaultTimeout   = 5 * time.Second
	DefaultRetention = 30 * 24 * time.Hour
)

// Config captures the settings for establishing a Redis connection.
type Config struct {
	Addr    string
	DB      int
	Timeout time.Duration
}

// Connect initialises a Redis client and validates connectivity with a ping.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

type Inbox struct {
	client    *redis.Client
	retention time.Duration
	prefix    string
}

func New(client *redis.Client, retention time.Duration) *Inbox {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Inbox{client: client, retention: retention, prefix: "notif:"}
}

func (i *Inbox) key(userID string) string {
	return i.prefix + userID
}

func (i *Inbox) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.UserID == "" {
		return model.Notification{}, errors.New("missing user id")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return model.Notification{}, err
	}

	key := i.key(n.UserID)
	_, err = i.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, n.ID, data)
		p.Expire(ctx, key, i.retention)
		return nil
	})
	if err != nil {
		return model.Notification{}, fmt.Errorf("store notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the user's notifications newest first.
func (i *Inbox) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	raw, err := i.client.HGetAll(ctx, i.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]model.Notification, 0, len(raw))
	for _, v := range raw {
		var n model.Notification
		if err := json.Unmarshal([]byte(v), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (i *Inbox) MarkNotificationRead(ctx context.Context, userID, id string) (model.Notification, error) {
	key := i.key(userID)
	v, err := i.client.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Notification{}, fmt.Errorf("notification %q: %w", id, model.ErrNotFound)
		}
		return model.Notification{}, fmt.Errorf("get notification: %w", err)
	}

	var n model.Notification
	if err := json.Unmarshal([]byte(v), &n); err != nil {
		return model.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	n.Read = true
	data, err := json.Marshal(n)
	if err != nil {
		return model.Notification{}, err
	}
	if err := i.client.HSet(ctx, key, id, data).Err(); err != nil {
		return model.Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}
