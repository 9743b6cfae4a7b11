// Package state keeps the per-user conversation state between inbound messages.
// The users table is the record of truth; Redis fronts it when configured.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fotoagenda/internal/database"
	"fotoagenda/internal/models"
)

// ErrNotFound is returned by Get when no state is stored for the user.
var ErrNotFound = errors.New("conversation state not found")

// Store reads and writes conversation state by user id.
type Store interface {
	Get(ctx context.Context, userID int64) (*models.Conversation, error)
	Save(ctx context.Context, userID int64, c models.Conversation) error
	Clear(ctx context.Context, userID int64) error
}

// RedisStore keeps conversation state as JSON with a TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func conversationKey(userID int64) string {
	return "fotoagenda:conversation:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (*models.Conversation, error) {
	raw, err := s.rdb.Get(ctx, conversationKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get conversation: %w", err)
	}
	var c models.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, userID int64, c models.Conversation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, conversationKey(userID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	return s.rdb.Del(ctx, conversationKey(userID)).Err()
}

// DBStore reads and writes the conversation columns of the users table.
type DBStore struct {
	db *database.DB
}

func NewDBStore(db *database.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(ctx context.Context, userID int64) (*models.Conversation, error) {
	u, err := s.db.GetUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := u.Conversation()
	return &c, nil
}

func (s *DBStore) Save(ctx context.Context, userID int64, c models.Conversation) error {
	err := s.db.SaveConversation(ctx, userID, c)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *DBStore) Clear(ctx context.Context, userID int64) error {
	return s.Save(ctx, userID, models.Conversation{State: models.StateIdle})
}
