package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fotoagenda/internal/models"
)

const recheckInterval = time.Minute

// FailoverStore serves reads from a cache and falls back to the durable store
// when the cache misses or fails. Writes always reach the durable store first.
// A failing cache is skipped until recheckInterval has passed.
type FailoverStore struct {
	cache     Store
	durable   Store
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(cache, durable Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{cache: cache, durable: durable, logger: logger}
}

func (s *FailoverStore) cacheAvailable() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastCheck) < recheckInterval {
		return false
	}
	s.lastCheck = time.Now()
	return true
}

func (s *FailoverStore) markDown(err error) {
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Msg("Conversation cache unavailable, using database")
	}
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
}

func (s *FailoverStore) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("Conversation cache recovered")
	}
}

func (s *FailoverStore) Get(ctx context.Context, userID int64) (*models.Conversation, error) {
	if s.cacheAvailable() {
		c, err := s.cache.Get(ctx, userID)
		switch {
		case err == nil:
			s.markUp()
			return c, nil
		case errors.Is(err, ErrNotFound):
			s.markUp()
		default:
			s.markDown(err)
		}
	}

	c, err := s.durable.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.isDown.Load() {
		if err := s.cache.Save(ctx, userID, *c); err != nil {
			s.markDown(err)
		}
	}
	return c, nil
}

func (s *FailoverStore) Save(ctx context.Context, userID int64, c models.Conversation) error {
	if err := s.durable.Save(ctx, userID, c); err != nil {
		return err
	}
	if s.cacheAvailable() {
		if err := s.cache.Save(ctx, userID, c); err != nil {
			s.markDown(err)
			return nil
		}
		s.markUp()
	}
	return nil
}

func (s *FailoverStore) Clear(ctx context.Context, userID int64) error {
	if err := s.durable.Clear(ctx, userID); err != nil {
		return err
	}
	if s.cacheAvailable() {
		if err := s.cache.Clear(ctx, userID); err != nil {
			s.markDown(err)
		}
	}
	return nil
}
