package securestore

import (
	"context"
	"sync/atomic"
	"time"

	"synckit/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverStore serves from the primary store and falls back to the
// secondary when the primary errors, retrying the primary after a cooldown.
type FailoverStore struct {
	primary   domain.SecureStore
	fallback  domain.SecureStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

const recoveryInterval = time.Minute

func NewFailoverStore(primary, fallback domain.SecureStore, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *FailoverStore) primaryUsable() bool {
	if !s.isDown.Load() {
		return true
	}
	last := time.Unix(0, s.lastCheck.Load())
	if time.Since(last) > recoveryInterval {
		s.isDown.Store(false)
		return true
	}
	return false
}

func (s *FailoverStore) markDown(err error) {
	s.logger.Error().Err(err).Msg("primary secure store failed, falling back to memory")
	s.isDown.Store(true)
	s.lastCheck.Store(time.Now().UnixNano())
}

func (s *FailoverStore) Get(ctx context.Context, key string) (string, error) {
	if s.primaryUsable() {
		val, err := s.primary.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		s.markDown(err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *FailoverStore) Set(ctx context.Context, key, value string) error {
	if s.primaryUsable() {
		err := s.primary.Set(ctx, key, value)
		if err == nil {
			// Mirror into the fallback so a later failover still sees it.
			_ = s.fallback.Set(ctx, key, value)
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.Set(ctx, key, value)
}

func (s *FailoverStore) Delete(ctx context.Context, key string) error {
	var primaryErr error
	if s.primaryUsable() {
		primaryErr = s.primary.Delete(ctx, key)
		if primaryErr != nil {
			s.markDown(primaryErr)
		}
	}
	return s.fallback.Delete(ctx, key)
}
