// Package sessionstore persists the portal session between process runs.
// Every failure is logged and reported as false or absent, never returned.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aulamcp/aula-mcp-server/internal/model"
)

var errNotFound = errors.New("no cached session")

type backend interface {
	name() string
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, payload []byte, savedAt time.Time) error
	remove(ctx context.Context) error
}

type Option func(*Store)

// WithEncryptionKey encrypts the transport state with AES-256-GCM.
func WithEncryptionKey(hexKey string) Option {
	return func(s *Store) {
		s.codec.encryptionKey = hexKey
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type Store struct {
	backend backend
	codec   codec
	now     func() time.Time
}

func newStore(b backend, opts ...Option) *Store {
	s := &Store{backend: b, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save overwrites the cached session with snap.
func (s *Store) Save(ctx context.Context, snap *model.Snapshot) bool {
	if snap == nil {
		return false
	}

	savedAt := s.now()
	payload, err := s.codec.encode(snap, savedAt)
	if err != nil {
		log.Error().Err(err).Str("store", s.backend.name()).Msg("failed to encode session")
		return false
	}

	if err := s.backend.write(ctx, payload, savedAt); err != nil {
		log.Error().Err(err).Str("store", s.backend.name()).Msg("failed to save session")
		return false
	}

	log.Debug().Str("store", s.backend.name()).Msg("session saved")
	return true
}

// Load returns the cached session if one exists and is no older than maxAge.
func (s *Store) Load(ctx context.Context, maxAge time.Duration) (*model.Snapshot, bool) {
	payload, err := s.backend.read(ctx)
	if errors.Is(err, errNotFound) {
		log.Debug().Str("store", s.backend.name()).Msg("no cached session")
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("store", s.backend.name()).Msg("failed to read session")
		return nil, false
	}

	snap, savedAt, err := s.codec.decode(payload)
	if err != nil {
		log.Warn().Err(err).Str("store", s.backend.name()).Msg("discarding unreadable session")
		return nil, false
	}

	age := s.now().Sub(savedAt)
	if age > maxAge {
		log.Info().Dur("age", age).Dur("max_age", maxAge).Msg("cached session is stale")
		return nil, false
	}

	return snap, true
}

// Clear removes the cached session. Clearing an absent session succeeds.
func (s *Store) Clear(ctx context.Context) bool {
	if err := s.backend.remove(ctx); err != nil {
		log.Error().Err(err).Str("store", s.backend.name()).Msg("failed to clear session")
		return false
	}
	log.Debug().Str("store", s.backend.name()).Msg("session cleared")
	return true
}
