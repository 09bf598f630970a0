package sessionstore

import (
	"context"
	"time"

	"github.com/aulamcp/aula-mcp-server/internal/repository"
)

type postgresBackend struct {
	repo repository.SessionCacheRepository
	key  string
}

func NewPostgresStore(repo repository.SessionCacheRepository, key string, opts ...Option) *Store {
	return newStore(&postgresBackend{repo: repo, key: key}, opts...)
}

func (b *postgresBackend) name() string {
	return "postgres"
}

func (b *postgresBackend) read(ctx context.Context) ([]byte, error) {
	row, err := b.repo.Find(ctx, b.key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errNotFound
	}
	return row.Payload, nil
}

func (b *postgresBackend) write(ctx context.Context, payload []byte, savedAt time.Time) error {
	return b.repo.Upsert(ctx, b.key, savedAt, payload)
}

func (b *postgresBackend) remove(ctx context.Context) error {
	_, err := b.repo.Delete(ctx, b.key)
	return err
}
