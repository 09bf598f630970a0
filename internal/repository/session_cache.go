package repository

import (
	"context"
	"time"

	"github.com/aulamcp/aula-mcp-server/internal/database"
	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
)

// SessionCacheSchema creates the table backing the postgres session store.
const SessionCacheSchema = `
	CREATE TABLE IF NOT EXISTS aula_session_cache (
		cache_key TEXT PRIMARY KEY,
		saved_at  TIMESTAMPTZ NOT NULL,
		payload   JSONB NOT NULL
	)`

type SessionCacheRepository interface {
	Find(ctx context.Context, key string) (*model.CachedSessionRow, error)
	Upsert(ctx context.Context, key string, savedAt time.Time, payload []byte) error
	Delete(ctx context.Context, key string) (int64, error)
}

type sessionCacheRepo struct {
	db database.DBTX
}

func NewSessionCacheRepository(db database.DBTX) SessionCacheRepository {
	return &sessionCacheRepo{db: db}
}

func (r *sessionCacheRepo) Find(ctx context.Context, key string) (*model.CachedSessionRow, error) {
	row, err := getOptional[model.CachedSessionRow](ctx, r.db, `
		SELECT cache_key, saved_at, payload FROM aula_session_cache WHERE cache_key = $1
	`, key)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return row, nil
}

func (r *sessionCacheRepo) Upsert(ctx context.Context, key string, savedAt time.Time, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO aula_session_cache (cache_key, saved_at, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE SET saved_at = EXCLUDED.saved_at, payload = EXCLUDED.payload
	`, key, savedAt, string(payload))
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

func (r *sessionCacheRepo) Delete(ctx context.Context, key string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM aula_session_cache WHERE cache_key = $1
	`, key)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return result.RowsAffected()
}
