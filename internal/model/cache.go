package model

import "time"

// CachedSessionRow is one persisted session document in postgres.
type CachedSessionRow struct {
	CacheKey string    `db:"cache_key"`
	SavedAt  time.Time `db:"saved_at"`
	Payload  []byte    `db:"payload"`
}
