package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aulamcp/aula-mcp-server/internal/database"
)

// getOptional scans a single row into a new T. A missing row is (nil, nil).
func getOptional[T any](ctx context.Context, db database.DBTX, query string, args ...interface{}) (*T, error) {
	var row T
	err := db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
