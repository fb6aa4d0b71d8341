package archive

import (
	"context"
	"strings"
)

// NewStore returns a Postgres-backed Store when databaseURL is set,
// otherwise a no-op Store.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewNoopStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
