// Package archive is a write-behind, best-effort audit log of committed
// turns. It is never consulted by the Session Store or the Pipeline
// Manager's context snapshot — losing the archive loses nothing the live
// system needs, only offline visibility.
package archive

import (
	"context"
	"time"
)

// TurnRecord is one committed turn, ready for durable storage.
type TurnRecord struct {
	SessionID string
	Role      string
	Text      string
	CreatedAt time.Time
}

// Store persists committed turns for later inspection. Implementations must
// not block the caller on a slow or unavailable backend; see Archiver for
// the async wrapper every Store should be used through.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	Close() error
}
