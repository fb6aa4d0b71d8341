package archive

import "context"

// NoopStore discards every record. It backs the archive when DATABASE_URL
// is unset.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (NoopStore) SaveTurn(context.Context, TurnRecord) error { return nil }

func (NoopStore) Close() error { return nil }
