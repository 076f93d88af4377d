// Package storage defines the optional mirror storage backends that receive
// a copy of every persisted sample batch. Mirrors are best-effort: a mirror
// failure never affects the primary SQLite store.
package storage

import (
	"context"
	"sync"

	"github.com/vietrtk/corsmon/internal/types"
)

// Engine is a secondary storage backend. StartStorageEngine launches the
// engine's consumer goroutine and returns the channel samples are fed into.
type Engine interface {
	StartStorageEngine(context.Context, *sync.WaitGroup) chan<- types.Sample
}
