package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/vietrtk/corsmon/internal/types"
	"github.com/vietrtk/corsmon/pkg/config"
)

// Manager fans persisted samples out to every configured mirror engine.
type Manager struct {
	engines     []registeredEngine
	distributor chan types.Sample
}

type registeredEngine struct {
	engine Engine
	c      chan<- types.Sample
}

// NewManager creates a Manager with every mirror backend the configuration
// enables. With no mirrors configured the distributor silently discards.
func NewManager(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		distributor: make(chan types.Sample, 64),
	}

	wg.Add(1)
	go m.startDistributor(ctx, wg)

	if cfg.Mirror.TimescaleDB.ConnectionString != "" {
		engine, err := NewTimescaleDBEngine(cfg.Mirror.TimescaleDB.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("could not add TimescaleDB mirror backend: %w", err)
		}
		m.engines = append(m.engines, registeredEngine{
			engine: engine,
			c:      engine.StartStorageEngine(ctx, wg),
		})
	}

	return m, nil
}

// Distribute hands one cycle's samples to the mirror engines. Never blocks
// the sampler: when a mirror is saturated the sample is dropped for that
// mirror only.
func (m *Manager) Distribute(samples []types.Sample) {
	for _, s := range samples {
		select {
		case m.distributor <- s:
		default:
		}
	}
}

func (m *Manager) startDistributor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case s := <-m.distributor:
			for _, e := range m.engines {
				select {
				case e.c <- s:
				default:
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
