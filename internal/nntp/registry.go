package nntp

import (
	"context"
	"fmt"
	"sort"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
)

// Registry owns one pool per provider, held in priority order (lowest rank
// first). It replaces any notion of a process-wide pool map: construct one
// at startup and pass it around.
type Registry struct {
	log   *logger.Logger
	pools []*Pool
}

func NewRegistry(providers []domain.Provider, log *logger.Logger, opts PoolOptions) *Registry {
	sorted := make([]domain.Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	r := &Registry{log: log}
	for _, p := range sorted {
		r.pools = append(r.pools, NewPool(p, log, opts))
	}
	return r
}

// Init brings up every pool. A provider that cannot open a single
// connection fails initialization outright; redundancy is pointless if a
// configured endpoint is unreachable at startup.
func (r *Registry) Init(ctx context.Context) error {
	for _, pool := range r.pools {
		r.log.Info("Validating provider: %s", pool.Provider().ID)
		if err := pool.Init(ctx); err != nil {
			return fmt.Errorf("provider %s: %w", pool.Provider().ID, err)
		}
		if err := pool.Ping(ctx); err != nil {
			r.log.Warn("provider %s: probe failed: %v", pool.Provider().ID, err)
		}
	}
	return nil
}

// Pools returns the pools in priority order. Callers must not mutate it.
func (r *Registry) Pools() []*Pool { return r.pools }

// TotalCapacity is the connection ceiling across all providers.
func (r *Registry) TotalCapacity() int {
	total := 0
	for _, pool := range r.pools {
		total += pool.Provider().MaxConnection
	}
	return total
}

func (r *Registry) Close() {
	for _, pool := range r.pools {
		pool.Close()
	}
}
