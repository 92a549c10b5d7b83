package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/core"
)

// Store is the subset of the persistence gateway the registry needs.
type Store interface {
	ListServices(ctx context.Context) ([]*core.Service, error)
	UpsertService(ctx context.Context, def core.ServiceConfig) (*core.Service, error)
	DeleteServiceCascade(ctx context.Context, id int64) error
}

// Registry holds the reconciled, in-memory view of configured services
// and gates the rest of the process on startup reconciliation having
// completed (spec.md §4.C: "must not run concurrently with deployment
// scheduling").
type Registry struct {
	store Store
	log   *zap.Logger

	mu        sync.RWMutex
	byName    map[string]*core.Service
	ordered   []*core.Service
	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error
}

func New(store Store, log *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		log:    log,
		byName: make(map[string]*core.Service),
		ready:  make(chan struct{}),
	}
}

// Reconcile diffs the configured service set against what's persisted:
// absent services are cascade-deleted, present ones are upserted. Call
// once at startup before the HTTP surface or scheduler start.
func (r *Registry) Reconcile(ctx context.Context, configured []core.ServiceConfig) error {
	defer r.readyOnce.Do(func() { close(r.ready) })

	persisted, err := r.store.ListServices(ctx)
	if err != nil {
		r.readyErr = fmt.Errorf("list services: %w", err)
		return r.readyErr
	}

	wanted := make(map[string]struct{}, len(configured))
	for _, def := range configured {
		wanted[def.Name] = struct{}{}
	}

	for _, svc := range persisted {
		if _, ok := wanted[svc.Name]; !ok {
			r.log.Info("removing service no longer in configuration", zap.String("service", svc.Name))
			if err := r.store.DeleteServiceCascade(ctx, svc.ID); err != nil {
				r.readyErr = fmt.Errorf("delete service %q: %w", svc.Name, err)
				return r.readyErr
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := make([]*core.Service, 0, len(configured))
	for _, def := range configured {
		svc, err := r.store.UpsertService(ctx, def)
		if err != nil {
			r.readyErr = fmt.Errorf("upsert service %q: %w", def.Name, err)
			return r.readyErr
		}
		r.byName[svc.Name] = svc
		ordered = append(ordered, svc)
	}
	r.ordered = ordered

	r.log.Info("service registry reconciled", zap.Int("count", len(r.byName)))
	return nil
}

// WaitReady blocks until Reconcile has completed, returning its error if any.
func (r *Registry) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ByName returns the reconciled Service with the given name.
func (r *Registry) ByName(name string) (*core.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// FindByRepoAndBranch implements webhook.ServiceLookup: the first
// configured service whose (repository, branch) matches, in the order
// services appear in the configuration file (spec.md §4.B.4). Iterates
// the configuration-ordered slice rather than byName, since Go map
// iteration order is randomized and would make "first" non-deterministic
// when two services share a (repository, branch) pair.
func (r *Registry) FindByRepoAndBranch(repo, branch string) (*core.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.ordered {
		if s.Repository == repo && s.Branch == branch {
			return s, true
		}
	}
	return nil, false
}

// All returns every reconciled service, in configuration order.
func (r *Registry) All() []*core.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Service, len(r.ordered))
	copy(out, r.ordered)
	return out
}
