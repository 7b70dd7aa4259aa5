// Package registry is the thin Machine Registry (C5) query layer consumed
// by the executor and the conversation flow wizard. It adds no state of
// its own — internal/store already owns the machines table per SPEC_FULL's
// module map ("a transactional row store with... a machine registry...")
// — and exists only to give C5's handful of operations a narrow interface
// independent of the store's full C6/Topic surface.
package registry

import (
	"context"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

// Store is the subset of internal/store's Store that Registry needs.
type Store interface {
	UpsertMachine(ctx context.Context, m domain.Machine) error
	Heartbeat(ctx context.Context, machineID string, activeTasks int) error
	Available(ctx context.Context, hbFresh time.Duration) ([]domain.Machine, error)
	BestForProject(ctx context.Context, hbFresh time.Duration, project, engine string) (domain.Machine, bool, error)
	SweepStaleMachines(ctx context.Context, hbStale time.Duration) error
	ResolveAlias(ctx context.Context, alias string) (domain.Machine, bool, error)
}

// Registry exposes C5's operations with the freshness window baked in.
type Registry struct {
	store   Store
	hbFresh time.Duration
	hbStale time.Duration
}

// New returns a Registry backed by store, using hbFresh/hbStale as the
// freshness and staleness windows spec §3/§4.5 name HB_FRESH/HB_STALE.
func New(store Store, hbFresh, hbStale time.Duration) *Registry {
	return &Registry{store: store, hbFresh: hbFresh, hbStale: hbStale}
}

// Register upserts a machine row at worker startup.
func (r *Registry) Register(ctx context.Context, m domain.Machine) error {
	return r.store.UpsertMachine(ctx, m)
}

// Heartbeat records liveness and current load for machineID.
func (r *Registry) Heartbeat(ctx context.Context, machineID string, activeTasks int) error {
	return r.store.Heartbeat(ctx, machineID, activeTasks)
}

// Available returns machines fresh within HB_FRESH with spare capacity.
func (r *Registry) Available(ctx context.Context) ([]domain.Machine, error) {
	return r.store.Available(ctx, r.hbFresh)
}

// BestForProject picks a dispatch target for project/engine per spec §4.5.
func (r *Registry) BestForProject(ctx context.Context, project, engine string) (domain.Machine, bool, error) {
	return r.store.BestForProject(ctx, r.hbFresh, project, engine)
}

// ResolveAlias resolves a user-typed machine alias to a row.
func (r *Registry) ResolveAlias(ctx context.Context, alias string) (domain.Machine, bool, error) {
	return r.store.ResolveAlias(ctx, alias)
}

// SweepStale marks machines offline once their heartbeat exceeds HB_STALE.
// Intended to run on a cron.Schedule alongside the task-store sweep.
func (r *Registry) SweepStale(ctx context.Context) error {
	return r.store.SweepStaleMachines(ctx, r.hbStale)
}
