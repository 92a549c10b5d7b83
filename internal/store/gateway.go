package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nikitakiselev/pushbot/internal/core"
)

// CreateDeploymentRequest is the input to EnqueueOrRun.
type CreateDeploymentRequest struct {
	ServiceID     int64
	CommitSHA     *string
	CommitMessage *string
	Branch        *string
	TriggeredBy   core.TriggerSource
}

// EnqueueOrRun creates a Deployment for a service: queued if the service
// already has a running deployment, running otherwise. The decision and
// the insert happen in one serializable transaction so a concurrent
// webhook and a concurrent runner-completion can never both conclude
// "no one is running" (spec.md §4.A, §5).
func (g *Gateway) EnqueueOrRun(ctx context.Context, req CreateDeploymentRequest) (id int64, status core.DeploymentStatus, err error) {
	err = g.WithTx(ctx, func(tx *sql.Tx) error {
		running, ferr := findRunning(ctx, tx, req.ServiceID, true)
		if ferr != nil {
			return ferr
		}

		status = core.StatusRunning
		if running != nil {
			status = core.StatusQueued
		}

		d := &core.Deployment{
			ServiceID:     req.ServiceID,
			Status:        status,
			StartedAt:     time.Now(),
			CommitSHA:     req.CommitSHA,
			CommitMessage: req.CommitMessage,
			Branch:        req.Branch,
			TriggeredBy:   req.TriggeredBy,
		}

		newID, cerr := createDeployment(ctx, tx, d)
		if cerr != nil {
			return cerr
		}
		id = newID
		return nil
	})
	return id, status, err
}

// PopNextQueued atomically promotes the oldest queued Deployment for a
// service to running and returns it, or nil if the queue is empty.
func (g *Gateway) PopNextQueued(ctx context.Context, serviceID int64) (*core.Deployment, error) {
	var out *core.Deployment
	err := g.WithTx(ctx, func(tx *sql.Tx) error {
		d, perr := popNextQueued(ctx, tx, serviceID)
		if perr != nil {
			return perr
		}
		out = d
		return nil
	})
	return out, err
}

// FindRunning returns the currently running Deployment for a service, if any.
func (g *Gateway) FindRunning(ctx context.Context, serviceID int64) (*core.Deployment, error) {
	return findRunning(ctx, g.db, serviceID, false)
}

// UpdateStatus performs a bare status transition (used for queued ->
// running outside of PopNextQueued's own promotion, if ever needed by a
// caller that already holds the row).
func (g *Gateway) UpdateStatus(ctx context.Context, id int64, status core.DeploymentStatus) error {
	return updateStatus(ctx, g.db, id, status)
}

// Finalize records a Deployment's terminal outcome (spec.md §4.D.6).
func (g *Gateway) Finalize(ctx context.Context, id int64, status core.DeploymentStatus, finishedAt time.Time, exitCode int, stdout, stderr string) error {
	return finalizeDeployment(ctx, g.db, id, status, finishedAt, exitCode, stdout, stderr)
}

// GetDeployment fetches a single Deployment by id.
func (g *Gateway) GetDeployment(ctx context.Context, id int64) (*core.Deployment, error) {
	return getDeployment(ctx, g.db, id)
}

// ListRecent lists deployments, optionally filtered by status, newest first.
func (g *Gateway) ListRecent(ctx context.Context, limit int, status *core.DeploymentStatus) ([]*core.Deployment, error) {
	return listRecentDeployments(ctx, g.db, limit, status)
}

// ListActive lists every running or queued deployment, enriched with its
// service's name.
func (g *Gateway) ListActive(ctx context.Context) ([]*core.DeploymentWithService, error) {
	return listActiveWithService(ctx, g.db)
}

// PurgeTerminal deletes all success/failed deployments and returns the count removed.
func (g *Gateway) PurgeTerminal(ctx context.Context) (int64, error) {
	return purgeTerminal(ctx, g.db)
}

// ListServices lists every configured Service.
func (g *Gateway) ListServices(ctx context.Context) ([]*core.Service, error) {
	return listServices(ctx, g.db)
}

// GetServiceByName looks up a Service by its unique name.
func (g *Gateway) GetServiceByName(ctx context.Context, name string) (*core.Service, error) {
	return getServiceByName(ctx, g.db, name)
}

// GetServiceByID looks up a Service by its primary key.
func (g *Gateway) GetServiceByID(ctx context.Context, id int64) (*core.Service, error) {
	return getServiceByID(ctx, g.db, id)
}

// UpsertService inserts or overwrites a Service matched by name.
func (g *Gateway) UpsertService(ctx context.Context, def core.ServiceConfig) (*core.Service, error) {
	return upsertService(ctx, g.db, def)
}

// DeleteServiceCascade removes a Service and all of its Deployments.
func (g *Gateway) DeleteServiceCascade(ctx context.Context, id int64) error {
	return deleteServiceCascade(ctx, g.db, id)
}
