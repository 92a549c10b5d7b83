package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nikitakiselev/pushbot/internal/core"
)

// createDeployment inserts a new Deployment row and returns its id.
// Grounded on switchyard-api/internal/db/deployment_repository.go's
// Create, adapted from a uuid primary key to the spec's monotonically
// assigned integer id (see DESIGN.md Open Question decisions).
func createDeployment(ctx context.Context, db DBTX, d *core.Deployment) (int64, error) {
	const q = `
		INSERT INTO deployments
			(service_id, status, started_at, commit_sha, commit_message, branch, triggered_by, stdout, stderr)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '')
		RETURNING id`

	var id int64
	err := db.QueryRowContext(ctx, q,
		d.ServiceID, d.Status, d.StartedAt, d.CommitSHA, d.CommitMessage, d.Branch, d.TriggeredBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create deployment: %w", err)
	}
	return id, nil
}

// findRunning returns the Deployment currently running for a service, if
// any. Locks the row FOR UPDATE when forUpdate is set (callers pass true
// only inside a transaction) so a concurrent enqueue/pop_next_queued
// cannot race past it (spec.md §4.A).
func findRunning(ctx context.Context, db DBTX, serviceID int64, forUpdate bool) (*core.Deployment, error) {
	q := `
		SELECT id, service_id, status, started_at, finished_at, exit_code, stdout, stderr,
		       commit_sha, commit_message, branch, triggered_by
		FROM deployments
		WHERE service_id = $1 AND status = $2`
	if forUpdate {
		q += " FOR UPDATE"
	}

	row := db.QueryRowContext(ctx, q, serviceID, core.StatusRunning)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// popNextQueued atomically selects and promotes the oldest queued
// Deployment for a service to running. Must be called inside a
// transaction that also serializes against findRunning/createDeployment.
// Promotes nothing while the service already has a running Deployment;
// that deployment's own completion pops the queue instead.
func popNextQueued(ctx context.Context, tx *sql.Tx, serviceID int64) (*core.Deployment, error) {
	running, err := findRunning(ctx, tx, serviceID, true)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return nil, nil
	}

	const selectQ = `
		SELECT id, service_id, status, started_at, finished_at, exit_code, stdout, stderr,
		       commit_sha, commit_message, branch, triggered_by
		FROM deployments
		WHERE service_id = $1 AND status = $2
		ORDER BY started_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	row := tx.QueryRowContext(ctx, selectQ, serviceID, core.StatusQueued)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	const updateQ = `UPDATE deployments SET status = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, updateQ, core.StatusRunning, d.ID); err != nil {
		return nil, fmt.Errorf("promote queued deployment: %w", err)
	}
	d.Status = core.StatusRunning
	return d, nil
}

func updateStatus(ctx context.Context, db DBTX, id int64, status core.DeploymentStatus) error {
	const q = `UPDATE deployments SET status = $1 WHERE id = $2`
	_, err := db.ExecContext(ctx, q, status, id)
	return err
}

// finalizeDeployment records the terminal outcome of a Deployment: its
// status, finish time, exit code, and the flushed log text blobs
// (spec.md §4.D.6).
func finalizeDeployment(ctx context.Context, db DBTX, id int64, status core.DeploymentStatus, finishedAt time.Time, exitCode int, stdout, stderr string) error {
	const q = `
		UPDATE deployments
		SET status = $1, finished_at = $2, exit_code = $3, stdout = $4, stderr = $5
		WHERE id = $6`
	_, err := db.ExecContext(ctx, q, status, finishedAt, exitCode, stdout, stderr, id)
	return err
}

func getDeployment(ctx context.Context, db DBTX, id int64) (*core.Deployment, error) {
	const q = `
		SELECT id, service_id, status, started_at, finished_at, exit_code, stdout, stderr,
		       commit_sha, commit_message, branch, triggered_by
		FROM deployments WHERE id = $1`
	row := db.QueryRowContext(ctx, q, id)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func listRecentDeployments(ctx context.Context, db DBTX, limit int, status *core.DeploymentStatus) ([]*core.Deployment, error) {
	q := `
		SELECT id, service_id, status, started_at, finished_at, exit_code, stdout, stderr,
		       commit_sha, commit_message, branch, triggered_by
		FROM deployments`
	args := []interface{}{}
	if status != nil {
		q += " WHERE status = $1"
		args = append(args, *status)
	}
	q += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Deployment
	for rows.Next() {
		d, err := scanDeploymentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// listActiveWithService returns every running or queued deployment,
// enriched with its service's name, for GET /api/deployments/active.
func listActiveWithService(ctx context.Context, db DBTX) ([]*core.DeploymentWithService, error) {
	const q = `
		SELECT d.id, d.service_id, d.status, d.started_at, d.finished_at, d.exit_code, d.stdout, d.stderr,
		       d.commit_sha, d.commit_message, d.branch, d.triggered_by, s.name
		FROM deployments d
		JOIN services s ON s.id = d.service_id
		WHERE d.status IN ($1, $2)
		ORDER BY d.started_at ASC`

	rows, err := db.QueryContext(ctx, q, core.StatusRunning, core.StatusQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.DeploymentWithService
	for rows.Next() {
		dep := &core.DeploymentWithService{}
		if err := rows.Scan(
			&dep.ID, &dep.ServiceID, &dep.Status, &dep.StartedAt, &dep.FinishedAt, &dep.ExitCode,
			&dep.Stdout, &dep.Stderr, &dep.CommitSHA, &dep.CommitMessage, &dep.Branch, &dep.TriggeredBy,
			&dep.ServiceName,
		); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

// purgeTerminal deletes every deployment in a terminal status and
// reports how many rows were removed. Never touches running or queued
// rows (spec.md §4.G, §8 property 6).
func purgeTerminal(ctx context.Context, db DBTX) (int64, error) {
	const q = `DELETE FROM deployments WHERE status IN ($1, $2)`
	res, err := db.ExecContext(ctx, q, core.StatusSuccess, core.StatusFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(row scannable) (*core.Deployment, error) {
	return scanDeploymentRows(row)
}

func scanDeploymentRows(row scannable) (*core.Deployment, error) {
	d := &core.Deployment{}
	err := row.Scan(
		&d.ID, &d.ServiceID, &d.Status, &d.StartedAt, &d.FinishedAt, &d.ExitCode, &d.Stdout, &d.Stderr,
		&d.CommitSHA, &d.CommitMessage, &d.Branch, &d.TriggeredBy,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
