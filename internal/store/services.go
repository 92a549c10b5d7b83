package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nikitakiselev/pushbot/internal/core"
)

func listServices(ctx context.Context, db DBTX) ([]*core.Service, error) {
	const q = `SELECT id, name, repository, path, branch, deploy_command, created_at FROM services ORDER BY name`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Service
	for rows.Next() {
		s := &core.Service{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Repository, &s.Path, &s.Branch, &s.DeployCommand, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func getServiceByName(ctx context.Context, db DBTX, name string) (*core.Service, error) {
	const q = `SELECT id, name, repository, path, branch, deploy_command, created_at FROM services WHERE name = $1`
	s := &core.Service{}
	err := db.QueryRowContext(ctx, q, name).Scan(&s.ID, &s.Name, &s.Repository, &s.Path, &s.Branch, &s.DeployCommand, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

func getServiceByID(ctx context.Context, db DBTX, id int64) (*core.Service, error) {
	const q = `SELECT id, name, repository, path, branch, deploy_command, created_at FROM services WHERE id = $1`
	s := &core.Service{}
	err := db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.Name, &s.Repository, &s.Path, &s.Branch, &s.DeployCommand, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

// upsertService inserts a new Service or overwrites the mutable fields of
// an existing one matched by name, per spec.md §4.C.3.
func upsertService(ctx context.Context, db DBTX, def core.ServiceConfig) (*core.Service, error) {
	const q = `
		INSERT INTO services (name, repository, path, branch, deploy_command)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			repository = EXCLUDED.repository,
			path = EXCLUDED.path,
			branch = EXCLUDED.branch,
			deploy_command = EXCLUDED.deploy_command
		RETURNING id, name, repository, path, branch, deploy_command, created_at`

	s := &core.Service{}
	err := db.QueryRowContext(ctx, q, def.Name, def.Repository, def.Path, def.Branch, def.DeployCommand).
		Scan(&s.ID, &s.Name, &s.Repository, &s.Path, &s.Branch, &s.DeployCommand, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert service %q: %w", def.Name, err)
	}
	return s, nil
}

// deleteServiceCascade removes a Service's Deployments, then the Service
// itself. The deployments table's FK already cascades on delete, but the
// spec calls out the ordering explicitly (spec.md §3), so this is
// executed as two statements for clarity and to keep behavior correct
// even if the FK constraint is ever relaxed.
func deleteServiceCascade(ctx context.Context, db DBTX, id int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM deployments WHERE service_id = $1`, id); err != nil {
		return fmt.Errorf("delete deployments for service %d: %w", id, err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete service %d: %w", id, err)
	}
	return nil
}
