package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// FleetRepository persists worker session accounting and the desktop-only
// worker registry (the latter so desktop machines survive restarts).
type FleetRepository struct {
	pool *pgxpool.Pool
}

func NewFleetRepository(pool *pgxpool.Pool) *FleetRepository {
	return &FleetRepository{pool: pool}
}

func (r *FleetRepository) StartSession(ctx context.Context, s *domain.WorkerSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO worker_sessions (id, connection_id, kind, connected_at)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.ConnectionID, string(s.Kind), s.ConnectedAt)
	if err != nil {
		return fmt.Errorf("start session for %s: %w", s.ConnectionID, err)
	}
	return nil
}

// EndSession closes the most recent open session for a connection.
func (r *FleetRepository) EndSession(ctx context.Context, connectionID string, completed, failed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE worker_sessions
		SET disconnected_at = $1, tasks_completed = $2, tasks_failed = $3
		WHERE id = (
			SELECT id FROM worker_sessions
			WHERE connection_id = $4 AND disconnected_at IS NULL
			ORDER BY connected_at DESC
			LIMIT 1
		)
	`, time.Now().UTC(), completed, failed, connectionID)
	if err != nil {
		return fmt.Errorf("end session for %s: %w", connectionID, err)
	}
	return nil
}

func (r *FleetRepository) UpsertDesktopWorker(ctx context.Context, d *domain.DesktopWorker) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO desktop_workers (id, addr, creds, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			addr = EXCLUDED.addr,
			creds = EXCLUDED.creds,
			label = EXCLUDED.label,
			updated_at = EXCLUDED.updated_at
	`, d.ID, d.Addr, d.Creds, d.Label, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert desktop worker %s: %w", d.ID, err)
	}
	return nil
}

func (r *FleetRepository) DeleteDesktopWorker(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM desktop_workers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete desktop worker %s: %w", id, err)
	}
	return nil
}

func (r *FleetRepository) ListDesktopWorkers(ctx context.Context) ([]*domain.DesktopWorker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, addr, creds, label, created_at, updated_at
		FROM desktop_workers
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list desktop workers: %w", err)
	}
	defer rows.Close()

	var out []*domain.DesktopWorker
	for rows.Next() {
		var d domain.DesktopWorker
		if err := rows.Scan(&d.ID, &d.Addr, &d.Creds, &d.Label, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan desktop worker: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
