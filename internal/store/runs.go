package store

import (
	"context"
	"fmt"

	"github.com/seaward/benguela/internal/workflow"
)

// SaveRun upserts a finished workflow run summary.
func (s *Store) SaveRun(ctx context.Context, sum workflow.Summary) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflow_runs (id, name, template_id, workflow_type, status, priority,
			created_by, progress, steps_total, output_keys, error_log,
			created_at, scheduled_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			output_keys = EXCLUDED.output_keys,
			error_log = EXCLUDED.error_log,
			completed_at = EXCLUDED.completed_at`,
		sum.ID, sum.Name, sum.TemplateID, string(sum.Type), string(sum.Status), string(sum.Priority),
		sum.CreatedBy, sum.Progress, sum.StepsTotal, sum.OutputKeys, sum.ErrorLog,
		sum.CreatedAt, sum.ScheduledAt, sum.StartedAt, sum.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", sum.ID, err)
	}
	return nil
}

// GetRun retrieves a single archived run by workflow id.
func (s *Store) GetRun(ctx context.Context, id string) (*workflow.Summary, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(template_id,''), workflow_type, status, priority,
		       COALESCE(created_by,''), progress, steps_total, output_keys, error_log,
		       created_at, scheduled_at, started_at, completed_at
		FROM workflow_runs WHERE id = $1`, id)

	var sum workflow.Summary
	err := row.Scan(
		&sum.ID, &sum.Name, &sum.TemplateID, &sum.Type, &sum.Status, &sum.Priority,
		&sum.CreatedBy, &sum.Progress, &sum.StepsTotal, &sum.OutputKeys, &sum.ErrorLog,
		&sum.CreatedAt, &sum.ScheduledAt, &sum.StartedAt, &sum.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	sum.ErrorCount = len(sum.ErrorLog)
	return &sum, nil
}

// ListRuns returns the most recently completed runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*workflow.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, COALESCE(template_id,''), workflow_type, status, priority,
		       COALESCE(created_by,''), progress, steps_total, output_keys, error_log,
		       created_at, scheduled_at, started_at, completed_at
		FROM workflow_runs
		ORDER BY completed_at DESC NULLS LAST
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Summary
	for rows.Next() {
		var sum workflow.Summary
		if err := rows.Scan(
			&sum.ID, &sum.Name, &sum.TemplateID, &sum.Type, &sum.Status, &sum.Priority,
			&sum.CreatedBy, &sum.Progress, &sum.StepsTotal, &sum.OutputKeys, &sum.ErrorLog,
			&sum.CreatedAt, &sum.ScheduledAt, &sum.StartedAt, &sum.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.ErrorCount = len(sum.ErrorLog)
		runs = append(runs, &sum)
	}
	return runs, nil
}
