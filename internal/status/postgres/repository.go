// Package postgres provides PostgreSQL implementation of the status
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/status"
)

// Repository implements status.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateReport inserts the report and its affected components in one
// transaction.
func (r *Repository) CreateReport(ctx context.Context, report *domain.StatusReport) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO status_reports (page_id, title, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, report.PageID, report.Title, report.Status).Scan(&report.ID, &report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	if len(report.ComponentIDs) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO status_report_components (report_id, component_id)
			SELECT $1, unnest($2::bigint[])
		`, report.ID, report.ComponentIDs)
		if err != nil {
			return fmt.Errorf("insert report components: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetReport retrieves a report with its affected component ids.
func (r *Repository) GetReport(ctx context.Context, id int64) (*domain.StatusReport, error) {
	query := `
		SELECT r.id, r.page_id, r.title, r.status, r.created_at, r.updated_at,
		       COALESCE(array_agg(rc.component_id) FILTER (WHERE rc.component_id IS NOT NULL), '{}')
		FROM status_reports r
		LEFT JOIN status_report_components rc ON rc.report_id = r.id
		WHERE r.id = $1
		GROUP BY r.id
	`
	var report domain.StatusReport
	err := r.db.QueryRow(ctx, query, id).Scan(
		&report.ID,
		&report.PageID,
		&report.Title,
		&report.Status,
		&report.CreatedAt,
		&report.UpdatedAt,
		&report.ComponentIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, status.ErrReportNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// CreateReportUpdate appends an update and moves the parent report to the
// update's status, atomically.
func (r *Repository) CreateReportUpdate(ctx context.Context, update *domain.ReportUpdate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO status_report_updates (report_id, status, message)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, update.ReportID, update.Status, update.Message).Scan(&update.ID, &update.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report update: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE status_reports SET status = $2, updated_at = NOW() WHERE id = $1
	`, update.ReportID, update.Status)
	if err != nil {
		return fmt.Errorf("advance report status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return status.ErrReportNotFound
	}
	return tx.Commit(ctx)
}

// GetReportUpdate retrieves the update together with its parent report.
func (r *Repository) GetReportUpdate(ctx context.Context, updateID int64) (*domain.ReportUpdate, *domain.StatusReport, error) {
	var update domain.ReportUpdate
	err := r.db.QueryRow(ctx, `
		SELECT id, report_id, status, message, created_at
		FROM status_report_updates
		WHERE id = $1
	`, updateID).Scan(&update.ID, &update.ReportID, &update.Status, &update.Message, &update.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, status.ErrReportNotFound
		}
		return nil, nil, fmt.Errorf("get report update: %w", err)
	}

	report, err := r.GetReport(ctx, update.ReportID)
	if err != nil {
		return nil, nil, err
	}
	return &update, report, nil
}

// CreateMaintenance inserts the maintenance and its affected components in
// one transaction.
func (r *Repository) CreateMaintenance(ctx context.Context, m *domain.Maintenance) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO maintenances (page_id, title, message, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, m.PageID, m.Title, m.Message, m.StartsAt, m.EndsAt).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert maintenance: %w", err)
	}

	if len(m.ComponentIDs) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO maintenance_components (maintenance_id, component_id)
			SELECT $1, unnest($2::bigint[])
		`, m.ID, m.ComponentIDs)
		if err != nil {
			return fmt.Errorf("insert maintenance components: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetMaintenance retrieves a maintenance with its affected component ids.
func (r *Repository) GetMaintenance(ctx context.Context, id int64) (*domain.Maintenance, error) {
	query := `
		SELECT m.id, m.page_id, m.title, m.message, m.starts_at, m.ends_at, m.created_at, m.updated_at,
		       COALESCE(array_agg(mc.component_id) FILTER (WHERE mc.component_id IS NOT NULL), '{}')
		FROM maintenances m
		LEFT JOIN maintenance_components mc ON mc.maintenance_id = m.id
		WHERE m.id = $1
		GROUP BY m.id
	`
	var m domain.Maintenance
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.PageID,
		&m.Title,
		&m.Message,
		&m.StartsAt,
		&m.EndsAt,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.ComponentIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, status.ErrMaintenanceNotFound
		}
		return nil, fmt.Errorf("get maintenance: %w", err)
	}
	return &m, nil
}
