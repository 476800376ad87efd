// Package status owns the operator write path for status reports and
// maintenances: the entity that persists a change and triggers notification
// dispatch.
package status

import (
	"context"

	"github.com/beaconhq/beacon/internal/domain"
)

// Repository defines the interface for report and maintenance data access.
// It doubles as the dispatcher's event source.
type Repository interface {
	// CreateReport inserts the report and its affected components in one
	// transaction.
	CreateReport(ctx context.Context, report *domain.StatusReport) error

	// GetReport returns a report with its affected component ids.
	GetReport(ctx context.Context, id int64) (*domain.StatusReport, error)

	// CreateReportUpdate appends an update and moves the parent report to
	// the update's status, atomically.
	CreateReportUpdate(ctx context.Context, update *domain.ReportUpdate) error

	// GetReportUpdate returns the update together with its parent report.
	GetReportUpdate(ctx context.Context, updateID int64) (*domain.ReportUpdate, *domain.StatusReport, error)

	// CreateMaintenance inserts the maintenance and its affected components
	// in one transaction.
	CreateMaintenance(ctx context.Context, m *domain.Maintenance) error

	// GetMaintenance returns a maintenance with its affected component ids.
	GetMaintenance(ctx context.Context, id int64) (*domain.Maintenance, error)
}
