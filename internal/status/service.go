package status

import (
	"context"
	"fmt"
	"time"

	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pages"
	"github.com/beaconhq/beacon/internal/pkg/ctxlog"
)

// dispatchTimeout bounds the background fan-out spawned after a commit.
const dispatchTimeout = time.Minute

// CreateReportInput carries the fields of a new status report. Message
// becomes the report's first update.
type CreateReportInput struct {
	PageID       int64
	Title        string
	Status       domain.ReportStatus
	Message      string
	ComponentIDs []int64
}

// CreateMaintenanceInput carries the fields of a new maintenance window.
type CreateMaintenanceInput struct {
	PageID       int64
	Title        string
	Message      string
	ComponentIDs []int64
	StartsAt     time.Time
	EndsAt       time.Time
}

// Service implements the operator write path. Every mutation commits first;
// notification fan-out runs afterwards on a detached context so a slow or
// failing channel can never roll back or delay the write.
type Service struct {
	repo       Repository
	pages      pages.Repository
	dispatcher *dispatch.Dispatcher
}

// NewService creates a status service.
func NewService(repo Repository, pagesRepo pages.Repository, dispatcher *dispatch.Dispatcher) *Service {
	return &Service{repo: repo, pages: pagesRepo, dispatcher: dispatcher}
}

// CreateReport creates a report with its first update and notifies
// subscribers.
func (s *Service) CreateReport(ctx context.Context, in CreateReportInput) (*domain.StatusReport, error) {
	if !in.Status.IsValid() || in.Status == domain.ReportStatusMaintenance {
		return nil, ErrInvalidStatus
	}
	if err := s.validateScope(ctx, in.PageID, in.ComponentIDs); err != nil {
		return nil, err
	}

	report := &domain.StatusReport{
		PageID:       in.PageID,
		Title:        in.Title,
		Status:       in.Status,
		ComponentIDs: in.ComponentIDs,
	}
	if err := s.repo.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	update := &domain.ReportUpdate{
		ReportID: report.ID,
		Status:   in.Status,
		Message:  in.Message,
	}
	if err := s.repo.CreateReportUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("create initial update: %w", err)
	}

	s.dispatchAsync(ctx, func(ctx context.Context) {
		s.dispatcher.DispatchReportUpdate(ctx, update.ID)
	})
	return report, nil
}

// AddReportUpdate appends an update to a report and notifies subscribers.
func (s *Service) AddReportUpdate(ctx context.Context, reportID int64, status domain.ReportStatus, message string) (*domain.ReportUpdate, error) {
	if !status.IsValid() || status == domain.ReportStatusMaintenance {
		return nil, ErrInvalidStatus
	}
	if _, err := s.repo.GetReport(ctx, reportID); err != nil {
		return nil, err
	}

	update := &domain.ReportUpdate{
		ReportID: reportID,
		Status:   status,
		Message:  message,
	}
	if err := s.repo.CreateReportUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("create update: %w", err)
	}

	s.dispatchAsync(ctx, func(ctx context.Context) {
		s.dispatcher.DispatchReportUpdate(ctx, update.ID)
	})
	return update, nil
}

// CreateMaintenance schedules a maintenance window. Subscribers are notified
// through NotifyMaintenance, not implicitly on creation.
func (s *Service) CreateMaintenance(ctx context.Context, in CreateMaintenanceInput) (*domain.Maintenance, error) {
	if !in.EndsAt.After(in.StartsAt) {
		return nil, ErrInvalidWindow
	}
	if err := s.validateScope(ctx, in.PageID, in.ComponentIDs); err != nil {
		return nil, err
	}

	m := &domain.Maintenance{
		PageID:       in.PageID,
		Title:        in.Title,
		Message:      in.Message,
		ComponentIDs: in.ComponentIDs,
		StartsAt:     in.StartsAt,
		EndsAt:       in.EndsAt,
	}
	if err := s.repo.CreateMaintenance(ctx, m); err != nil {
		return nil, fmt.Errorf("create maintenance: %w", err)
	}
	return m, nil
}

// NotifyMaintenance fans the maintenance announcement out to subscribers.
func (s *Service) NotifyMaintenance(ctx context.Context, id int64) error {
	if _, err := s.repo.GetMaintenance(ctx, id); err != nil {
		return err
	}
	s.dispatchAsync(ctx, func(ctx context.Context) {
		s.dispatcher.DispatchMaintenanceUpdate(ctx, id)
	})
	return nil
}

// dispatchAsync runs fn after the write path returns, on a context that
// survives the request but carries its logger.
func (s *Service) dispatchAsync(ctx context.Context, fn func(context.Context)) {
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, dispatchTimeout)
		defer cancel()
		fn(ctx)
		ctxlog.FromContext(ctx).Debug("dispatch finished")
	}()
}

func (s *Service) validateScope(ctx context.Context, pageID int64, componentIDs []int64) error {
	if _, err := s.pages.GetPage(ctx, pageID); err != nil {
		return err
	}
	if len(componentIDs) == 0 {
		return nil
	}
	missing, err := s.pages.MissingComponents(ctx, pageID, componentIDs)
	if err != nil {
		return fmt.Errorf("validate components: %w", err)
	}
	if len(missing) > 0 {
		return &UnknownComponentsError{PageID: pageID, MissingIDs: missing}
	}
	return nil
}
