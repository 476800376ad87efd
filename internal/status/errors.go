package status

import (
	"errors"
	"fmt"
)

// Module errors.
var (
	ErrReportNotFound      = errors.New("status report not found")
	ErrMaintenanceNotFound = errors.New("maintenance not found")
	ErrInvalidStatus       = errors.New("invalid report status")
	ErrInvalidWindow       = errors.New("maintenance window end must be after start")
)

// UnknownComponentsError reports component ids that do not belong to the
// report's page.
type UnknownComponentsError struct {
	PageID     int64
	MissingIDs []int64
}

func (e *UnknownComponentsError) Error() string {
	return fmt.Sprintf("components %v do not belong to page %d", e.MissingIDs, e.PageID)
}
