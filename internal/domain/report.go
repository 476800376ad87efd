package domain

import "time"

// ReportStatus represents the current status of a status report.
type ReportStatus string

// Report statuses.
const (
	ReportStatusInvestigating ReportStatus = "investigating"
	ReportStatusIdentified    ReportStatus = "identified"
	ReportStatusMonitoring    ReportStatus = "monitoring"
	ReportStatusResolved      ReportStatus = "resolved"
	ReportStatusMaintenance   ReportStatus = "maintenance"
)

// IsValid checks if the report status is valid.
func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportStatusInvestigating, ReportStatusIdentified,
		ReportStatusMonitoring, ReportStatusResolved, ReportStatusMaintenance:
		return true
	}
	return false
}

// StatusReport represents an incident report published on a page.
type StatusReport struct {
	ID           int64        `json:"id"`
	PageID       int64        `json:"page_id"`
	Title        string       `json:"title"`
	Status       ReportStatus `json:"status"`
	ComponentIDs []int64      `json:"component_ids"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ReportUpdate represents a status update appended to a report.
type ReportUpdate struct {
	ID        int64        `json:"id"`
	ReportID  int64        `json:"report_id"`
	Status    ReportStatus `json:"status"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}

// Maintenance represents a scheduled maintenance window on a page.
type Maintenance struct {
	ID           int64     `json:"id"`
	PageID       int64     `json:"page_id"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	ComponentIDs []int64   `json:"component_ids"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
