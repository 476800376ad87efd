// Package pages provides read access to pages and their components.
// Page and workspace management itself lives in the control plane; this
// service only needs lookups for validation and dispatch.
package pages

import (
	"context"

	"github.com/beaconhq/beacon/internal/domain"
)

// Repository defines the interface for page data access.
type Repository interface {
	GetPage(ctx context.Context, id int64) (*domain.Page, error)
	GetPageBySlug(ctx context.Context, slug string) (*domain.Page, error)
	ListComponents(ctx context.Context, pageID int64) ([]domain.Component, error)

	// MissingComponents returns the subset of ids that do not belong to the
	// given page.
	MissingComponents(ctx context.Context, pageID int64, ids []int64) ([]int64, error)

	// ComponentNames resolves component ids to display names, preserving
	// input order. Unknown ids are skipped.
	ComponentNames(ctx context.Context, ids []int64) ([]string, error)
}
