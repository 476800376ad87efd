// Package postgres provides PostgreSQL implementation of the pages repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pages"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements pages.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetPage retrieves a page by ID.
func (r *Repository) GetPage(ctx context.Context, id int64) (*domain.Page, error) {
	return r.getPage(ctx, `WHERE id = $1`, id)
}

// GetPageBySlug retrieves a page by its slug.
func (r *Repository) GetPageBySlug(ctx context.Context, slug string) (*domain.Page, error) {
	return r.getPage(ctx, `WHERE slug = $1`, slug)
}

func (r *Repository) getPage(ctx context.Context, where string, arg any) (*domain.Page, error) {
	query := `
		SELECT id, name, slug, custom_domain, created_at, updated_at, archived_at
		FROM pages ` + where

	var page domain.Page
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&page.ID,
		&page.Name,
		&page.Slug,
		&page.CustomDomain,
		&page.CreatedAt,
		&page.UpdatedAt,
		&page.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pages.ErrPageNotFound
		}
		return nil, fmt.Errorf("get page: %w", err)
	}
	return &page, nil
}

// ListComponents retrieves all components of a page ordered for display.
func (r *Repository) ListComponents(ctx context.Context, pageID int64) ([]domain.Component, error) {
	query := `
		SELECT id, page_id, name, sort_order, created_at, updated_at
		FROM components
		WHERE page_id = $1
		ORDER BY sort_order, id
	`
	rows, err := r.db.Query(ctx, query, pageID)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	components := make([]domain.Component, 0)
	for rows.Next() {
		var c domain.Component
		if err := rows.Scan(&c.ID, &c.PageID, &c.Name, &c.Order, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		components = append(components, c)
	}

	return components, rows.Err()
}

// MissingComponents returns ids that do not belong to the given page.
func (r *Repository) MissingComponents(ctx context.Context, pageID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT wanted.id
		FROM unnest($2::bigint[]) AS wanted(id)
		WHERE NOT EXISTS (
			SELECT 1 FROM components c WHERE c.id = wanted.id AND c.page_id = $1
		)
	`
	rows, err := r.db.Query(ctx, query, pageID, ids)
	if err != nil {
		return nil, fmt.Errorf("check components: %w", err)
	}
	defer rows.Close()

	missing := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan missing component id: %w", err)
		}
		missing = append(missing, id)
	}

	return missing, rows.Err()
}

// ComponentNames resolves component ids to display names in input order.
func (r *Repository) ComponentNames(ctx context.Context, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT c.name
		FROM unnest($1::bigint[]) WITH ORDINALITY AS wanted(id, ord)
		JOIN components c ON c.id = wanted.id
		ORDER BY wanted.ord
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve component names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0, len(ids))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan component name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}
