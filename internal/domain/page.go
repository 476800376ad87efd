package domain

import "time"

// Page represents a public status page.
type Page struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	CustomDomain *string    `json:"custom_domain,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
}

// MatchesDomain reports whether the given host matches the page's slug or
// custom domain, case-insensitively. An empty host matches any page.
func (p *Page) MatchesDomain(host string) bool {
	if host == "" {
		return true
	}
	if equalFold(p.Slug, host) {
		return true
	}
	return p.CustomDomain != nil && equalFold(*p.CustomDomain, host)
}

// Component represents a monitored component shown on a page.
type Component struct {
	ID        int64     `json:"id"`
	PageID    int64     `json:"page_id"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
