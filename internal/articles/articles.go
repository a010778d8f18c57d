// Package articles serves the published content catalog. It is a read-mostly
// layer; editorial writes happen out of band and only Seed-style inserts are
// exposed for bootstrapping and tests.
package articles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when an article or category does not exist.
var ErrNotFound = errors.New("articles: not found")

const (
	// DefaultLimit caps list responses when the caller does not page.
	DefaultLimit = 20

	// MaxLimit bounds the page size a caller may request.
	MaxLimit = 100
)

// Article is one published piece.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	CategoryID  string    `json:"category_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Category groups articles.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ListFilter narrows and pages a listing.
type ListFilter struct {
	CategorySlug string
	Limit        int
	Offset       int
}

type articleRow struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Body        string         `db:"body"`
	CategoryID  sql.NullString `db:"category_id"`
	PublishedAt int64          `db:"published_at"`
}

func (r *articleRow) toArticle() *Article {
	return &Article{
		ID:          r.ID,
		Title:       r.Title,
		Body:        r.Body,
		CategoryID:  r.CategoryID.String,
		PublishedAt: time.Unix(r.PublishedAt, 0).UTC(),
	}
}

// Store reads the content catalog from SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a content store over an open database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// List returns published articles, newest first, optionally filtered by
// category slug. The limit is clamped to MaxLimit.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Article, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var rows []articleRow
	var err error
	if filter.CategorySlug != "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT a.id, a.title, a.body, a.category_id, a.published_at
			FROM articles a
			JOIN categories c ON c.id = a.category_id
			WHERE c.slug = ?
			ORDER BY a.published_at DESC, a.id DESC
			LIMIT ? OFFSET ?`,
			filter.CategorySlug, limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, title, body, category_id, published_at
			FROM articles
			ORDER BY published_at DESC, id DESC
			LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	out := make([]*Article, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toArticle())
	}
	return out, nil
}

// Get returns one article by id.
func (s *Store) Get(ctx context.Context, id string) (*Article, error) {
	var row articleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, title, body, category_id, published_at
		FROM articles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return row.toArticle(), nil
}

// Categories returns all categories ordered by name.
func (s *Store) Categories(ctx context.Context) ([]*Category, error) {
	var out []*Category
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, name, slug FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// SeedCategory inserts a category, ignoring duplicates by slug.
func (s *Store) SeedCategory(ctx context.Context, cat *Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, slug) VALUES (?, ?, ?)
		ON CONFLICT (slug) DO NOTHING`,
		cat.ID, cat.Name, cat.Slug)
	if err != nil {
		return fmt.Errorf("seed category: %w", err)
	}
	return nil
}

// SeedArticle inserts an article.
func (s *Store) SeedArticle(ctx context.Context, art *Article) error {
	categoryID := sql.NullString{String: art.CategoryID, Valid: art.CategoryID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (id, title, body, category_id, published_at)
		VALUES (?, ?, ?, ?, ?)`,
		art.ID, art.Title, art.Body, categoryID, art.PublishedAt.Unix())
	if err != nil {
		return fmt.Errorf("seed article: %w", err)
	}
	return nil
}
