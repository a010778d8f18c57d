package articles

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/pressgate/pressgate/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.Migrate(context.Background(), db))

	return NewStore(db)
}

func seedCatalog(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SeedCategory(ctx, &Category{ID: "cat-politics", Name: "Politics", Slug: "politics"}))
	require.NoError(t, s.SeedCategory(ctx, &Category{ID: "cat-tech", Name: "Technology", Slug: "technology"}))

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	arts := []*Article{
		{ID: "art-1", Title: "Budget vote delayed", Body: "...", CategoryID: "cat-politics", PublishedAt: base},
		{ID: "art-2", Title: "Chip plant opens", Body: "...", CategoryID: "cat-tech", PublishedAt: base.Add(time.Hour)},
		{ID: "art-3", Title: "Election recap", Body: "...", CategoryID: "cat-politics", PublishedAt: base.Add(2 * time.Hour)},
	}
	for _, a := range arts {
		require.NoError(t, s.SeedArticle(ctx, a))
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedCatalog(t, s)

	got, err := s.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "art-3", got[0].ID)
	assert.Equal(t, "art-2", got[1].ID)
	assert.Equal(t, "art-1", got[2].ID)
}

func TestStore_ListByCategory(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedCatalog(t, s)

	got, err := s.List(context.Background(), ListFilter{CategorySlug: "politics"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "art-3", got[0].ID)
	assert.Equal(t, "art-1", got[1].ID)
}

func TestStore_ListUnknownCategoryIsEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedCatalog(t, s)

	got, err := s.List(context.Background(), ListFilter{CategorySlug: "sports"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ListPaging(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedCatalog(t, s)

	page, err := s.List(context.Background(), ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := s.List(context.Background(), ListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "art-1", rest[0].ID)
}

func TestStore_ListClampsLimit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < MaxLimit+10; i++ {
		require.NoError(t, s.SeedArticle(ctx, &Article{
			ID:          fmt.Sprintf("art-%03d", i),
			Title:       "t",
			PublishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.List(ctx, ListFilter{Limit: 10000})
	require.NoError(t, err)
	assert.Len(t, got, MaxLimit)
}

func TestStore_Get(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedCatalog(t, s)

	got, err := s.Get(context.Background(), "art-2")
	require.NoError(t, err)
	assert.Equal(t, "Chip plant opens", got.Title)
	assert.Equal(t, "cat-tech", got.CategoryID)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), got.PublishedAt)
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Categories(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seedCatalog(t, s)

	got, err := s.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Politics", got[0].Name)
	assert.Equal(t, "Technology", got[1].Name)
}

func TestStore_SeedCategoryIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	cat := &Category{ID: "cat-1", Name: "World", Slug: "world"}
	require.NoError(t, s.SeedCategory(ctx, cat))
	require.NoError(t, s.SeedCategory(ctx, cat))

	got, err := s.Categories(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
