package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/storetest"
)

func newTestAnalytics(t *testing.T) (*Analytics, *storetest.PageViews, *storetest.Flipbooks, *clock) {
	t.Helper()
	views, books, c := storetest.NewPageViews(), storetest.NewFlipbooks(), newClock()
	return NewAnalytics(logger.Discard(), views, books).WithClock(c.now), views, books, c
}

func TestDailySeriesEmpty(t *testing.T) {
	a, _, _, _ := newTestAnalytics(t)

	s, err := a.ForFlipbook(context.Background(), model.Flipbook{ID: 1, Title: "t"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.TotalViews)
	require.Len(t, s.Daily, 8)
	assert.Equal(t, "2024-05-03", s.Daily[0].Date)
	assert.Equal(t, "2024-05-10", s.Daily[7].Date)
	for _, d := range s.Daily {
		assert.Zero(t, d.Count, d.Date)
	}
}

func TestDailySeriesCounts(t *testing.T) {
	a, views, _, c := newTestAnalytics(t)
	day := func(d, h int) time.Time { return time.Date(2024, 5, d, h, 0, 0, 0, time.UTC) }

	views.Add(1, day(10, 9))
	views.Add(1, day(10, 11))
	views.Add(1, day(3, 0))  // first bucket starts at midnight
	views.Add(1, day(2, 23)) // outside the window, still in the total
	views.Add(2, day(10, 9)) // another flipbook

	s, err := a.ForFlipbook(context.Background(), model.Flipbook{ID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 4, s.TotalViews)
	m := s.DailyMap()
	assert.Len(t, m, 8)
	assert.EqualValues(t, 2, m["2024-05-10"])
	assert.EqualValues(t, 1, m["2024-05-03"])
	assert.EqualValues(t, 0, m["2024-05-05"])
	_, ok := m["2024-05-02"]
	assert.False(t, ok)

	// the window moves with the clock
	c.advance(24 * time.Hour)
	s, err = a.ForFlipbook(context.Background(), model.Flipbook{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-04", s.Daily[0].Date)
	assert.Equal(t, "2024-05-11", s.Daily[7].Date)
}

func TestForUser(t *testing.T) {
	ctx := context.Background()
	a, views, books, _ := newTestAnalytics(t)

	f, err := books.Create(ctx, model.NewFlipbook{Title: "mine", UniqueID: "u1", PageCount: 2, UserID: 7})
	require.NoError(t, err)
	_, err = books.Create(ctx, model.NewFlipbook{Title: "theirs", UniqueID: "u2", PageCount: 2, UserID: 8})
	require.NoError(t, err)
	views.Add(f.ID, time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC))

	stats, err := a.ForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "mine", stats[0].Title)
	assert.EqualValues(t, 1, stats[0].TotalViews)
}

func TestRecordViewAndTrackPage(t *testing.T) {
	ctx := context.Background()
	a, views, _, _ := newTestAnalytics(t)
	f := model.Flipbook{ID: 1, UniqueID: "u1", PageCount: 5}
	ip := "203.0.113.9"

	v, err := a.RecordView(ctx, f, &ip, "")
	require.NoError(t, err)
	assert.Len(t, v.ViewToken, 32)
	assert.Equal(t, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC), v.ViewedAt)

	// same session reuses the view
	again, err := a.RecordView(ctx, f, &ip, v.ViewToken)
	require.NoError(t, err)
	assert.Equal(t, v.ID, again.ID)

	// an unknown token starts a new session
	other, err := a.RecordView(ctx, f, nil, "stale")
	require.NoError(t, err)
	assert.NotEqual(t, v.ID, other.ID)
	assert.Len(t, views.All(), 2)

	require.NoError(t, a.TrackPage(ctx, f, v.ViewToken, 3))
	got, err := views.GetByToken(ctx, f.ID, v.ViewToken)
	require.NoError(t, err)
	require.NotNil(t, got.PageNumber)
	assert.Equal(t, 3, *got.PageNumber)

	assert.ErrorIs(t, a.TrackPage(ctx, f, v.ViewToken, 0), ErrInvalidPage)
	assert.ErrorIs(t, a.TrackPage(ctx, f, v.ViewToken, 6), ErrInvalidPage)
	assert.ErrorIs(t, a.TrackPage(ctx, f, "nope", 2), ErrViewNotFound)
	assert.ErrorIs(t, a.TrackPage(ctx, f, "", 2), ErrViewNotFound)
	// a token is scoped to its flipbook
	assert.ErrorIs(t, a.TrackPage(ctx, model.Flipbook{ID: 2, PageCount: 5}, v.ViewToken, 2), ErrViewNotFound)
}
