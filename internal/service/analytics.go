package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// DailyWindow is how many days before today the daily series reaches back.
// The series has DailyWindow+1 buckets, today included.
const DailyWindow = 7

var (
	ErrViewNotFound = errors.New("view not found")
	ErrInvalidPage  = errors.New("invalid page number")
)

// Analytics records viewer sessions and summarises them.
type Analytics struct {
	log       *slog.Logger
	views     PageViewStore
	flipbooks FlipbookStore
	now       func() time.Time
}

// NewAnalytics returns the view tracking service, clocked by time.Now.
func NewAnalytics(log *slog.Logger, views PageViewStore, flipbooks FlipbookStore) *Analytics {
	return &Analytics{log: log, views: views, flipbooks: flipbooks, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (a *Analytics) WithClock(now func() time.Time) *Analytics {
	a.now = now
	return a
}

// ForFlipbook returns the total and the dense daily series of f.
func (a *Analytics) ForFlipbook(ctx context.Context, f model.Flipbook) (model.FlipbookStats, error) {
	const op = "service.Analytics.ForFlipbook"

	total, err := a.views.CountByFlipbook(ctx, f.ID)
	if err != nil {
		return model.FlipbookStats{}, fmt.Errorf("%s: %w", op, err)
	}
	start := windowStart(a.now())
	counts, err := a.views.CountDaily(ctx, f.ID, start)
	if err != nil {
		return model.FlipbookStats{}, fmt.Errorf("%s: %w", op, err)
	}
	return model.FlipbookStats{
		FlipbookID: f.ID,
		Title:      f.Title,
		TotalViews: total,
		Daily:      denseDaily(start, counts),
	}, nil
}

// ForUser summarises every flipbook the user owns, newest first.
func (a *Analytics) ForUser(ctx context.Context, userID uint64) ([]model.FlipbookStats, error) {
	books, err := a.flipbooks.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.Analytics.ForUser: %w", err)
	}
	out := make([]model.FlipbookStats, 0, len(books))
	for _, f := range books {
		s, err := a.ForFlipbook(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// RecordView opens a viewer session for f.  When token names a session that
// already exists for f it is reused and no new view is counted.
func (a *Analytics) RecordView(ctx context.Context, f model.Flipbook, ip *string, token string) (model.PageView, error) {
	const op = "service.Analytics.RecordView"

	if token != "" {
		v, err := a.views.GetByToken(ctx, f.ID, token)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.PageView{}, fmt.Errorf("%s: %w", op, err)
		}
	}
	fresh, err := utils.RandomHex(16)
	if err != nil {
		return model.PageView{}, fmt.Errorf("%s: %w", op, err)
	}
	v, err := a.views.Create(ctx, model.NewPageView{
		FlipbookID: f.ID,
		ViewedAt:   a.now().UTC(),
		IPAddress:  ip,
		ViewToken:  fresh,
	})
	if err != nil {
		return model.PageView{}, fmt.Errorf("%s: %w", op, err)
	}
	a.log.Debug("view recorded", slog.String("op", op), slog.String("unique_id", f.UniqueID))
	return v, nil
}

// TrackPage records the page a viewer session is on.
func (a *Analytics) TrackPage(ctx context.Context, f model.Flipbook, token string, page int) error {
	if page < 1 || page > f.PageCount {
		return ErrInvalidPage
	}
	if token == "" {
		return ErrViewNotFound
	}
	if err := a.views.UpdatePage(ctx, f.ID, token, page); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrViewNotFound
		}
		return fmt.Errorf("service.Analytics.TrackPage: %w", err)
	}
	return nil
}

// windowStart is 00:00 UTC of the day DailyWindow days before now.
func windowStart(now time.Time) time.Time {
	y, m, d := now.UTC().AddDate(0, 0, -DailyWindow).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func denseDaily(start time.Time, counts map[string]int64) []model.DailyCount {
	out := make([]model.DailyCount, 0, DailyWindow+1)
	for i := 0; i <= DailyWindow; i++ {
		day := start.AddDate(0, 0, i).Format(time.DateOnly)
		out = append(out, model.DailyCount{Date: day, Count: counts[day]})
	}
	return out
}
