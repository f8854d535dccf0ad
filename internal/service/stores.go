// Package service holds the application logic: token lifecycle, flipbook
// ingestion and view analytics.  It depends on the small store interfaces
// below; internal/repository provides the MySQL implementations.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/model"
)

// UserStore persists users and their single active refresh token.  Lookups
// that find nothing return sql.ErrNoRows.
type UserStore interface {
	Create(ctx context.Context, u model.NewUser) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByRefreshHash(ctx context.Context, hash string) (model.User, error)
	SetRefreshToken(ctx context.Context, userID uint64, hash string, exp time.Time) error
	SwapRefreshToken(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	ClearRefreshToken(ctx context.Context, userID uint64) error
}

// FlipbookStore persists flipbook metadata.
type FlipbookStore interface {
	Create(ctx context.Context, f model.NewFlipbook) (model.Flipbook, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (model.Flipbook, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Flipbook, error)
}

// PageViewStore persists viewer sessions and answers count queries.
type PageViewStore interface {
	Create(ctx context.Context, v model.NewPageView) (model.PageView, error)
	GetByToken(ctx context.Context, flipbookID uint64, viewToken string) (model.PageView, error)
	UpdatePage(ctx context.Context, flipbookID uint64, viewToken string, page int) error
	CountByFlipbook(ctx context.Context, flipbookID uint64) (int64, error)
	CountDaily(ctx context.Context, flipbookID uint64, since time.Time) (map[string]int64, error)
}
