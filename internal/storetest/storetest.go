// Package storetest provides in-memory implementations of the service store
// interfaces.  They follow the MySQL repositories' contracts, including
// sql.ErrNoRows for missing rows, and are safe for concurrent use.
package storetest

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/repository"
)

// Users is an in-memory UserStore.
type Users struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]model.User
}

func NewUsers() *Users { return &Users{rows: map[uint64]model.User{}} }

func (s *Users) Create(_ context.Context, u model.NewUser) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := repository.NormalizeEmail(u.Email)
	for _, r := range s.rows {
		if r.Email == email {
			return model.User{}, repository.ErrEmailExists
		}
		if r.Username == u.Username {
			return model.User{}, repository.ErrUsernameExists
		}
	}
	s.nextID++
	row := model.User{
		ID:           s.nextID,
		Username:     u.Username,
		Email:        email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	s.rows[row.ID] = row
	return row, nil
}

func (s *Users) GetByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return r, nil
}

func (s *Users) find(match func(model.User) bool) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if match(r) {
			return r, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (s *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = repository.NormalizeEmail(email)
	return s.find(func(u model.User) bool { return u.Email == email })
}

func (s *Users) GetByUsername(_ context.Context, username string) (model.User, error) {
	return s.find(func(u model.User) bool { return u.Username == username })
}

func (s *Users) GetByRefreshHash(_ context.Context, hash string) (model.User, error) {
	return s.find(func(u model.User) bool { return u.RefreshTokenHash != nil && *u.RefreshTokenHash == hash })
}

func (s *Users) SetRefreshToken(_ context.Context, userID uint64, hash string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[userID]
	if !ok {
		return sql.ErrNoRows
	}
	r.RefreshTokenHash, r.RefreshTokenExpiry = &hash, &exp
	s.rows[userID] = r
	return nil
}

func (s *Users) SwapRefreshToken(_ context.Context, userID uint64, oldHash, newHash string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[userID]
	if !ok || r.RefreshTokenHash == nil || *r.RefreshTokenHash != oldHash {
		return sql.ErrNoRows
	}
	r.RefreshTokenHash, r.RefreshTokenExpiry = &newHash, &exp
	s.rows[userID] = r
	return nil
}

func (s *Users) ClearRefreshToken(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[userID]
	if !ok {
		return sql.ErrNoRows
	}
	r.RefreshTokenHash, r.RefreshTokenExpiry = nil, nil
	s.rows[userID] = r
	return nil
}

// Delete removes a user outright.  Only tests need this; the application
// never deletes users.
func (s *Users) Delete(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
}

// SetRefreshExpiry overwrites the stored refresh expiry of a user.
func (s *Users) SetRefreshExpiry(id uint64, exp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.RefreshTokenExpiry = &exp
	s.rows[id] = r
}

// Flipbooks is an in-memory FlipbookStore.
type Flipbooks struct {
	mu     sync.Mutex
	nextID uint64
	rows   []model.Flipbook
	// Now stamps created_at; tests may replace it.
	Now func() time.Time
}

func NewFlipbooks() *Flipbooks { return &Flipbooks{Now: time.Now} }

func (s *Flipbooks) Create(_ context.Context, f model.NewFlipbook) (model.Flipbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bg := f.BackgroundColor
	if bg == "" {
		bg = model.DefaultBackgroundColor
	}
	s.nextID++
	row := model.Flipbook{
		ID:              s.nextID,
		Title:           f.Title,
		Filename:        f.Filename,
		UniqueID:        f.UniqueID,
		BackgroundColor: bg,
		CreatedAt:       s.Now().UTC().Truncate(time.Second),
		PageCount:       f.PageCount,
		UserID:          f.UserID,
		LogoFilename:    f.LogoFilename,
		CustomCSS:       f.CustomCSS,
	}
	s.rows = append(s.rows, row)
	return row, nil
}

func (s *Flipbooks) GetByUniqueID(_ context.Context, uniqueID string) (model.Flipbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UniqueID == uniqueID {
			return r, nil
		}
	}
	return model.Flipbook{}, sql.ErrNoRows
}

func (s *Flipbooks) ListByUser(_ context.Context, userID uint64) ([]model.Flipbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Flipbook{}
	for _, r := range s.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// PageViews is an in-memory PageViewStore.
type PageViews struct {
	mu     sync.Mutex
	nextID uint64
	rows   []model.PageView
}

func NewPageViews() *PageViews { return &PageViews{} }

func (s *PageViews) Create(_ context.Context, v model.NewPageView) (model.PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	row := model.PageView{
		ID:         s.nextID,
		FlipbookID: v.FlipbookID,
		ViewedAt:   v.ViewedAt.UTC(),
		IPAddress:  v.IPAddress,
		ViewToken:  v.ViewToken,
	}
	s.rows = append(s.rows, row)
	return row, nil
}

func (s *PageViews) GetByToken(_ context.Context, flipbookID uint64, viewToken string) (model.PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.FlipbookID == flipbookID && r.ViewToken == viewToken {
			return r, nil
		}
	}
	return model.PageView{}, sql.ErrNoRows
}

func (s *PageViews) UpdatePage(_ context.Context, flipbookID uint64, viewToken string, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows {
		if r.FlipbookID == flipbookID && r.ViewToken == viewToken {
			p := page
			s.rows[i].PageNumber = &p
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *PageViews) CountByFlipbook(_ context.Context, flipbookID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.FlipbookID == flipbookID {
			n++
		}
	}
	return n, nil
}

func (s *PageViews) CountDaily(_ context.Context, flipbookID uint64, since time.Time) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for _, r := range s.rows {
		if r.FlipbookID == flipbookID && !r.ViewedAt.Before(since) {
			out[r.ViewedAt.UTC().Format(time.DateOnly)]++
		}
	}
	return out, nil
}

// Add inserts a view with an explicit timestamp.
func (s *PageViews) Add(flipbookID uint64, at time.Time) {
	_, _ = s.Create(context.Background(), model.NewPageView{FlipbookID: flipbookID, ViewedAt: at})
}

// All returns a copy of every stored view.
func (s *PageViews) All() []model.PageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PageView(nil), s.rows...)
}
