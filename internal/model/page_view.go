package model

import (
	"database/sql"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// PageView is one viewer session of a flipbook.  ViewToken identifies the
// session for later page tracking calls.
type PageView struct {
	ID         uint64
	FlipbookID uint64
	ViewedAt   time.Time
	IPAddress  *string
	PageNumber *int
	ViewToken  string
}

// NewPageView carries the plaintext values of a view being recorded.
type NewPageView struct {
	FlipbookID uint64
	ViewedAt   time.Time
	IPAddress  *string
	ViewToken  string
}

// PageViewRecord mirrors the `page_views` table as stored.
type PageViewRecord struct {
	ID                 uint64            // page_views.id
	FlipbookID         uint64            // page_views.flipbook_id
	ViewedAt           time.Time         // page_views.viewed_at
	IPAddressEncrypted *utils.Ciphertext // page_views.ip_address_encrypted (nullable)
	PageNumber         sql.NullInt64     // page_views.page_number
	ViewToken          string            // page_views.view_token
}

// DailyCount is the number of views on one calendar date (YYYY-MM-DD).
type DailyCount struct {
	Date  string
	Count int64
}

// FlipbookStats is the analytics summary of one flipbook.
type FlipbookStats struct {
	FlipbookID uint64
	Title      string
	TotalViews int64
	Daily      []DailyCount
}

// DailyMap returns the daily counts keyed by date.
func (s FlipbookStats) DailyMap() map[string]int64 {
	m := make(map[string]int64, len(s.Daily))
	for _, d := range s.Daily {
		m[d.Date] = d.Count
	}
	return m
}
