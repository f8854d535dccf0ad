package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// PageViewRepo reads and writes the `page_views` table.
type PageViewRepo struct {
	DB  *sql.DB
	Enc *utils.Encryptor
}

func NewPageViewRepo(db *sql.DB, enc *utils.Encryptor) *PageViewRepo {
	return &PageViewRepo{DB: db, Enc: enc}
}

// Create records a viewer session.  The IP address, when known, is stored
// encrypted.
func (r *PageViewRepo) Create(ctx context.Context, v model.NewPageView) (model.PageView, error) {
	ip, err := r.Enc.EncryptNullable(v.IPAddress)
	if err != nil {
		return model.PageView{}, err
	}
	viewedAt := v.ViewedAt.UTC()
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO page_views (flipbook_id, viewed_at, ip_address_encrypted, view_token) VALUES (?,?,?,?)",
		v.FlipbookID, viewedAt, ip, v.ViewToken)
	if err != nil {
		return model.PageView{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.PageView{}, err
	}
	return model.PageView{
		ID:         uint64(id),
		FlipbookID: v.FlipbookID,
		ViewedAt:   viewedAt,
		IPAddress:  v.IPAddress,
		ViewToken:  v.ViewToken,
	}, nil
}

// GetByToken fetches the view identified by (flipbookID, viewToken).
func (r *PageViewRepo) GetByToken(ctx context.Context, flipbookID uint64, viewToken string) (model.PageView, error) {
	var rec model.PageViewRecord
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, flipbook_id, viewed_at, ip_address_encrypted, page_number, view_token
		 FROM page_views WHERE flipbook_id=? AND view_token=? LIMIT 1`, flipbookID, viewToken).
		Scan(&rec.ID, &rec.FlipbookID, &rec.ViewedAt, &rec.IPAddressEncrypted, &rec.PageNumber, &rec.ViewToken)
	if err != nil {
		return model.PageView{}, err
	}
	ip, err := r.Enc.DecryptNullable(rec.IPAddressEncrypted)
	if err != nil {
		return model.PageView{}, decryptErr("page_views.ip_address_encrypted", err)
	}
	v := model.PageView{
		ID:         rec.ID,
		FlipbookID: rec.FlipbookID,
		ViewedAt:   rec.ViewedAt,
		IPAddress:  ip,
		ViewToken:  rec.ViewToken,
	}
	if rec.PageNumber.Valid {
		n := int(rec.PageNumber.Int64)
		v.PageNumber = &n
	}
	return v, nil
}

// UpdatePage sets the current page of the view identified by
// (flipbookID, viewToken).  It returns sql.ErrNoRows when no such view exists.
func (r *PageViewRepo) UpdatePage(ctx context.Context, flipbookID uint64, viewToken string, page int) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE page_views SET page_number=? WHERE flipbook_id=? AND view_token=?",
		page, flipbookID, viewToken)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// CountByFlipbook returns the total number of views of a flipbook.
func (r *PageViewRepo) CountByFlipbook(ctx context.Context, flipbookID uint64) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM page_views WHERE flipbook_id=?", flipbookID).Scan(&n)
	return n, err
}

// CountDaily returns view counts per UTC calendar date (YYYY-MM-DD) for views
// at or after since.  Dates without views are absent.
func (r *PageViewRepo) CountDaily(ctx context.Context, flipbookID uint64, since time.Time) (map[string]int64, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DATE(viewed_at) AS d, COUNT(*) FROM page_views
		 WHERE flipbook_id=? AND viewed_at >= ?
		 GROUP BY DATE(viewed_at)`, flipbookID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			day   time.Time
			count int64
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		out[day.UTC().Format(time.DateOnly)] = count
	}
	return out, rows.Err()
}
