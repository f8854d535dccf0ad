package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

const flipbookColumns = "id,title_encrypted,filename,unique_id,background_color,created_at,page_count,user_id,logo_filename,custom_css"

// FlipbookRepo reads and writes the `flipbooks` table.  Titles are stored
// encrypted; every read decrypts them.
type FlipbookRepo struct {
	DB  *sql.DB
	Enc *utils.Encryptor
}

func NewFlipbookRepo(db *sql.DB, enc *utils.Encryptor) *FlipbookRepo {
	return &FlipbookRepo{DB: db, Enc: enc}
}

// Create inserts a flipbook after successful ingestion and returns it.
func (r *FlipbookRepo) Create(ctx context.Context, f model.NewFlipbook) (model.Flipbook, error) {
	title, err := r.Enc.Encrypt(f.Title)
	if err != nil {
		return model.Flipbook{}, err
	}
	bg := f.BackgroundColor
	if bg == "" {
		bg = model.DefaultBackgroundColor
	}
	now := time.Now().UTC().Truncate(time.Second)
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO flipbooks (title_encrypted, filename, unique_id, background_color, created_at, page_count, user_id,
		                        logo_filename, custom_css)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		title, f.Filename, f.UniqueID, bg, now, f.PageCount, f.UserID, nullable(f.LogoFilename), nullable(f.CustomCSS))
	if err != nil {
		return model.Flipbook{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Flipbook{}, err
	}
	return model.Flipbook{
		ID:              uint64(id),
		Title:           f.Title,
		Filename:        f.Filename,
		UniqueID:        f.UniqueID,
		BackgroundColor: bg,
		CreatedAt:       now,
		PageCount:       f.PageCount,
		UserID:          f.UserID,
		LogoFilename:    f.LogoFilename,
		CustomCSS:       f.CustomCSS,
	}, nil
}

// GetByUniqueID fetches a flipbook by its public identifier.
func (r *FlipbookRepo) GetByUniqueID(ctx context.Context, uniqueID string) (model.Flipbook, error) {
	var rec model.FlipbookRecord
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+flipbookColumns+" FROM flipbooks WHERE unique_id=? LIMIT 1", uniqueID).
		Scan(&rec.ID, &rec.TitleEncrypted, &rec.Filename, &rec.UniqueID, &rec.BackgroundColor,
			&rec.CreatedAt, &rec.PageCount, &rec.UserID, &rec.LogoFilename, &rec.CustomCSS)
	if err != nil {
		return model.Flipbook{}, err
	}
	return r.decode(rec)
}

// ListByUser returns the user's flipbooks, newest first.
func (r *FlipbookRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Flipbook, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+flipbookColumns+" FROM flipbooks WHERE user_id=? ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Flipbook{}
	for rows.Next() {
		var rec model.FlipbookRecord
		if err := rows.Scan(&rec.ID, &rec.TitleEncrypted, &rec.Filename, &rec.UniqueID, &rec.BackgroundColor,
			&rec.CreatedAt, &rec.PageCount, &rec.UserID, &rec.LogoFilename, &rec.CustomCSS); err != nil {
			return nil, err
		}
		f, err := r.decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *FlipbookRepo) decode(rec model.FlipbookRecord) (model.Flipbook, error) {
	title, err := r.Enc.Decrypt(rec.TitleEncrypted)
	if err != nil {
		return model.Flipbook{}, decryptErr("flipbooks.title_encrypted", err)
	}
	return model.Flipbook{
		ID:              rec.ID,
		Title:           title,
		Filename:        rec.Filename,
		UniqueID:        rec.UniqueID,
		BackgroundColor: rec.BackgroundColor,
		CreatedAt:       rec.CreatedAt,
		PageCount:       rec.PageCount,
		UserID:          rec.UserID,
		LogoFilename:    rec.LogoFilename.String,
		CustomCSS:       rec.CustomCSS.String,
	}, nil
}

// nullable stores "" as NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
