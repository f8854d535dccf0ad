package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *utils.Encryptor) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	enc, err := utils.NewEncryptor("test-secret")
	require.NoError(t, err)
	return db, mock, enc
}

var userCols = []string{"id", "username", "email_encrypted", "email_hash", "password_hash",
	"refresh_token", "refresh_token_expiry", "created_at"}

func TestUserCreateEncryptsEmail(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewUserRepo(db, enc)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("alice", sqlmock.AnyArg(), enc.BlindIndex("alice@example.com"), "hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))

	u, err := repo.Create(context.Background(), model.NewUser{
		Username: "alice", Email: " Alice@Example.com ", PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreateDuplicates(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewUserRepo(db, enc)

	cases := []struct {
		key  string
		want error
	}{
		{"Duplicate entry 'alice' for key 'users.uq_users_username'", ErrUsernameExists},
		{"Duplicate entry 'abc' for key 'users.uq_users_email_hash'", ErrEmailExists},
	}
	for _, tc := range cases {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: tc.key})
		_, err := repo.Create(context.Background(), model.NewUser{Username: "alice", Email: "a@b.c"})
		assert.ErrorIs(t, err, tc.want)
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).WillReturnError(errors.New("conn reset"))
	_, err := repo.Create(context.Background(), model.NewUser{Username: "alice", Email: "a@b.c"})
	assert.EqualError(t, err, "conn reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserGetByEmailDecrypts(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewUserRepo(db, enc)

	c, err := enc.Encrypt("alice@example.com")
	require.NoError(t, err)
	exp := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email_hash=?")).
		WithArgs(enc.BlindIndex("alice@example.com")).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(3, "alice", string(c), enc.BlindIndex("alice@example.com"), "hash", "deadbeef", exp, exp))

	u, err := repo.GetByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	require.NotNil(t, u.RefreshTokenHash)
	assert.Equal(t, "deadbeef", *u.RefreshTokenHash)
	require.NotNil(t, u.RefreshTokenExpiry)
	assert.True(t, exp.Equal(*u.RefreshTokenExpiry))
}

func TestUserWithoutEmailDigestLoads(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewUserRepo(db, enc)

	c, err := enc.Encrypt("alice@example.com")
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(2, "alice2", string(c), nil, "hash", nil, nil, time.Now()))

	u, err := repo.GetByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
}

func TestUserCorruptEmail(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewUserRepo(db, enc)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(3, "alice", "not-ciphertext", "x", "hash", nil, nil, time.Now()))

	_, err := repo.GetByID(context.Background(), 3)
	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.ErrorIs(t, err, utils.ErrDecryption)
}

func TestUserNotFound(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewUserRepo(db, enc)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(userCols))
	_, err := repo.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSwapRefreshTokenCompareAndSwap(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewUserRepo(db, enc)
	exp := time.Now().Add(time.Hour)

	q := regexp.QuoteMeta("UPDATE users SET refresh_token=?, refresh_token_expiry=? WHERE id=? AND refresh_token=?")
	mock.ExpectExec(q).WithArgs("new", sqlmock.AnyArg(), 1, "old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("newer", sqlmock.AnyArg(), 1, "old").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SwapRefreshToken(context.Background(), 1, "old", "new", exp))
	err := repo.SwapRefreshToken(context.Background(), 1, "old", "newer", exp)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var flipbookCols = []string{"id", "title_encrypted", "filename", "unique_id", "background_color",
	"created_at", "page_count", "user_id", "logo_filename", "custom_css"}

func TestFlipbookCreateAndList(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewFlipbookRepo(db, enc)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO flipbooks")).
		WithArgs(sqlmock.AnyArg(), "abc.pdf", "u-1", "#ffffff", sqlmock.AnyArg(), 3, 9, nil, nil).
		WillReturnResult(sqlmock.NewResult(5, 1))
	f, err := repo.Create(context.Background(), model.NewFlipbook{
		Title: "Report", Filename: "abc.pdf", UniqueID: "u-1", PageCount: 3, UserID: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), f.ID)
	assert.Equal(t, "#ffffff", f.BackgroundColor)

	t1, err := enc.Encrypt("Newer")
	require.NoError(t, err)
	t2, err := enc.Encrypt("Older")
	require.NoError(t, err)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM flipbooks WHERE user_id=? ORDER BY created_at DESC, id DESC")).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows(flipbookCols).
			AddRow(6, string(t1), "b.pdf", "u-2", "#000000", now, 2, 9, "logo.png", "body { color: red }").
			AddRow(5, string(t2), "a.pdf", "u-1", "#ffffff", now.Add(-time.Hour), 3, 9, nil, nil))

	list, err := repo.ListByUser(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Newer", list[0].Title)
	assert.Equal(t, "Older", list[1].Title)
	assert.Equal(t, "/static/uploads/logo.png", list[0].LogoURL())
	assert.Equal(t, "body { color: red }", list[0].CustomCSS)
	assert.Empty(t, list[1].LogoURL())
	assert.Empty(t, list[1].CustomCSS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlipbookCreateStoresBranding(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewFlipbookRepo(db, enc)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO flipbooks")).
		WithArgs(sqlmock.AnyArg(), "abc.pdf", "u-1", "#123456", sqlmock.AnyArg(), 1, 9, "logo.png", ".page { border: 0 }").
		WillReturnResult(sqlmock.NewResult(7, 1))
	f, err := repo.Create(context.Background(), model.NewFlipbook{
		Title: "Report", Filename: "abc.pdf", UniqueID: "u-1", BackgroundColor: "#123456",
		PageCount: 1, UserID: 9, LogoFilename: "logo.png", CustomCSS: ".page { border: 0 }",
	})
	require.NoError(t, err)
	assert.Equal(t, "logo.png", f.LogoFilename)
	assert.Equal(t, ".page { border: 0 }", f.CustomCSS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlipbookListEmpty(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewFlipbookRepo(db, enc)

	mock.ExpectQuery(regexp.QuoteMeta("FROM flipbooks WHERE user_id=?")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(flipbookCols))
	list, err := repo.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestFlipbookCorruptTitle(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewFlipbookRepo(db, enc)

	mock.ExpectQuery(regexp.QuoteMeta("FROM flipbooks WHERE unique_id=?")).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(flipbookCols).
			AddRow(1, "garbage", "a.pdf", "u-1", "#ffffff", time.Now(), 1, 1, nil, nil))
	_, err := repo.GetByUniqueID(context.Background(), "u-1")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestPageViewCreateEncryptsIP(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewPageViewRepo(db, enc)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO page_views")).
		WithArgs(4, sqlmock.AnyArg(), sqlmock.AnyArg(), "tok").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO page_views")).
		WithArgs(4, sqlmock.AnyArg(), nil, "tok2").
		WillReturnResult(sqlmock.NewResult(2, 1))

	ip := "10.0.0.1"
	v, err := repo.Create(context.Background(), model.NewPageView{FlipbookID: 4, ViewedAt: time.Now(), IPAddress: &ip, ViewToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", *v.IPAddress)

	_, err = repo.Create(context.Background(), model.NewPageView{FlipbookID: 4, ViewedAt: time.Now(), ViewToken: "tok2"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPageViewGetByTokenAndUpdate(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewPageViewRepo(db, enc)

	c, err := enc.Encrypt("10.0.0.1")
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("FROM page_views WHERE flipbook_id=? AND view_token=?")).
		WithArgs(4, "tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "flipbook_id", "viewed_at", "ip_address_encrypted", "page_number", "view_token"}).
			AddRow(1, 4, time.Now(), string(c), 2, "tok"))
	v, err := repo.GetByToken(context.Background(), 4, "tok")
	require.NoError(t, err)
	require.NotNil(t, v.IPAddress)
	assert.Equal(t, "10.0.0.1", *v.IPAddress)
	require.NotNil(t, v.PageNumber)
	assert.Equal(t, 2, *v.PageNumber)

	q := regexp.QuoteMeta("UPDATE page_views SET page_number=? WHERE flipbook_id=? AND view_token=?")
	mock.ExpectExec(q).WithArgs(3, 4, "tok").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(3, 4, "nope").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.UpdatePage(context.Background(), 4, "tok", 3))
	assert.ErrorIs(t, repo.UpdatePage(context.Background(), 4, "nope", 3), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPageViewCountDaily(t *testing.T) {
	db, mock, enc := newMock(t)
	repo := NewPageViewRepo(db, enc)
	since := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY DATE(viewed_at)")).
		WithArgs(4, since).
		WillReturnRows(sqlmock.NewRows([]string{"d", "count"}).
			AddRow(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), 2).
			AddRow(time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), 5))
	got, err := repo.CountDaily(context.Background(), 4, since)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2024-05-03": 2, "2024-05-09": 5}, got)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM page_views WHERE flipbook_id=?")).
		WithArgs(4).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(7))
	n, err := repo.CountByFlipbook(context.Background(), 4)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
