package database

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

func count(n int) *sqlmock.Rows { return sqlmock.NewRows([]string{"n"}).AddRow(n) }

func expectTableCheck(mock sqlmock.Sqlmock, table string, exists bool) {
	n := 0
	if exists {
		n = 1
	}
	mock.ExpectQuery(regexp.QuoteMeta("information_schema.TABLES")).WithArgs(table).WillReturnRows(count(n))
}

func expectColumnCheck(mock sqlmock.Sqlmock, table, column string, exists bool) {
	n := 0
	if exists {
		n = 1
	}
	mock.ExpectQuery(regexp.QuoteMeta("information_schema.COLUMNS")).WithArgs(table, column).WillReturnRows(count(n))
}

func expectCreates(mock sqlmock.Sqlmock) {
	for _, table := range []string{"users", "flipbooks", "page_views"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func newMigrator(t *testing.T) (*Migrator, sqlmock.Sqlmock, *utils.Encryptor) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	enc, err := utils.NewEncryptor("test-secret")
	require.NoError(t, err)
	return NewMigrator(db, enc, "", logger.Discard()), mock, enc
}

// expectCurrentSchema expects the checks of a schema that needs no changes.
func expectCurrentSchema(mock sqlmock.Sqlmock) {
	for _, lt := range legacyTables {
		expectTableCheck(mock, lt.from, false)
	}
	expectCreates(mock)
	for _, c := range addedColumns {
		expectColumnCheck(mock, c.table, c.column, true)
	}
	for _, p := range plaintextColumns {
		expectColumnCheck(mock, p.table, p.column, false)
	}
}

func TestMigrateCurrentSchemaIsNoop(t *testing.T) {
	m, mock, _ := newMigrator(t)
	expectCurrentSchema(mock)

	require.NoError(t, m.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateLegacyUsers(t *testing.T) {
	m, mock, enc := newMigrator(t)

	expectTableCheck(mock, "user", true)
	expectTableCheck(mock, "users", false)
	mock.ExpectExec(regexp.QuoteMeta("RENAME TABLE `user` TO `users`")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectTableCheck(mock, "flipbook", false)
	expectTableCheck(mock, "page_view", false)
	expectCreates(mock)

	for _, c := range addedColumns {
		missing := c.table == "users"
		expectColumnCheck(mock, c.table, c.column, !missing)
		if missing {
			mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `users` ADD COLUMN " + c.column)).
				WillReturnResult(sqlmock.NewResult(0, 0))
		}
	}

	expectColumnCheck(mock, "users", "email", true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, `email` FROM `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(1, " Alice@Example.com"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET email_encrypted=?, email_hash=? WHERE id=?")).
		WithArgs(sqlmock.AnyArg(), enc.BlindIndex("alice@example.com"), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `users` DROP COLUMN `email`")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectColumnCheck(mock, "flipbooks", "title", false)
	expectColumnCheck(mock, "page_views", "ip_address", false)

	require.NoError(t, m.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateNullIPStaysNull(t *testing.T) {
	m, mock, _ := newMigrator(t)

	for _, lt := range legacyTables {
		expectTableCheck(mock, lt.from, false)
	}
	expectCreates(mock)
	for _, c := range addedColumns {
		expectColumnCheck(mock, c.table, c.column, true)
	}
	expectColumnCheck(mock, "users", "email", false)
	expectColumnCheck(mock, "flipbooks", "title", false)
	expectColumnCheck(mock, "page_views", "ip_address", true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, `ip_address` FROM `page_views`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ip_address"}).AddRow(4, nil))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `page_views` SET ip_address_encrypted=? WHERE id=?")).
		WithArgs(nil, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `page_views` DROP COLUMN `ip_address`")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateLegacyDuplicateEmailsKeepFirstDigest(t *testing.T) {
	m, mock, enc := newMigrator(t)

	for _, lt := range legacyTables {
		expectTableCheck(mock, lt.from, false)
	}
	expectCreates(mock)
	for _, c := range addedColumns {
		expectColumnCheck(mock, c.table, c.column, true)
	}
	expectColumnCheck(mock, "users", "email", true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, `email` FROM `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(1, "alice@example.com").
			AddRow(2, "Alice@Example.com").
			AddRow(3, "bob@example.com"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET email_encrypted=?, email_hash=? WHERE id=?")).
		WithArgs(sqlmock.AnyArg(), enc.BlindIndex("alice@example.com"), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET email_encrypted=?, email_hash=NULL WHERE id=?")).
		WithArgs(sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET email_encrypted=?, email_hash=? WHERE id=?")).
		WithArgs(sqlmock.AnyArg(), enc.BlindIndex("bob@example.com"), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `users` DROP COLUMN `email`")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectColumnCheck(mock, "flipbooks", "title", false)
	expectColumnCheck(mock, "page_views", "ip_address", false)

	require.NoError(t, m.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateBackfillsPageCounts(t *testing.T) {
	m, mock, _ := newMigrator(t)
	m.UploadDir = t.TempDir()

	pages := filepath.Join(m.UploadDir, "legacy")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	for _, name := range []string{"page_1.jpg", "page_2.jpg", "page_10.jpg", "thumb.jpg", "page_x.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(pages, name), []byte{0xff}, 0o644))
	}

	expectCurrentSchema(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, filename FROM flipbooks WHERE page_count = 0")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "filename"}).
			AddRow(7, "legacy.pdf").
			AddRow(8, "gone.pdf").
			AddRow(9, "../escape.pdf"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE flipbooks SET page_count=? WHERE id=?")).
		WithArgs(3, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPageImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "abc", "page_3.jpg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc", "page_1.jpg"), nil, 0o644))

	n, err := countPageImages(dir, "abc.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "directories are not pages")

	n, err = countPageImages(dir, "missing.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = countPageImages(dir, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDriverOptionsForced(t *testing.T) {
	cfg, err := mysql.ParseDSN(DSN("app", "pw", "db", "3306", "flipbook") + "?parseTime=false")
	require.NoError(t, err)
	withDriverOptions(cfg)
	assert.True(t, cfg.ParseTime)
	assert.True(t, cfg.ClientFoundRows)
	assert.Equal(t, time.UTC, cfg.Loc)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "db:3306", cfg.Addr)
}
