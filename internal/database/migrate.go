package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/repository"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(64) NOT NULL,
		email_encrypted TEXT NOT NULL,
		email_hash CHAR(64) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		refresh_token CHAR(64) NULL,
		refresh_token_expiry DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_username (username),
		UNIQUE KEY uq_users_email_hash (email_hash),
		UNIQUE KEY uq_users_refresh_token (refresh_token)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS flipbooks (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		title_encrypted TEXT NOT NULL,
		filename VARCHAR(256) NOT NULL,
		unique_id CHAR(36) NOT NULL,
		background_color VARCHAR(7) NOT NULL DEFAULT '#ffffff',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		page_count INT NOT NULL DEFAULT 0,
		user_id BIGINT UNSIGNED NOT NULL,
		logo_filename VARCHAR(256) NULL,
		custom_css TEXT NULL,
		UNIQUE KEY uq_flipbooks_unique_id (unique_id),
		KEY idx_flipbooks_user (user_id, created_at),
		CONSTRAINT fk_flipbooks_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS page_views (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		flipbook_id BIGINT UNSIGNED NOT NULL,
		viewed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ip_address_encrypted TEXT NULL,
		page_number INT NULL,
		view_token VARCHAR(64) NOT NULL DEFAULT '',
		KEY idx_page_views_day (flipbook_id, viewed_at),
		KEY idx_page_views_token (flipbook_id, view_token),
		CONSTRAINT fk_page_views_flipbook FOREIGN KEY (flipbook_id) REFERENCES flipbooks(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Tables created by the earliest deployments, named after their ORM models.
var legacyTables = []struct{ from, to string }{
	{"user", "users"},
	{"flipbook", "flipbooks"},
	{"page_view", "page_views"},
}

// Columns that older schemas lack.  Each is added only when information_schema
// shows it missing.  Encrypted columns start out nullable so existing rows can be
// backfilled.
var addedColumns = []struct{ table, column, ddl string }{
	{"users", "created_at", "ADD COLUMN created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"},
	{"users", "refresh_token", "ADD COLUMN refresh_token CHAR(64) NULL, ADD UNIQUE KEY uq_users_refresh_token (refresh_token)"},
	{"users", "refresh_token_expiry", "ADD COLUMN refresh_token_expiry DATETIME NULL"},
	{"users", "email_encrypted", "ADD COLUMN email_encrypted TEXT NULL"},
	{"users", "email_hash", "ADD COLUMN email_hash CHAR(64) NULL, ADD UNIQUE KEY uq_users_email_hash (email_hash)"},
	{"flipbooks", "title_encrypted", "ADD COLUMN title_encrypted TEXT NULL"},
	{"flipbooks", "background_color", "ADD COLUMN background_color VARCHAR(7) NOT NULL DEFAULT '#ffffff'"},
	{"flipbooks", "page_count", "ADD COLUMN page_count INT NOT NULL DEFAULT 0"},
	{"flipbooks", "logo_filename", "ADD COLUMN logo_filename VARCHAR(256) NULL"},
	{"flipbooks", "custom_css", "ADD COLUMN custom_css TEXT NULL"},
	{"page_views", "ip_address_encrypted", "ADD COLUMN ip_address_encrypted TEXT NULL"},
	{"page_views", "view_token", "ADD COLUMN view_token VARCHAR(64) NOT NULL DEFAULT ''"},
}

// plaintextColumn is a legacy plaintext column whose values move into
// encrypted columns before it is dropped.
type plaintextColumn struct {
	table, column string
	set           string // SET clause receiving encode's values, then the row id
	encode        func(enc *utils.Encryptor, v sql.NullString) ([]any, error)

	// dupSet, when set, is used instead of set for a row whose last encoded
	// value repeats an earlier row's.  It receives the other values.
	dupSet string
}

var plaintextColumns = []plaintextColumn{
	{
		table: "users", column: "email", set: "email_encrypted=?, email_hash=?",
		dupSet: "email_encrypted=?, email_hash=NULL",
		encode: func(enc *utils.Encryptor, v sql.NullString) ([]any, error) {
			email := repository.NormalizeEmail(v.String)
			c, err := enc.Encrypt(email)
			return []any{c, enc.BlindIndex(email)}, err
		},
	},
	{
		table: "flipbooks", column: "title", set: "title_encrypted=?",
		encode: func(enc *utils.Encryptor, v sql.NullString) ([]any, error) {
			c, err := enc.Encrypt(v.String)
			return []any{c}, err
		},
	},
	{
		table: "page_views", column: "ip_address", set: "ip_address_encrypted=?",
		encode: func(enc *utils.Encryptor, v sql.NullString) ([]any, error) {
			if !v.Valid {
				return []any{nil}, nil
			}
			c, err := enc.Encrypt(v.String)
			return []any{c}, err
		},
	},
}

// Migrator brings any earlier schema up to date.  Every step checks
// information_schema first, so running it again is a no-op.
type Migrator struct {
	DB  *sql.DB
	Enc *utils.Encryptor
	Log *slog.Logger

	// UploadDir holds the page image directories counted to fill in
	// page_count for rows that predate it.  Empty skips the count.
	UploadDir string
}

// NewMigrator returns a Migrator over db.  uploadDir may be empty.
func NewMigrator(db *sql.DB, enc *utils.Encryptor, uploadDir string, log *slog.Logger) *Migrator {
	return &Migrator{DB: db, Enc: enc, UploadDir: uploadDir, Log: log}
}

// Migrate renames legacy tables, creates missing ones, adds missing columns,
// moves plaintext columns into encrypted ones and fills in page counts.
func (m *Migrator) Migrate(ctx context.Context) error {
	log := m.Log.With(slog.String("op", "database.Migrator.Migrate"))

	for _, t := range legacyTables {
		old, err := m.tableExists(ctx, t.from)
		if err != nil {
			return err
		}
		if !old {
			continue
		}
		cur, err := m.tableExists(ctx, t.to)
		if err != nil {
			return err
		}
		if cur {
			continue
		}
		if _, err := m.DB.ExecContext(ctx, fmt.Sprintf("RENAME TABLE `%s` TO `%s`", t.from, t.to)); err != nil {
			return fmt.Errorf("rename %s: %w", t.from, err)
		}
		log.Info("renamed legacy table", slog.String("from", t.from), slog.String("to", t.to))
	}

	for _, stmt := range schema {
		if _, err := m.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	for _, c := range addedColumns {
		ok, err := m.columnExists(ctx, c.table, c.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := m.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE `%s` %s", c.table, c.ddl)); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
		log.Info("added column", slog.String("table", c.table), slog.String("column", c.column))
	}

	for _, p := range plaintextColumns {
		ok, err := m.columnExists(ctx, p.table, p.column)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := m.encryptColumn(ctx, p)
		if err != nil {
			return fmt.Errorf("encrypt %s.%s: %w", p.table, p.column, err)
		}
		log.Info("encrypted legacy column", slog.String("table", p.table), slog.String("column", p.column), slog.Int("rows", n))
	}

	if m.UploadDir != "" {
		n, err := m.backfillPageCounts(ctx)
		if err != nil {
			return fmt.Errorf("backfill page_count: %w", err)
		}
		if n > 0 {
			log.Info("filled in page counts", slog.Int("rows", n))
		}
	}
	return nil
}

// encryptColumn fills the encrypted columns from the plaintext one and drops
// it, all rows in one transaction.  The DROP is DDL and commits on its own
// after the backfill.
func (m *Migrator) encryptColumn(ctx context.Context, p plaintextColumn) (int, error) {
	type row struct {
		id uint64
		v  sql.NullString
	}
	rows, err := m.DB.QueryContext(ctx, fmt.Sprintf("SELECT id, `%s` FROM `%s`", p.column, p.table))
	if err != nil {
		return 0, err
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.v); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	update := fmt.Sprintf("UPDATE `%s` SET %s WHERE id=?", p.table, p.set)
	dupUpdate := fmt.Sprintf("UPDATE `%s` SET %s WHERE id=?", p.table, p.dupSet)
	seen := map[any]uint64{}
	for _, r := range all {
		args, err := p.encode(m.Enc, r.v)
		if err != nil {
			return 0, err
		}
		if p.dupSet != "" {
			last := args[len(args)-1]
			if first, ok := seen[last]; ok {
				if _, err := tx.ExecContext(ctx, dupUpdate, append(args[:len(args)-1:len(args)-1], r.id)...); err != nil {
					return 0, err
				}
				m.Log.Warn("duplicate value after normalization, row left without lookup digest",
					slog.String("table", p.table), slog.String("column", p.column),
					slog.Uint64("id", r.id), slog.Uint64("first_id", first))
				continue
			}
			seen[last] = r.id
		}
		if _, err := tx.ExecContext(ctx, update, append(args, r.id)...); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if _, err := m.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE `%s` DROP COLUMN `%s`", p.table, p.column)); err != nil {
		return 0, err
	}
	return len(all), nil
}

var pageImage = regexp.MustCompile(`^page_\d+\.jpg$`)

// backfillPageCounts sets page_count for flipbooks recorded before the column
// existed by counting the page images in each one's directory.  Ingestion
// never records zero pages, so zero marks exactly those rows.
func (m *Migrator) backfillPageCounts(ctx context.Context) (int, error) {
	type row struct {
		id       uint64
		filename string
	}
	rows, err := m.DB.QueryContext(ctx, "SELECT id, filename FROM flipbooks WHERE page_count = 0")
	if err != nil {
		return 0, err
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.filename); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, r := range all {
		n, err := countPageImages(m.UploadDir, r.filename)
		if err != nil {
			m.Log.Warn("page images unreadable", slog.Uint64("id", r.id), sl.Err(err))
			continue
		}
		if n == 0 {
			continue
		}
		if _, err := m.DB.ExecContext(ctx, "UPDATE flipbooks SET page_count=? WHERE id=?", n, r.id); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// countPageImages counts page_<n>.jpg files in the directory named after
// filename's stem.  A missing directory counts as zero.
func countPageImages(uploadDir, filename string) (int, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return 0, nil
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	entries, err := os.ReadDir(filepath.Join(uploadDir, stem))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && pageImage.MatchString(e.Name()) {
			n++
		}
	}
	return n, nil
}

func (m *Migrator) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := m.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`,
		table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

func (m *Migrator) columnExists(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := m.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
