package model

import (
	"database/sql"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// DefaultBackgroundColor is used when an upload does not pick one.
const DefaultBackgroundColor = "#ffffff"

// PagesURLPrefix is where page images are served from.
const PagesURLPrefix = "/static/uploads"

// Flipbook is the decrypted view of a `flipbooks` row.  UniqueID is the only
// identifier ever exposed publicly.
type Flipbook struct {
	ID              uint64
	Title           string
	Filename        string
	UniqueID        string
	BackgroundColor string
	CreatedAt       time.Time
	PageCount       int
	UserID          uint64
	LogoFilename    string // stored name under the upload dir, empty when none
	CustomCSS       string
}

// Stem is the stored filename without its extension; page images live in a
// directory of that name.
func (f Flipbook) Stem() string {
	return strings.TrimSuffix(f.Filename, path.Ext(f.Filename))
}

// PageURL returns the public URL of the 1-based page n.
func (f Flipbook) PageURL(n int) string {
	return fmt.Sprintf("%s/%s/%s", PagesURLPrefix, f.Stem(), PageImageName(n))
}

// PageURLs lists the URLs of every page in order.
func (f Flipbook) PageURLs() []string {
	urls := make([]string, 0, f.PageCount)
	for i := 1; i <= f.PageCount; i++ {
		urls = append(urls, f.PageURL(i))
	}
	return urls
}

// LogoURL is the public URL of the uploaded logo, or "" without one.
func (f Flipbook) LogoURL() string {
	if f.LogoFilename == "" {
		return ""
	}
	return PagesURLPrefix + "/" + f.LogoFilename
}

// OwnedBy reports whether userID owns the flipbook.
func (f Flipbook) OwnedBy(userID uint64) bool { return f.UserID == userID }

// PageImageName is the file name of the 1-based page n.
func PageImageName(n int) string { return fmt.Sprintf("page_%d.jpg", n) }

// NewFlipbook carries the plaintext values of a flipbook being persisted.
type NewFlipbook struct {
	Title           string
	Filename        string
	UniqueID        string
	BackgroundColor string
	PageCount       int
	UserID          uint64
	LogoFilename    string
	CustomCSS       string
}

// FlipbookRecord mirrors the `flipbooks` table as stored.
type FlipbookRecord struct {
	ID              uint64           // flipbooks.id
	TitleEncrypted  utils.Ciphertext // flipbooks.title_encrypted
	Filename        string           // flipbooks.filename
	UniqueID        string           // flipbooks.unique_id
	BackgroundColor string           // flipbooks.background_color
	CreatedAt       time.Time        // flipbooks.created_at
	PageCount       int              // flipbooks.page_count
	UserID          uint64           // flipbooks.user_id
	LogoFilename    sql.NullString   // flipbooks.logo_filename
	CustomCSS       sql.NullString   // flipbooks.custom_css
}
