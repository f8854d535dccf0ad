package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/pdf-flipbook/internal/model"
)

// ConversionError wraps whatever made rasterization fail.
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string { return "error converting PDF: " + e.Err.Error() }
func (e *ConversionError) Unwrap() error { return e.Err }

var errNotPDF = errors.New("file is not a PDF document")

// ValidateUpload accepts filenames ending in ".pdf", case-insensitive.  Only
// the name is checked.
func ValidateUpload(filename string) bool {
	i := strings.LastIndex(filename, ".")
	return i >= 0 && strings.EqualFold(filename[i+1:], "pdf")
}

var logoExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// ValidateLogo accepts raster image names by extension, case-insensitive.
func ValidateLogo(filename string) bool {
	i := strings.LastIndex(filename, ".")
	return i >= 0 && logoExts[strings.ToLower(filename[i:])]
}

// StoredFilename returns a fresh random name that keeps the lower-cased
// extension of original.
func StoredFilename(original string) string {
	ext := ""
	if i := strings.LastIndex(original, "."); i >= 0 {
		ext = strings.ToLower(original[i:])
	}
	return uuid.New().String() + ext
}

// Rasterizer renders every page of a PDF into images inside dir and returns
// their paths in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, dir string) ([]string, error)
}

// Ingestor turns a stored PDF into an immutable directory of page images.
type Ingestor struct {
	Rasterizer Rasterizer
}

// NewIngestor returns an Ingestor rendering with r.
func NewIngestor(r Rasterizer) *Ingestor { return &Ingestor{Rasterizer: r} }

// Ingest renders sourcePath into outputDir as page_1.jpg..page_N.jpg and
// returns N.  Pages are rendered into a temporary sibling directory that is
// renamed into place only on success, so a failed conversion leaves nothing
// behind.  outputDir must not exist yet.
func (in *Ingestor) Ingest(ctx context.Context, sourcePath, outputDir string) (int, error) {
	if err := checkPDFHeader(sourcePath); err != nil {
		return 0, &ConversionError{Err: err}
	}
	parent := filepath.Dir(outputDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return 0, &ConversionError{Err: err}
	}
	tmp, err := os.MkdirTemp(parent, ".ingest-*")
	if err != nil {
		return 0, &ConversionError{Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	pages, err := in.Rasterizer.Rasterize(ctx, sourcePath, tmp)
	if err != nil {
		return 0, &ConversionError{Err: err}
	}
	if len(pages) == 0 {
		return 0, &ConversionError{Err: errors.New("no pages produced")}
	}
	for i, p := range pages {
		dst := filepath.Join(tmp, model.PageImageName(i+1))
		if p == dst {
			continue
		}
		if err := os.Rename(p, dst); err != nil {
			return 0, &ConversionError{Err: err}
		}
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return 0, &ConversionError{Err: err}
	}
	if err := os.Rename(tmp, outputDir); err != nil {
		return 0, &ConversionError{Err: err}
	}
	committed = true
	return len(pages), nil
}

func checkPDFHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 5)
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, []byte("%PDF-")) {
		return errNotPDF
	}
	return nil
}

// PdftoppmRasterizer shells out to poppler's pdftoppm, the renderer
// pdf2image drives.
type PdftoppmRasterizer struct {
	Binary string // path or name of pdftoppm
	DPI    int
}

var pdftoppmPage = regexp.MustCompile(`^page-(\d+)\.jpg$`)

// Rasterize runs `pdftoppm -jpeg -r DPI pdfPath dir/page` and collects the
// numbered output files.
func (p PdftoppmRasterizer) Rasterize(ctx context.Context, pdfPath, dir string) ([]string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 200
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-jpeg", "-r", strconv.Itoa(dpi), pdfPath, filepath.Join(dir, "page"))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w", msg, err)
		}
		return nil, err
	}
	return collectPages(dir)
}

// collectPages lists page-<n>.jpg files in dir ordered by n.  pdftoppm zero
// pads n to the width of the page count.
func collectPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		m := pdftoppmPage.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pages = append(pages, page{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
