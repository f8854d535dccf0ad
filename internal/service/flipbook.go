package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/queue"
)

var (
	ErrNotFound = errors.New("flipbook not found")

	// ErrForbidden: the flipbook exists but belongs to someone else.
	ErrForbidden = errors.New("not allowed to access this flipbook")

	ErrInvalidUpload = errors.New("upload is not a pdf")
	ErrMissingUpload = errors.New("no file part")
	ErrEmptyFilename = errors.New("no selected file")
	ErrTitleRequired = errors.New("title is required")
	ErrInvalidLogo   = errors.New("logo is not a supported image")
	ErrInvalidCSS    = errors.New("custom css contains markup")
)

const publishTimeout = 5 * time.Second

// UploadInput is a PDF upload as received from a form.
type UploadInput struct {
	Title           string
	BackgroundColor string
	Filename        string
	Reader          io.Reader

	// optional branding; Logo is nil when no logo was sent
	LogoFilename string
	Logo         io.Reader
	CustomCSS    string
}

// FlipbookSummary is a list entry: the flipbook plus its total view count.
type FlipbookSummary struct {
	model.Flipbook
	ViewCount int64
}

// Flipbooks stores uploads, runs ingestion and answers ownership-checked
// lookups.
type Flipbooks struct {
	log       *slog.Logger
	store     FlipbookStore
	views     PageViewStore
	ingestor  *Ingestor
	uploadDir string
	events    EventPublisher
}

// NewFlipbooks wires the flipbook service.  A nil events publisher drops
// events.
func NewFlipbooks(log *slog.Logger, store FlipbookStore, views PageViewStore, ingestor *Ingestor,
	uploadDir string, events EventPublisher) *Flipbooks {
	if events == nil {
		events = NopPublisher{}
	}
	return &Flipbooks{log: log, store: store, views: views, ingestor: ingestor, uploadDir: uploadDir, events: events}
}

// UploadDir is the directory stored PDFs and page images live in.
func (s *Flipbooks) UploadDir() string { return s.uploadDir }

// Upload stores the PDF under a random name, rasterizes it and records the
// flipbook.  Nothing is persisted unless every step succeeds.
func (s *Flipbooks) Upload(ctx context.Context, ownerID uint64, in UploadInput) (model.Flipbook, error) {
	const op = "service.Flipbooks.Upload"
	log := s.log.With(slog.String("op", op), slog.Uint64("uid", ownerID))

	if in.Reader == nil {
		return model.Flipbook{}, ErrMissingUpload
	}
	if in.Filename == "" {
		return model.Flipbook{}, ErrEmptyFilename
	}
	if !ValidateUpload(in.Filename) {
		return model.Flipbook{}, ErrInvalidUpload
	}
	if in.Title == "" {
		return model.Flipbook{}, ErrTitleRequired
	}
	if in.Logo != nil && !ValidateLogo(in.LogoFilename) {
		return model.Flipbook{}, ErrInvalidLogo
	}
	// the stylesheet is emitted inside a <style> element
	if strings.Contains(in.CustomCSS, "<") {
		return model.Flipbook{}, ErrInvalidCSS
	}

	stored := StoredFilename(in.Filename)
	pdfPath := filepath.Join(s.uploadDir, stored)
	if err := saveFile(pdfPath, in.Reader); err != nil {
		return model.Flipbook{}, fmt.Errorf("%s: save: %w", op, err)
	}

	var logo, logoPath string
	if in.Logo != nil {
		logo = StoredFilename(in.LogoFilename)
		logoPath = filepath.Join(s.uploadDir, logo)
		if err := saveFile(logoPath, in.Logo); err != nil {
			_ = os.Remove(pdfPath)
			return model.Flipbook{}, fmt.Errorf("%s: save logo: %w", op, err)
		}
	}
	removeFiles := func() {
		_ = os.Remove(pdfPath)
		if logoPath != "" {
			_ = os.Remove(logoPath)
		}
	}

	f := model.Flipbook{Filename: stored}
	pagesDir := filepath.Join(s.uploadDir, f.Stem())
	n, err := s.ingestor.Ingest(ctx, pdfPath, pagesDir)
	if err != nil {
		removeFiles()
		log.Warn("ingestion failed", sl.Err(err))
		return model.Flipbook{}, err
	}

	f, err = s.store.Create(ctx, model.NewFlipbook{
		Title:           in.Title,
		Filename:        stored,
		UniqueID:        uuid.New().String(),
		BackgroundColor: in.BackgroundColor,
		PageCount:       n,
		UserID:          ownerID,
		LogoFilename:    logo,
		CustomCSS:       in.CustomCSS,
	})
	if err != nil {
		removeFiles()
		_ = os.RemoveAll(pagesDir)
		log.Error("failed to save flipbook", sl.Err(err))
		return model.Flipbook{}, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("flipbook created", slog.String("unique_id", f.UniqueID), slog.Int("pages", n))

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.PublishFlipbookCreated(pctx, queue.FlipbookCreatedEvent{
		FlipbookID: f.ID,
		UniqueID:   f.UniqueID,
		UserID:     f.UserID,
		PageCount:  f.PageCount,
		CreatedAt:  f.CreatedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		log.Warn("event not published", sl.Err(err))
	}
	return f, nil
}

func saveFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// List returns the owner's flipbooks, newest first, with view counts.
func (s *Flipbooks) List(ctx context.Context, ownerID uint64) ([]FlipbookSummary, error) {
	const op = "service.Flipbooks.List"

	books, err := s.store.ListByUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]FlipbookSummary, 0, len(books))
	for _, f := range books {
		n, err := s.views.CountByFlipbook(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, FlipbookSummary{Flipbook: f, ViewCount: n})
	}
	return out, nil
}

// GetPublic resolves a flipbook by its unguessable id with no ownership
// check.
func (s *Flipbooks) GetPublic(ctx context.Context, uniqueID string) (model.Flipbook, error) {
	f, err := s.store.GetByUniqueID(ctx, uniqueID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Flipbook{}, ErrNotFound
		}
		return model.Flipbook{}, fmt.Errorf("service.Flipbooks.GetPublic: %w", err)
	}
	return f, nil
}

// GetOwned is GetPublic restricted to the owner.
func (s *Flipbooks) GetOwned(ctx context.Context, ownerID uint64, uniqueID string) (model.Flipbook, error) {
	f, err := s.GetPublic(ctx, uniqueID)
	if err != nil {
		return model.Flipbook{}, err
	}
	if !f.OwnedBy(ownerID) {
		return model.Flipbook{}, ErrForbidden
	}
	return f, nil
}
