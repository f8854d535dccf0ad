// Package app assembles the services from configuration.  Open connects to
// the real backends; New takes ready-made stores so tests can run in memory.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/pdf-flipbook/internal/config"
	"github.com/iliyamo/pdf-flipbook/internal/database"
	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/repository"
	"github.com/iliyamo/pdf-flipbook/internal/service"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// App is the wired application.  DB and Redis are nil when absent.
type App struct {
	Cfg       config.Config
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Log       *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Auth      *service.Auth
	Flipbooks *service.Flipbooks
	Analytics *service.Analytics
	Events    service.EventPublisher
}

// Stores are the persistence backends the services run on.
type Stores struct {
	Users     service.UserStore
	Flipbooks service.FlipbookStore
	Views     service.PageViewStore
}

// New builds the services over the given stores.  A nil rasterizer means
// pdftoppm, a nil events publisher drops events and a nil rdb disables
// rate limiting and caching.
func New(cfg config.Config, log *slog.Logger, stores Stores, rasterizer service.Rasterizer,
	events service.EventPublisher, rdb *redis.Client) *App {
	if rasterizer == nil {
		rasterizer = &service.PdftoppmRasterizer{Binary: cfg.PdftoppmPath, DPI: cfg.RasterDPI}
	}
	if events == nil {
		events = service.NopPublisher{}
	}
	auth := service.NewAuth(log, stores.Users, service.AuthConfig{
		Secret:     cfg.SecretKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		SessionTTL: cfg.SessionTTL,
		BcryptCost: cfg.BcryptCost,
	})
	flipbooks := service.NewFlipbooks(log, stores.Flipbooks, stores.Views,
		service.NewIngestor(rasterizer), cfg.UploadDir, events)

	return &App{
		Cfg:       cfg,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Log:       log,
		Redis:     rdb,
		Auth:      auth,
		Flipbooks: flipbooks,
		Analytics: service.NewAnalytics(log, stores.Views, stores.Flipbooks),
		Events:    events,
	}
}

// Open connects to MySQL, optionally migrates it, and connects to Redis and
// RabbitMQ when they are configured.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	const op = "app.Open"
	log = log.With(slog.String("op", op))

	var (
		db  *sql.DB
		err error
	)
	if cfg.DatabaseURL != "" {
		db, err = database.OpenDSN(cfg.DatabaseURL)
	} else {
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	enc, err := utils.NewEncryptor(cfg.SecretKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.MigrateOnStart {
		if err := database.NewMigrator(db, enc, cfg.UploadDir, log).Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: migrate: %w", op, err)
		}
		log.Info("schema up to date")
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable; rate limiting and caching disabled")
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		events = service.NewAMQPPublisher(cfg.RabbitMQURL, log)
	}

	a := New(cfg, log, Stores{
		Users:     repository.NewUserRepo(db, enc),
		Flipbooks: repository.NewFlipbookRepo(db, enc),
		Views:     repository.NewPageViewRepo(db, enc),
	}, nil, events, rdb)
	a.DB = db
	return a, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("redis close", sl.Err(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn("db close", sl.Err(err))
		}
	}
}
