package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // "local", "dev" or "prod"; picks the log format
	Port string // HTTP port to listen on

	DatabaseURL string // full MySQL DSN; when set the DB_* fields are ignored
	DBUser      string
	DBPass      string // may be empty
	DBHost      string
	DBPort      string
	DBName      string

	SecretKey  string        // signs tokens and derives the field encryption keys
	AccessTTL  time.Duration // ACCESS_TOKEN_TTL_MIN
	RefreshTTL time.Duration // REFRESH_TOKEN_TTL_DAYS
	SessionTTL time.Duration // SESSION_TTL_HOURS
	BcryptCost int

	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	UploadDir          string
	PdftoppmPath       string
	RasterDPI          int
	MigrateOnStart     bool

	RabbitMQURL string // empty disables event publishing and the consumer
	EventLogDir string
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:  envStr("APP_ENV", "local"),
		Port: envStr("APP_PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPass:      os.Getenv("DB_PASS"),

		SecretKey:  must("SECRET_KEY"),
		AccessTTL:  time.Duration(envInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTTL: time.Duration(envInt("REFRESH_TOKEN_TTL_DAYS", 30)) * 24 * time.Hour,
		SessionTTL: time.Duration(envInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		BcryptCost: envInt("BCRYPT_COST", 10),

		CORSAllowedOrigins: splitList(envStr("CORS_ALLOWED_ORIGINS", "*")),
		MaxUploadBytes:     int64(envInt("MAX_UPLOAD_BYTES", 16<<20)),
		UploadDir:          envStr("UPLOAD_DIR", "static/uploads"),
		PdftoppmPath:       envStr("PDFTOPPM_PATH", "pdftoppm"),
		RasterDPI:          envInt("RASTER_DPI", 200),
		MigrateOnStart:     envBool("MIGRATE_ON_START", true),

		RabbitMQURL: firstNonEmpty(os.Getenv("RABBITMQ_URL"), os.Getenv("AMQP_URL")),
		EventLogDir: envStr("EVENT_LOG_DIR", "logs"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
