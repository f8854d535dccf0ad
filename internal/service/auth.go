package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/repository"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

var (
	// ErrTokenExpired: the token was genuine but its window has passed.
	// Clients should try a refresh.
	ErrTokenExpired = utils.ErrTokenExpired
	// ErrTokenInvalid: malformed, forged, revoked or orphaned token.
	ErrTokenInvalid = utils.ErrTokenInvalid

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = repository.ErrEmailExists
	ErrUsernameExists     = repository.ErrUsernameExists
)

// AuthConfig holds token lifetimes and the signing secret.
type AuthConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration
	BcryptCost int
}

// Tokens is what a successful login, registration or refresh returns.
type Tokens struct {
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// Auth issues, validates, rotates and revokes tokens.
type Auth struct {
	log   *slog.Logger
	users UserStore
	cfg   AuthConfig
	now   func() time.Time
}

// NewAuth returns the auth service.  Zero TTLs in cfg get their defaults.
func NewAuth(log *slog.Logger, users UserStore, cfg AuthConfig) *Auth {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Auth{log: log, users: users, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (a *Auth) WithClock(now func() time.Time) *Auth {
	a.now = now
	return a
}

// CreateUser hashes the password and stores a new user.
func (a *Auth) CreateUser(ctx context.Context, username, email, password string) (model.User, error) {
	const op = "service.Auth.CreateUser"
	log := a.log.With(slog.String("op", op))

	if _, err := a.users.GetByEmail(ctx, email); err == nil {
		return model.User{}, ErrEmailExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := a.users.GetByUsername(ctx, username); err == nil {
		return model.User{}, ErrUsernameExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := utils.HashPassword(password, a.cfg.BcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	u, err := a.users.Create(ctx, model.NewUser{Username: username, Email: email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, ErrEmailExists) || errors.Is(err, ErrUsernameExists) {
			return model.User{}, err
		}
		log.Error("failed to save user", sl.Err(err))
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("user registered", slog.Uint64("uid", u.ID))
	return u, nil
}

// Register creates a user and issues its first token pair.
func (a *Auth) Register(ctx context.Context, username, email, password string) (model.User, Tokens, error) {
	u, err := a.CreateUser(ctx, username, email, password)
	if err != nil {
		return model.User{}, Tokens{}, err
	}
	t, err := a.Issue(ctx, u)
	if err != nil {
		return model.User{}, Tokens{}, err
	}
	return u, t, nil
}

// Authenticate checks email and password without issuing tokens.
func (a *Auth) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	const op = "service.Auth.Authenticate"

	u, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			utils.BurnPasswordCheck(password)
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		a.log.Info("invalid credentials", slog.String("op", op), slog.Uint64("uid", u.ID))
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Login authenticates and issues a fresh token pair.
func (a *Auth) Login(ctx context.Context, email, password string) (model.User, Tokens, error) {
	u, err := a.Authenticate(ctx, email, password)
	if err != nil {
		return model.User{}, Tokens{}, err
	}
	t, err := a.Issue(ctx, u)
	if err != nil {
		return model.User{}, Tokens{}, err
	}
	a.log.Info("user logged in", slog.Uint64("uid", u.ID))
	return u, t, nil
}

// Issue mints an access token and a refresh token for u.  The refresh token
// replaces any earlier one.
func (a *Auth) Issue(ctx context.Context, u model.User) (Tokens, error) {
	const op = "service.Auth.Issue"
	now := a.now()

	access, err := utils.NewAccessToken(a.cfg.Secret, u.ID, utils.TypeAccess, a.cfg.AccessTTL, now)
	if err != nil {
		return Tokens{}, fmt.Errorf("%s: access: %w", op, err)
	}
	refresh, err := utils.NewRefreshToken(a.cfg.RefreshTTL, now)
	if err != nil {
		return Tokens{}, fmt.Errorf("%s: refresh: %w", op, err)
	}
	if err := a.users.SetRefreshToken(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return Tokens{}, fmt.Errorf("%s: save refresh: %w", op, err)
	}
	return Tokens{Access: access, Refresh: refresh}, nil
}

// ValidateAccess resolves a bearer token to its user.
func (a *Auth) ValidateAccess(ctx context.Context, raw string) (model.User, error) {
	return a.validate(ctx, raw, utils.TypeAccess)
}

// IssueSession mints the browser session token kept in a cookie.
func (a *Auth) IssueSession(u model.User) (utils.AccessToken, error) {
	return utils.NewAccessToken(a.cfg.Secret, u.ID, utils.TypeSession, a.cfg.SessionTTL, a.now())
}

// ValidateSession resolves a session cookie to its user.
func (a *Auth) ValidateSession(ctx context.Context, raw string) (model.User, error) {
	return a.validate(ctx, raw, utils.TypeSession)
}

// SessionTTL is how long browser sessions last.
func (a *Auth) SessionTTL() time.Duration { return a.cfg.SessionTTL }

func (a *Auth) validate(ctx context.Context, raw, typ string) (model.User, error) {
	const op = "service.Auth.validate"

	uid, err := utils.ParseAccessToken(a.cfg.Secret, raw, typ, a.now())
	if err != nil {
		return model.User{}, err
	}
	u, err := a.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrTokenInvalid
		}
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// Refresh exchanges a refresh token for a new pair and rotates the stored
// token, so the presented one cannot be used again.
func (a *Auth) Refresh(ctx context.Context, raw string) (model.User, Tokens, error) {
	const op = "service.Auth.Refresh"
	log := a.log.With(slog.String("op", op))
	now := a.now()

	hash := utils.HashRefreshRaw(raw)
	u, err := a.users.GetByRefreshHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("refresh token not found")
			return model.User{}, Tokens{}, ErrTokenInvalid
		}
		return model.User{}, Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	if !u.RefreshValid(hash, now) {
		log.Warn("refresh token expired", slog.Uint64("uid", u.ID))
		return model.User{}, Tokens{}, ErrTokenInvalid
	}

	next, err := utils.NewRefreshToken(a.cfg.RefreshTTL, now)
	if err != nil {
		return model.User{}, Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := a.users.SwapRefreshToken(ctx, u.ID, hash, utils.HashRefreshRaw(next.Raw), next.Exp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("refresh token already rotated", slog.Uint64("uid", u.ID))
			return model.User{}, Tokens{}, ErrTokenInvalid
		}
		return model.User{}, Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	access, err := utils.NewAccessToken(a.cfg.Secret, u.ID, utils.TypeAccess, a.cfg.AccessTTL, now)
	if err != nil {
		return model.User{}, Tokens{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("refresh successful", slog.Uint64("uid", u.ID))
	return u, Tokens{Access: access, Refresh: next}, nil
}

// Revoke clears the user's refresh token.  Access tokens already handed out
// stay valid until they expire.
func (a *Auth) Revoke(ctx context.Context, userID uint64) error {
	if err := a.users.ClearRefreshToken(ctx, userID); err != nil {
		return fmt.Errorf("service.Auth.Revoke: %w", err)
	}
	a.log.Info("refresh token revoked", slog.Uint64("uid", userID))
	return nil
}
