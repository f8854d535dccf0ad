package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

const userColumns = "id,username,email_encrypted,email_hash,password_hash,refresh_token,refresh_token_expiry,created_at"

// UserRepo reads and writes the `users` table.
type UserRepo struct {
	DB  *sql.DB
	Enc *utils.Encryptor
}

func NewUserRepo(db *sql.DB, enc *utils.Encryptor) *UserRepo { return &UserRepo{DB: db, Enc: enc} }

// NormalizeEmail is applied before hashing or encrypting an email.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create encrypts the email, inserts the user and returns it.
func (r *UserRepo) Create(ctx context.Context, u model.NewUser) (model.User, error) {
	email := NormalizeEmail(u.Email)
	enc, err := r.Enc.Encrypt(email)
	if err != nil {
		return model.User{}, err
	}
	now := time.Now().UTC().Truncate(time.Second)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email_encrypted, email_hash, password_hash, created_at) VALUES (?,?,?,?,?)",
		u.Username, enc, r.Enc.BlindIndex(email), u.PasswordHash, now)
	if err != nil {
		if key, ok := duplicateKey(err); ok {
			if strings.Contains(key, "username") {
				return model.User{}, ErrUsernameExists
			}
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	return model.User{
		ID:           uint64(id),
		Username:     u.Username,
		Email:        email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    now,
	}, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

// GetByEmail fetches a user by the lookup digest of the normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email_hash=? LIMIT 1",
		r.Enc.BlindIndex(NormalizeEmail(email)))
}

// GetByUsername fetches a user by exact username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", username)
}

// GetByRefreshHash fetches the user whose stored refresh token hash matches.
func (r *UserRepo) GetByRefreshHash(ctx context.Context, hash string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE refresh_token=? LIMIT 1", hash)
}

// SetRefreshToken overwrites the user's refresh token, implicitly
// invalidating the previous one.
func (r *UserRepo) SetRefreshToken(ctx context.Context, userID uint64, hash string, exp time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=?, refresh_token_expiry=? WHERE id=?",
		hash, exp.UTC(), userID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SwapRefreshToken replaces oldHash with newHash only if oldHash is still the
// stored token.  A concurrent refresh that already rotated the token makes
// this return sql.ErrNoRows.
func (r *UserRepo) SwapRefreshToken(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=?, refresh_token_expiry=? WHERE id=? AND refresh_token=?",
		newHash, exp.UTC(), userID, oldHash)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ClearRefreshToken revokes the user's refresh token.
func (r *UserRepo) ClearRefreshToken(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=NULL, refresh_token_expiry=NULL WHERE id=?", userID)
	return err
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (model.User, error) {
	var rec model.UserRecord
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &rec.Username, &rec.EmailEncrypted, &rec.EmailHash, &rec.PasswordHash,
		&rec.RefreshToken, &rec.RefreshTokenExpiry, &rec.CreatedAt)
	if err != nil {
		return model.User{}, err
	}
	return r.decode(rec)
}

// decode turns a stored row into its plaintext view.
func (r *UserRepo) decode(rec model.UserRecord) (model.User, error) {
	email, err := r.Enc.Decrypt(rec.EmailEncrypted)
	if err != nil {
		return model.User{}, decryptErr("users.email_encrypted", err)
	}
	u := model.User{
		ID:           rec.ID,
		Username:     rec.Username,
		Email:        email,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt,
	}
	if rec.RefreshToken.Valid {
		h := rec.RefreshToken.String
		u.RefreshTokenHash = &h
	}
	if rec.RefreshTokenExpiry.Valid {
		exp := rec.RefreshTokenExpiry.Time
		u.RefreshTokenExpiry = &exp
	}
	return u, nil
}

// expectOneRow maps "no row matched" to sql.ErrNoRows.  The DSN sets
// clientFoundRows so matched-but-unchanged rows still count.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
