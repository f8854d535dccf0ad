package model

import (
	"crypto/subtle"
	"database/sql"
	"time"

	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// User is the decrypted, in-memory view of a `users` row.  It is produced
// only by the repository layer and never written back directly; use
// UserRecord for that.
//
// Fields:
//
//	ID                 – primary key identifier of the user.
//	Username           – unique, plaintext.
//	Email              – plaintext email, decrypted from users.email_encrypted.
//	PasswordHash       – bcrypt hashed password.
//	RefreshTokenHash   – SHA-256 of the active refresh token, nil when revoked.
//	RefreshTokenExpiry – expiry of the active refresh token, nil when revoked.
//	CreatedAt          – timestamp of creation.
type User struct {
	ID                 uint64
	Username           string
	Email              string
	PasswordHash       string
	RefreshTokenHash   *string
	RefreshTokenExpiry *time.Time
	CreatedAt          time.Time
}

// RefreshValid reports whether hash is the user's active refresh token at
// time now.  A present but expired token is invalid.
func (u User) RefreshValid(hash string, now time.Time) bool {
	if u.RefreshTokenHash == nil || u.RefreshTokenExpiry == nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(*u.RefreshTokenHash), []byte(hash)) != 1 {
		return false
	}
	return !now.After(*u.RefreshTokenExpiry)
}

// NewUser carries the plaintext values of a user being registered.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
}

// UserRecord mirrors the `users` table as stored.  Email exists only in
// encrypted form plus a keyed lookup digest.
type UserRecord struct {
	ID                 uint64           // users.id
	Username           string           // users.username
	EmailEncrypted     utils.Ciphertext // users.email_encrypted
	EmailHash          sql.NullString   // users.email_hash, NULL only for legacy rows whose digest collided
	PasswordHash       string           // users.password_hash
	RefreshToken       sql.NullString   // users.refresh_token (SHA-256 hex)
	RefreshTokenExpiry sql.NullTime     // users.refresh_token_expiry
	CreatedAt          time.Time        // users.created_at
}
