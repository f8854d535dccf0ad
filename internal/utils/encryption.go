package utils // package utils provides helper functions for tokens, hashing and field encryption

import (
	"crypto/hmac"     // keyed hash for the lookup index
	"crypto/rand"     // nonce generation
	"crypto/sha256"   // PBKDF2 and HMAC digest
	"encoding/base64" // text-safe ciphertext encoding
	"encoding/hex"    // blind index encoding
	"errors"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305" // authenticated encryption
	"golang.org/x/crypto/pbkdf2"           // password-based key derivation
)

const (
	encryptionSalt = "pdf_flipbook_salt"
	lookupSalt     = "pdf_flipbook_lookup_salt"
	kdfIterations  = 100000
	keyLen         = chacha20poly1305.KeySize

	// tokenVersion prefixes every ciphertext so the format can change later.
	tokenVersion byte = 0x01
)

// ErrDecryption is returned when a ciphertext is malformed or fails
// authentication (wrong key or tampered data).
var ErrDecryption = errors.New("decryption failed")

// Ciphertext is an encrypted field value as stored in the database.  It is a
// distinct type so that a plaintext string cannot be persisted into an
// encrypted column without going through Encryptor.Encrypt.
type Ciphertext string

// Encryptor encrypts and decrypts individual string fields.  It is built once
// at startup and is safe for concurrent use.
type Encryptor struct {
	key       [keyLen]byte
	lookupKey [keyLen]byte
}

// DeriveKey stretches secret into a 256-bit key with PBKDF2-HMAC-SHA256 and a
// fixed salt, so the key is stable across restarts for the same secret.
func DeriveKey(secret string) [keyLen]byte {
	return deriveWithSalt(secret, encryptionSalt)
}

func deriveWithSalt(secret, salt string) [keyLen]byte {
	var out [keyLen]byte
	copy(out[:], pbkdf2.Key([]byte(secret), []byte(salt), kdfIterations, keyLen, sha256.New))
	return out
}

// NewEncryptor derives the encryption and lookup keys from secret.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}
	return &Encryptor{
		key:       DeriveKey(secret),
		lookupKey: deriveWithSalt(secret, lookupSalt),
	}, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a random nonce and
// returns version||nonce||sealed as unpadded base64url.
func (e *Encryptor) Encrypt(plaintext string) (Ciphertext, error) {
	aead, err := chacha20poly1305.NewX(e.key[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, tokenVersion)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), []byte{tokenVersion})
	return Ciphertext(base64.RawURLEncoding.EncodeToString(out)), nil
}

// Decrypt opens a value produced by Encrypt.  Any failure is reported as
// ErrDecryption; a wrong plaintext is never returned.
func (e *Encryptor) Decrypt(c Ciphertext) (string, error) {
	raw, err := base64.RawURLEncoding.Strict().DecodeString(string(c))
	if err != nil {
		return "", ErrDecryption
	}
	aead, err := chacha20poly1305.NewX(e.key[:])
	if err != nil {
		return "", err
	}
	if len(raw) < 1+aead.NonceSize()+aead.Overhead() || raw[0] != tokenVersion {
		return "", ErrDecryption
	}
	nonce := raw[1 : 1+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, raw[1+aead.NonceSize():], []byte{raw[0]})
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// EncryptNullable is Encrypt for nullable columns: nil stays nil.
func (e *Encryptor) EncryptNullable(plaintext *string) (*Ciphertext, error) {
	if plaintext == nil {
		return nil, nil
	}
	c, err := e.Encrypt(*plaintext)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DecryptNullable is Decrypt for nullable columns: nil stays nil.
func (e *Encryptor) DecryptNullable(c *Ciphertext) (*string, error) {
	if c == nil {
		return nil, nil
	}
	s, err := e.Decrypt(*c)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// BlindIndex returns a keyed, deterministic digest of value.  Encrypted
// columns cannot be searched, so lookups and unique constraints use this.
func (e *Encryptor) BlindIndex(value string) string {
	mac := hmac.New(sha256.New, e.lookupKey[:])
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// String keeps key material out of fmt output.
func (e *Encryptor) String() string { return "Encryptor{redacted}" }

// LogValue keeps key material out of slog output.
func (e *Encryptor) LogValue() slog.Value { return slog.StringValue("redacted") }
