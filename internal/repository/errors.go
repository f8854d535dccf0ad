// Package repository holds the MySQL data access layer.  It is the only
// place where plaintext values are converted to and from their encrypted
// column representation.
//
// Lookups that find nothing return sql.ErrNoRows unwrapped so callers can
// test for it with errors.Is.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// ErrEmailExists is returned when the email's lookup digest is already taken.
var ErrEmailExists = errors.New("email already exists")

// ErrUsernameExists is returned when the username is already taken.
var ErrUsernameExists = errors.New("username already exists")

// ErrCorruptRecord wraps utils.ErrDecryption when a stored field cannot be
// decrypted.  Handlers translate it into a 500 without exposing details.
var ErrCorruptRecord = fmt.Errorf("stored data could not be decrypted: %w", utils.ErrDecryption)

const mysqlDuplicateEntry = 1062

// duplicateKey reports whether err is a MySQL duplicate entry error and, if
// so, the text of the violated key.
func duplicateKey(err error) (string, bool) {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return strings.ToLower(me.Message), true
	}
	return "", false
}

func decryptErr(field string, err error) error {
	if errors.Is(err, utils.ErrDecryption) {
		return fmt.Errorf("%s: %w", field, ErrCorruptRecord)
	}
	return fmt.Errorf("%s: %w", field, err)
}
