package services

import (
	"fmt"
	"unicode"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes
	maxPasswordLength = 64
)

// ValidatePassword enforces the password policy: 8 to 64 bytes with at least
// one upper-case letter, one digit and one character that is neither a
// letter nor a digit.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d bytes long", common.ErrorValidation, minPasswordLength, maxPasswordLength)
	}

	var upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	if !upper || !digit || !special {
		return fmt.Errorf("%w: password needs an upper-case letter, a digit and a special character", common.ErrorValidation)
	}
	return nil
}
