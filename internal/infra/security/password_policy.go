package security

import (
	"fmt"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	minPasswordLength = 8
	// minPasswordScore is the zxcvbn score floor (0..4) for admin passwords.
	minPasswordScore = 2
)

// ValidateAdminPassword applies the password policy for workspace
// administrator accounts.
func ValidateAdminPassword(password string, userInputs ...string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", minPasswordLength)
	}

	strength := zxcvbn.PasswordStrength(password, userInputs)
	if strength.Score < minPasswordScore {
		return fmt.Errorf("password is too weak")
	}

	return nil
}
