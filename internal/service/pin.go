package service

import (
	"golang.org/x/crypto/bcrypt"

	"billpay-wallet/internal/errors"
)

const pinLength = 4

func validatePIN(pin string) error {
	if len(pin) != pinLength {
		return errors.NewAppErrorf(errors.InvalidInput, "pin must be %d digits", pinLength)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return errors.NewAppErrorf(errors.InvalidInput, "pin must be %d digits", pinLength)
		}
	}
	return nil
}

func hashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.NewAppError(errors.InternalError, "failed to hash pin").WithDetails(err.Error())
	}
	return string(hash), nil
}

func pinMatches(hash, pin string) bool {
	if hash == "" || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
