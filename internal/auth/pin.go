package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPIN = errors.New("PIN must be exactly 4 digits")
	ErrNoPIN      = errors.New("no PIN set")
	ErrWrongPIN   = errors.New("incorrect PIN")
)

// HashPIN validates and hashes a 4-digit PIN.
func HashPIN(pin string) (string, error) {
	if !ValidPIN(pin) {
		return "", ErrInvalidPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPIN compares pin against a stored hash. An empty hash means the user
// never set a PIN.
func VerifyPIN(hash, pin string) error {
	if hash == "" {
		return ErrNoPIN
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrWrongPIN
	}
	return nil
}

func ValidPIN(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
