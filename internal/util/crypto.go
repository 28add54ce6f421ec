package util

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost for control passwords.
const PasswordCost = 12

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskCode hides the tail of a pairing code in logs.
func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:2] + "****"
}
