package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashServiceInterface covers both password and withdrawal-PIN hashing.
type HashServiceInterface interface {
	Hash(secret string) (string, error)
	Compare(hashed, secret string) bool
}

type HashService struct{}

func (b *HashService) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b *HashService) Compare(hashed, secret string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret))
	return err == nil
}
