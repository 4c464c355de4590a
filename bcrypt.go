package identity

import (
	"errors"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when Config leaves it zero.
const DefaultBcryptCost = 14

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = goerrors.New("password cannot be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest)

// HashPassword will generate a password hash
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	if cost == 0 {
		cost = DefaultBcryptCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

// RandomPasswordHash is a throwaway hash for accounts with no usable password
func RandomPasswordHash(cost int) string {
	pwd := uuid.New()

	h, err := HashPassword(pwd.String(), cost)
	if err != nil {
		return RandomPasswordHash(cost)
	}

	return h
}

var (
	fallbackHashOnce sync.Once
	fallbackHash     string
)

// fallbackPasswordHash returns a hash that exists only to be compared against
// when the identifier is unknown, so the unknown-email path costs the same as
// a wrong password. The compare always fails.
func fallbackPasswordHash(cost int) string {
	fallbackHashOnce.Do(func() {
		fallbackHash = RandomPasswordHash(cost)
	})
	return fallbackHash
}
