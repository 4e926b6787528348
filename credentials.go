package authc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodePolicyViolation).
	WithCode(errors.CodeBadRequest)

const (
	saltLength = 16

	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// HashPassword derives a salted password hash. The salt is random per call
// and returned separately so the pair can be stored in different places.
func HashPassword(password string) (salt, hash string, err error) {
	if password == "" {
		return "", "", ErrNoEmptyString
	}

	raw := make([]byte, saltLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", errors.Wrap(err, errors.CategoryInternal, "failed to generate salt")
	}

	salt = hex.EncodeToString(raw)
	hash, err = hashWithSalt(password, salt)
	return salt, hash, err
}

// VerifyPassword recomputes the hash for the presented password and compares
// in constant time. It reports false for any failure, never why.
func VerifyPassword(password, salt, hash string) bool {
	if password == "" || salt == "" || hash == "" {
		return false
	}

	computed, err := hashWithSalt(password, salt)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

func hashWithSalt(password, salt string) (string, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}
	return hex.EncodeToString(key), nil
}

// NewLocalID generates an opaque entity id.
func NewLocalID() string {
	return "0x" + strippedUUID()
}

// NewRefreshToken generates an opaque refresh token. It is equality-compared
// only and never decoded.
func NewRefreshToken() string {
	return "0x" + strippedUUID() + strippedUUID()
}

// NewSigningSecret generates a default tenant signing secret.
func NewSigningSecret() string {
	return strippedUUID() + strippedUUID()
}

func strippedUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
