package auth

import (
	"strings"

	"github.com/google/uuid"
)

// NewUserUUID returns the external identifier for a new user.
func NewUserUUID() string {
	return uuid.NewString()
}

// NewAPIKey returns a fresh 32 character device API key.
func NewAPIKey() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
