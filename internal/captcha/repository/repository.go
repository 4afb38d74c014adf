// Package repository persists captcha challenges.
//
// Every adapter stores identifiers lowercased and lowercases the identifier
// it is asked about, so lookups are case-insensitive. Deletes are idempotent.
package repository

import (
	"errors"
	"fmt"
	"strings"
)

// IDLength is the length of a stored challenge identifier.
const IDLength = 32

// Sentinel errors shared by all adapters.
var (
	ErrChallengeNotFound = errors.New("captcha challenge not found")
	ErrDuplicateID       = errors.New("captcha challenge id already exists")
	ErrInvalidID         = errors.New("captcha challenge id must be 32 characters")
	ErrInvalidTableName  = errors.New("invalid captcha table name")
)

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func checkInsertID(id string) (string, error) {
	id = normalizeID(id)
	if len(id) != IDLength {
		return "", fmt.Errorf("%w: got %d", ErrInvalidID, len(id))
	}
	return id, nil
}
