package util

import "github.com/google/uuid"

// NilUserID is the sentinel recorded when no real user can be resolved.
const NilUserID = "00000000-0000-0000-0000-000000000000"

func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewUserID mints a bare UUID. User ids live in UUID columns and are
// referenced by owner_id/user_id foreign keys, so they carry no prefix.
func NewUserID() string {
	return uuid.NewString()
}

func IsNilUserID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed == uuid.Nil
}
