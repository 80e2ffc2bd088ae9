package utils

import "github.com/google/uuid"

// IsValidUUID reports whether id parses as a UUID. Handlers reject malformed
// path parameters with it before touching the store.
func IsValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
