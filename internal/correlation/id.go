package correlation

import "github.com/google/uuid"

// NewID returns a fresh request ID (random UUIDv4).
func NewID() string {
	return uuid.NewString()
}
