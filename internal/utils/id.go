package utils

import "github.com/google/uuid"

// NewID returns a random identifier for connections and instances.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first eight characters of a random identifier, enough
// for human-readable instance names in logs.
func ShortID() string {
	return uuid.NewString()[:8]
}
