package domain

import "github.com/oklog/ulid/v2"

// NewID returns a time-ordered unique identifier with the given prefix.
func NewID(prefix string) string {
	id := ulid.Make().String()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
