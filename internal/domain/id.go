package domain

import "github.com/oklog/ulid/v2"

// NewID returns a new lexicographically sortable identifier. IDs minted in
// the same millisecond by one process are strictly increasing.
func NewID() string {
	return ulid.Make().String()
}
