package engine

import (
	"github.com/oklog/ulid/v2"
)

// NewID returns a sortable unique identifier. ULIDs keep recency ordering
// cheap for id-keyed listings.
func NewID() string {
	return ulid.Make().String()
}
