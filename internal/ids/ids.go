package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultServerID is the well-known message server that always exists.
var DefaultServerID = uuid.Nil

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewSocketID returns a sortable identifier for a transport connection.
func NewSocketID() string {
	return ulid.Make().String()
}
