// Package ids mints sortable identifiers for connections and requests.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a 26 char ULID stamped with now (current UTC time when zero).
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot handle a failing entropy source.
func MustULID() string {
	id, err := NewULID(time.Time{})
	if err != nil {
		panic(err)
	}
	return id
}
