package helper

import (
	"crypto/rand"

	"github.com/oklog/ulid"
)

// GenerateRequestID returns a lexicographically sortable id for one
// HTTP request.
func GenerateRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
