// Package ids mints the identifiers carried by requests, control messages
// and trace scopes.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type generator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy io.Reader
}

func newGenerator(now func() time.Time, source io.Reader) *generator {
	return &generator{now: now, entropy: ulid.Monotonic(source, 0)}
}

// next is strictly increasing within one millisecond as well.
func (g *generator) next() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

var defaultGenerator = newGenerator(time.Now, rand.Reader)

// NewID returns a 26-character ULID. Ids minted by one process sort by
// creation time, so access logs and control messages sort by arrival.
func NewID() string {
	return defaultGenerator.next().String()
}

// MintedAt reports the millisecond an id from NewID was created.
func MintedAt(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
