package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewSession returns a session identifier. Sessions carry a "ses_" prefix so
// they never collide with registry or audit ids in logs and dumps.
func NewSession() string {
	return "ses_" + New()
}

// IsSession reports whether id has the session identifier shape.
func IsSession(id string) bool {
	return strings.HasPrefix(id, "ses_") && len(id) == len("ses_")+ulid.EncodedSize
}
