package keys

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// NewKeyID returns an id of the form rsa-YYYY-MM-DD-<uuid4>.
func NewKeyID(now time.Time) string {
	return "rsa-" + now.UTC().Format(time.DateOnly) + "-" + uuid.NewString()
}

var keyIDPattern = regexp.MustCompile(`^rsa-\d{4}-\d{2}-\d{2}-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidKeyID reports whether kid has the shape produced by NewKeyID. Ids
// that fail this check are never looked up in storage.
func ValidKeyID(kid string) bool {
	return keyIDPattern.MatchString(kid)
}
