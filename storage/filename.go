package storage

import (
	"fmt"
	"time"

	"github.com/flytam/filenamify"
	"github.com/google/uuid"
)

// Filename produces a collision-resistant file name for a downloaded media
// item: sanitized username, nanosecond timestamp, and a random fragment. No
// two concurrent calls return the same name.
func Filename(username string, t MediaType, now time.Time) string {
	name, err := filenamify.Filenamify(username, filenamify.Options{Replacement: "_"})
	if err != nil || name == "" {
		name = "unknown"
	}

	frag := uuid.NewString()[:8]
	return fmt.Sprintf("%s_%d_%s%s", name, now.UnixNano(), frag, t.Ext())
}
