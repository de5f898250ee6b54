package clipvault

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectKeyFunc builds the storage key for a new upload. Keys must be
// collision-free and namespaced by owner so the coordinator's authorization
// check maps directly onto key prefixes.
type ObjectKeyFunc func(ownerID uuid.UUID, fileName string, now time.Time) string

// DefaultObjectKey namespaces keys by owner and timestamp:
// videos/{owner}/{unixnano}-{uuid}/{filename}. The embedded uuid keeps two
// uploads of the same file in the same nanosecond apart.
func DefaultObjectKey(ownerID uuid.UUID, fileName string, now time.Time) string {
	return fmt.Sprintf("videos/%s/%d-%s/%s",
		ownerID, now.UnixNano(), uuid.NewString(), SanitizeFilename(fileName))
}

// ThumbnailKey is the deterministic key for one extracted frame. Redelivered
// jobs overwrite the same key instead of accumulating objects.
func ThumbnailKey(videoID uuid.UUID, positionIndex int) string {
	return fmt.Sprintf("thumbnails/%s/thumb-%d.jpg", videoID, positionIndex)
}

// SanitizeFilename removes path separators and other characters that are
// problematic in object keys.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		" ", "_",
		"#", "_",
		"?", "_",
		"&", "_",
	)
	sanitized := replacer.Replace(filename)
	if sanitized == "" {
		sanitized = "unnamed"
	}
	return sanitized
}
