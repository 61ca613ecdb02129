package object

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	UploadsPrefix = "uploads/"
	AvatarsPrefix = "avatars/"
)

// FileKey is the blob key for a file object. It is derived from the
// composite key so two objects can never share a blob.
func FileKey(ownerID, objectID string) string {
	return UploadsPrefix + ownerID + "/" + objectID
}

// ParseFileKey splits a FileKey back into owner and object ids.
func ParseFileKey(key string) (ownerID, objectID string, ok bool) {
	rest, found := strings.CutPrefix(key, UploadsPrefix)
	if !found {
		return "", "", false
	}
	ownerID, objectID, found = strings.Cut(rest, "/")
	if !found || ownerID == "" || objectID == "" || strings.Contains(objectID, "/") {
		return "", "", false
	}
	return ownerID, objectID, true
}

// AvatarKey is the blob key for an avatar uploaded at the given time.
func AvatarKey(ownerID string, at time.Time, fileName string) string {
	return fmt.Sprintf("%s%s-%d%s", AvatarsPrefix, ownerID, at.UnixMilli(), imageExt(fileName))
}

func imageExt(fileName string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
