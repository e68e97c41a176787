package types

import (
	"path"
	"time"
)

// ObjectPrefix is the top-level path of uploaded recordings.
const ObjectPrefix = "recordings"

// DeriveDay returns the UTC partition day (YYYY-MM-DD) for t.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ObjectPath is the storage path of an uploaded recording:
// recordings/device=<id>/day=<yyyy-mm-dd>/<resource>.
func ObjectPath(deviceID string, t time.Time, resource string) string {
	return path.Join(ObjectPrefix, "device="+deviceID, "day="+DeriveDay(t), resource)
}
