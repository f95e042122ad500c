package archive

import (
	"runtime"
	"strings"
	"time"
)

const (
	Extension = ".zip"
	MimeType  = "application/zip"

	// nameLayout is ISO-8601 with second precision and a numeric UTC offset,
	// e.g. 2024-03-02T10:15:30+00:00. Changing it breaks retention ordering
	// of archives that are already uploaded.
	nameLayout = "2006-01-02T15:04:05-07:00"
)

// Name returns the canonical remote archive name for t.
func Name(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(nameLayout) + Extension
}

// ParseName extracts the timestamp from an archive name. Names without the
// archive extension or with an unparseable stem are reported as !ok.
func ParseName(name string) (time.Time, bool) {
	stem, ok := strings.CutSuffix(name, Extension)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, stem)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LocalName makes a canonical name safe for the local filesystem.
func LocalName(name string) string {
	if runtime.GOOS == "windows" {
		return strings.ReplaceAll(name, ":", "-")
	}
	return name
}
