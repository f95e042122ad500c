// Package retention decides which remote archives fall outside the version cap.
package retention

import (
	"sort"
	"time"

	"github.com/Chapsvision-dev/spare/internal/archive"
	"github.com/Chapsvision-dev/spare/internal/provider"
)

// Archive is a remote file whose name parsed as an archive timestamp.
type Archive struct {
	File      provider.RemoteFile
	Timestamp time.Time
}

// Sort splits files into archives, newest first, and foreign entries
// (folders or names that do not parse). Ties are ordered by name then ID.
func Sort(files []provider.RemoteFile) (archives []Archive, foreign []provider.RemoteFile) {
	for _, f := range files {
		if f.IsFolder() {
			foreign = append(foreign, f)
			continue
		}
		ts, ok := archive.ParseName(f.Name)
		if !ok {
			foreign = append(foreign, f)
			continue
		}
		archives = append(archives, Archive{File: f, Timestamp: ts})
	}
	sort.SliceStable(archives, func(i, j int) bool {
		a, b := archives[i], archives[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.File.Name != b.File.Name {
			return a.File.Name > b.File.Name
		}
		return a.File.ID > b.File.ID
	})
	return archives, foreign
}

// SelectForDeletion keeps the keep most recent archives and returns the rest,
// newest victim first. Foreign entries are never selected and never count.
func SelectForDeletion(files []provider.RemoteFile, keep int) []provider.RemoteFile {
	if keep < 0 {
		keep = 0
	}
	archives, _ := Sort(files)
	if len(archives) <= keep {
		return nil
	}
	victims := make([]provider.RemoteFile, 0, len(archives)-keep)
	for _, a := range archives[keep:] {
		victims = append(victims, a.File)
	}
	return victims
}

// Latest returns the newest archive, if any.
func Latest(files []provider.RemoteFile) (Archive, bool) {
	archives, _ := Sort(files)
	if len(archives) == 0 {
		return Archive{}, false
	}
	return archives[0], true
}
