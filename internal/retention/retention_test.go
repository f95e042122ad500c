package retention

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Chapsvision-dev/spare/internal/archive"
	"github.com/Chapsvision-dev/spare/internal/provider"
)

func file(id, name string) provider.RemoteFile {
	return provider.RemoteFile{ID: id, Name: name, MimeType: archive.MimeType}
}

func ids(files []provider.RemoteFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.ID)
	}
	return out
}

// 1) Three dated archives plus a new upload, cap 2: the two oldest go.
func TestSelectForDeletion_KeepsNewest(t *testing.T) {
	files := []provider.RemoteFile{
		file("d2", "2024-01-02T00:00:00+00:00.zip"),
		file("new", "2024-03-02T10:15:30+00:00.zip"),
		file("d1", "2024-01-01T00:00:00+00:00.zip"),
		file("d3", "2024-01-03T00:00:00+00:00.zip"),
	}
	got := SelectForDeletion(files, 2)
	if diff := cmp.Diff([]string{"d2", "d1"}, ids(got)); diff != "" {
		t.Fatalf("victims mismatch (-want +got):\n%s", diff)
	}
}

// 2) Foreign names and folders are never selected nor counted.
func TestSelectForDeletion_IgnoresForeign(t *testing.T) {
	files := []provider.RemoteFile{
		file("x", "README.txt"),
		file("y", "2024-01-01T00:00:00+00:00"), // no extension
		{ID: "f", Name: "2020-01-01T00:00:00+00:00.zip", MimeType: provider.FolderMimeType},
		file("a", "2024-01-01T00:00:00+00:00.zip"),
		file("b", "2024-01-02T00:00:00+00:00.zip"),
	}
	if got := SelectForDeletion(files, 2); len(got) != 0 {
		t.Fatalf("nothing should be deleted, got %v", ids(got))
	}
	if diff := cmp.Diff([]string{"a"}, ids(SelectForDeletion(files, 1))); diff != "" {
		t.Fatalf("victims mismatch (-want +got):\n%s", diff)
	}
}

// 3) For n archives and 1 < k < n exactly the n-k oldest are selected.
func TestSelectForDeletion_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for n := 3; n <= 12; n++ {
		files := make([]provider.RemoteFile, n)
		for i := 0; i < n; i++ {
			ts := base.Add(time.Duration(i) * time.Hour)
			files[i] = file(fmt.Sprintf("%02d", i), archive.Name(ts))
		}
		rng.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
		for k := 2; k < n; k++ {
			victims := SelectForDeletion(files, k)
			if len(victims) != n-k {
				t.Fatalf("n=%d k=%d: want %d victims, got %d", n, k, n-k, len(victims))
			}
			for _, v := range victims {
				var idx int
				_, _ = fmt.Sscanf(v.ID, "%d", &idx)
				if idx >= n-k {
					t.Fatalf("n=%d k=%d: newest archive %s selected", n, k, v.ID)
				}
			}
		}
	}
}

// 4) Offsets are compared as instants, not strings.
func TestSort_ComparesInstants(t *testing.T) {
	files := []provider.RemoteFile{
		file("utc", "2024-01-01T10:00:00+00:00.zip"),
		file("east", "2024-01-01T11:30:00+02:00.zip"), // 09:30 UTC
	}
	archives, _ := Sort(files)
	if archives[0].File.ID != "utc" {
		t.Fatalf("want utc first, got %s", archives[0].File.ID)
	}
	latest, ok := Latest(files)
	if !ok || latest.File.ID != "utc" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	if _, ok := Latest(nil); ok {
		t.Fatal("latest of nothing")
	}
}

func TestSelectForDeletion_NegativeKeep(t *testing.T) {
	files := []provider.RemoteFile{file("a", "2024-01-01T00:00:00+00:00.zip")}
	if got := SelectForDeletion(files, -3); len(got) != 1 {
		t.Fatalf("negative keep behaves as zero, got %v", ids(got))
	}
}
