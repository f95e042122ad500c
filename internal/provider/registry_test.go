package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/Chapsvision-dev/spare/internal/config"
)

type nopDestination struct{ name string }

func (d nopDestination) Name() string                           { return d.name }
func (nopDestination) Open(context.Context) error               { return nil }
func (nopDestination) DeleteFile(context.Context, string) error { return nil }
func (nopDestination) DownloadFile(context.Context, string, string) error {
	return nil
}
func (nopDestination) ResolveFolder(context.Context, []string) (*RemoteFile, error) {
	return nil, nil
}
func (nopDestination) ListChildren(context.Context, string) ([]RemoteFile, error) {
	return nil, nil
}
func (nopDestination) UploadFile(context.Context, string, string, string, string) (*RemoteFile, error) {
	return nil, nil
}

func TestRegistry_NewByName(t *testing.T) {
	Register("test-nop", func(cfg config.Config) (Destination, error) {
		return nopDestination{name: "test-nop:" + cfg.Profile.Name}, nil
	})

	d, err := New("test-nop", config.Config{Profile: config.Profile{Name: "p"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name() != "test-nop:p" {
		t.Fatalf("factory not used, got %q", d.Name())
	}

	_, err = New("missing", config.Config{})
	if err == nil || !strings.Contains(err.Error(), "test-nop") {
		t.Fatalf("want not-found error listing providers, got %v", err)
	}
}

func TestRemoteFile_IsFolder(t *testing.T) {
	if !(RemoteFile{MimeType: FolderMimeType}).IsFolder() {
		t.Fatal("folder mime not detected")
	}
	if (RemoteFile{MimeType: "application/zip"}).IsFolder() {
		t.Fatal("zip reported as folder")
	}
	if got := JoinSegments([]string{"backups", "laptop"}); got != "/backups/laptop" {
		t.Fatalf("unexpected join %q", got)
	}
}
