package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/Chapsvision-dev/spare/internal/fault"
)

// Extract unpacks an archive into destDir and returns the number of files
// written. Entries that would land outside destDir are rejected.
func Extract(ctx context.Context, archivePath, destDir string) (int, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fault.LocalIO("open archive", err)
	}
	defer func() { _ = zr.Close() }()

	base, err := filepath.Abs(destDir)
	if err != nil {
		return 0, fault.LocalIO("resolve destination", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return 0, fault.LocalIO("create destination", err)
	}

	files := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		target := filepath.Join(base, filepath.FromSlash(f.Name))
		if rel, err := filepath.Rel(base, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return files, fault.LocalIO("extract", fmt.Errorf("entry %q escapes destination", f.Name))
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fault.LocalIO("extract "+f.Name, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return files, fault.LocalIO("extract "+f.Name, err)
		}
		files++
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
