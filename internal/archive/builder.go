// Package archive stages backup sources and packs them into a timestamped zip.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/spare/internal/fault"
)

const stagingSubdir = "archive"

// Descriptor points at a finished archive inside the staging directory.
type Descriptor struct {
	Path      string
	Name      string
	Timestamp time.Time
	Size      int64
	Entries   int
	// Skipped lists sources that were not archived.
	Skipped []string
}

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Strict turns missing or unsupported sources into errors.
	Strict bool
}

// Build copies sources into stagingDir and compresses them into a single
// archive there. Regular files are copied by name, directories keep their
// top-level name, anything else is skipped. A source whose name is already
// staged is skipped too. The caller owns stagingDir.
func Build(ctx context.Context, stagingDir string, sources []string, opts Options) (Descriptor, error) {
	start := time.Now()
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	root := filepath.Join(stagingDir, stagingSubdir)
	if err := os.Mkdir(root, 0o755); err != nil {
		return Descriptor{}, fault.LocalIO("create staging tree", err)
	}

	var skipped []string
	skip := func(src, reason string) error {
		if opts.Strict {
			return fault.LocalIO("stage "+src, errors.New(reason))
		}
		log.Warn().Str("action", "archive_stage").Str("source", src).Str("reason", reason).Msg("source skipped")
		skipped = append(skipped, src)
		return nil
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Descriptor{}, err
		}
		fi, err := os.Lstat(src)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := skip(src, "does not exist"); err != nil {
				return Descriptor{}, err
			}
			continue
		case err != nil:
			return Descriptor{}, fault.LocalIO("stat "+src, err)
		}

		abs, err := filepath.Abs(src)
		if err != nil {
			return Descriptor{}, fault.LocalIO("resolve "+src, err)
		}
		if filepath.Dir(abs) == abs {
			if err := skip(src, "filesystem root is not a supported source"); err != nil {
				return Descriptor{}, err
			}
			continue
		}
		base := filepath.Base(abs)
		dst := filepath.Join(root, base)
		if _, err := os.Lstat(dst); err == nil {
			if err := skip(src, "duplicate name "+base); err != nil {
				return Descriptor{}, err
			}
			continue
		}
		switch {
		case fi.Mode().IsRegular():
			err = copyFile(src, dst, fi)
		case fi.IsDir():
			err = copyTree(ctx, src, dst)
		default:
			err = skip(src, "unsupported file type "+fi.Mode().Type().String())
		}
		if err != nil {
			if fault.KindOf(err) != 0 || ctx.Err() != nil {
				return Descriptor{}, err
			}
			return Descriptor{}, fault.LocalIO("stage "+src, err)
		}
	}

	ts := now().UTC().Truncate(time.Second)
	name := Name(ts)
	out := filepath.Join(stagingDir, LocalName(name))
	entries, err := writeZip(ctx, root, out)
	if err != nil {
		return Descriptor{}, fault.LocalIO("compress archive", err)
	}
	fi, err := os.Stat(out)
	if err != nil {
		return Descriptor{}, fault.LocalIO("stat archive", err)
	}

	log.Info().
		Str("action", "archive_build").
		Str("archive", name).
		Int("sources", len(sources)).
		Int("skipped", len(skipped)).
		Int("entries", entries).
		Str("size", humanize.Bytes(uint64(fi.Size()))).
		Dur("elapsed_ms", time.Since(start)).
		Msg("archive built")

	return Descriptor{
		Path:      out,
		Name:      name,
		Timestamp: ts,
		Size:      fi.Size(),
		Entries:   entries,
		Skipped:   skipped,
	}, nil
}

func copyFile(src, dst string, fi fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, fi.ModTime(), fi.ModTime())
}

// copyTree mirrors the directories and regular files under src into dst.
// Symlinks and special files inside the tree are left out.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			return copyFile(p, target, info)
		default:
			log.Debug().Str("action", "archive_stage").Str("path", p).Msg("non-regular entry skipped")
			return nil
		}
	})
}

// writeZip packs the contents of root (not root itself) into out and
// returns the number of file entries.
func writeZip(ctx context.Context, root, out string) (int, error) {
	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(f)

	files := 0
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
		if _, err := io.Copy(w, in); err != nil {
			return err
		}
		files++
		return nil
	})

	if err := zw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return 0, fmt.Errorf("write %s: %w", filepath.Base(out), walkErr)
	}
	return files, nil
}
