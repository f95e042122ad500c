// Package restore fetches archives back from a profile's destination.
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/spare/internal/archive"
	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/provider"
	"github.com/Chapsvision-dev/spare/internal/retention"
)

// Options controls the restore workflow.
type Options struct {
	// Archive is the exact remote archive name (e.g. "2024-03-02T10:15:30+00:00.zip").
	// If empty, the newest archive is used.
	Archive string
	// OutputDir is where the archive is downloaded. If empty, defaults to ".".
	OutputDir string
	// Extract unpacks the archive into a directory named after it.
	Extract bool
}

// Result describes what was restored.
type Result struct {
	Archive     provider.RemoteFile
	LocalPath   string
	ExtractedTo string
	Files       int
}

// Catalog is the content of a destination folder split for display.
type Catalog struct {
	Folder   provider.RemoteFile
	Archives []retention.Archive
	Foreign  []provider.RemoteFile
}

// Browse opens dest and lists the profile's destination folder, newest archive first.
func Browse(ctx context.Context, profile config.Profile, dest provider.Destination) (Catalog, error) {
	segments, err := config.SplitDestination(profile.Destination)
	if err != nil {
		return Catalog{}, fault.Validation("destination", err)
	}
	if err := dest.Open(ctx); err != nil {
		return Catalog{}, err
	}
	folder, err := dest.ResolveFolder(ctx, segments)
	if err != nil {
		return Catalog{}, err
	}
	if folder == nil {
		return Catalog{}, fault.Validationf("profile %q: destination %q resolves to no folder", profile.Name, profile.Destination)
	}
	children, err := dest.ListChildren(ctx, folder.ID)
	if err != nil {
		return Catalog{}, err
	}
	archives, foreign := retention.Sort(children)
	return Catalog{Folder: *folder, Archives: archives, Foreign: foreign}, nil
}

// Pick returns the named archive, or the newest one when name is empty.
func (c Catalog) Pick(name string) (provider.RemoteFile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if len(c.Archives) == 0 {
			return provider.RemoteFile{}, fault.Validationf("no archive found in %s", c.Folder.Name)
		}
		return c.Archives[0].File, nil
	}
	for _, a := range c.Archives {
		if a.File.Name == name {
			return a.File, nil
		}
	}
	return provider.RemoteFile{}, fault.Validationf("archive %q not found in %s", name, c.Folder.Name)
}

// Run downloads an archive of profile into opt.OutputDir and optionally extracts it.
func Run(ctx context.Context, profile config.Profile, dest provider.Destination, opt Options) (Result, error) {
	var res Result

	out := strings.TrimSpace(opt.OutputDir)
	if out == "" {
		out = "."
	}
	out = filepath.Clean(out)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return res, fault.LocalIO("create output dir", err)
	}

	cat, err := Browse(ctx, profile, dest)
	if err != nil {
		return res, fmt.Errorf("profile %q: %w", profile.Name, err)
	}
	file, err := cat.Pick(opt.Archive)
	if err != nil {
		return res, fmt.Errorf("profile %q: %w", profile.Name, err)
	}
	res.Archive = file

	// 1) Download from provider to local file
	local := filepath.Join(out, archive.LocalName(file.Name))
	dlStart := time.Now()
	log.Info().
		Str("action", "download").
		Str("provider", dest.Name()).
		Str("archive", file.Name).
		Str("local", local).
		Msg("starting download")
	if err := dest.DownloadFile(ctx, file.ID, local); err != nil {
		log.Error().
			Err(err).
			Str("action", "download").
			Str("archive", file.Name).
			Dur("elapsed_ms", time.Since(dlStart)).
			Msg("download failed")
		return res, fmt.Errorf("profile %q: download: %w", profile.Name, err)
	}
	res.LocalPath = local
	log.Info().
		Str("action", "download").
		Str("archive", file.Name).
		Str("local", local).
		Dur("elapsed_ms", time.Since(dlStart)).
		Msg("download OK")

	if !opt.Extract {
		return res, nil
	}

	// 2) Unpack next to the download
	dir := strings.TrimSuffix(local, archive.Extension)
	n, err := archive.Extract(ctx, local, dir)
	if err != nil {
		return res, fmt.Errorf("profile %q: extract: %w", profile.Name, err)
	}
	res.ExtractedTo = dir
	res.Files = n
	log.Info().
		Str("action", "extract").
		Str("archive", file.Name).
		Str("dir", dir).
		Int("files", n).
		Msg("extract OK")
	return res, nil
}
