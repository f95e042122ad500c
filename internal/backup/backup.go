// Package backup runs one profile end to end: authenticate, resolve the
// destination folder, archive the sources, upload, and prune old versions.
package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/spare/internal/archive"
	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/provider"
	"github.com/Chapsvision-dev/spare/internal/retention"
)

// Options controls a run.
type Options struct {
	// Now stamps the archive name (default: time.Now).
	Now func() time.Time
	// TempDir is where the per-run staging directory is created (default: os.TempDir()).
	TempDir string
	// OnTransition observes every state change.
	OnTransition func(from, to State)
}

// Result summarizes a finished run.
type Result struct {
	Profile string
	State   State
	// Disabled is set when versions <= 0 turned the run into a no-op.
	Disabled bool
	Folder   *provider.RemoteFile
	Archive  *provider.RemoteFile
	Skipped  []string
	Deleted  []provider.RemoteFile
	// DeleteFailures counts victims that could not be removed.
	DeleteFailures int
}

type run struct {
	res  Result
	opts Options
}

func (r *run) enter(to State) {
	from := r.res.State
	r.res.State = to
	log.Debug().Str("action", "backup_state").Str("profile", r.res.Profile).
		Str("from", from.String()).Str("to", to.String()).Msg("transition")
	if r.opts.OnTransition != nil {
		r.opts.OnTransition(from, to)
	}
}

func (r *run) fail(err error) (Result, error) {
	step := r.res.State
	r.enter(Failed)
	log.Error().Err(err).Str("action", "backup").Str("profile", r.res.Profile).
		Str("step", step.String()).Msg("backup failed")
	return r.res, fmt.Errorf("profile %q: %w", r.res.Profile, err)
}

// Run executes one backup of profile into dest.
func Run(ctx context.Context, profile config.Profile, dest provider.Destination, opts Options) (Result, error) {
	r := &run{res: Result{Profile: profile.Name, State: Idle}, opts: opts}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if profile.Versions <= 0 {
		r.res.Disabled = true
		r.enter(Done)
		log.Info().Str("action", "backup").Str("profile", profile.Name).Int("versions", profile.Versions).
			Msg("backup disabled for profile, nothing to do")
		return r.res, nil
	}
	segments, err := config.SplitDestination(profile.Destination)
	if err != nil {
		return r.res, fmt.Errorf("profile %q: %w", profile.Name, fault.Validation("destination", err))
	}

	start := time.Now()
	log.Info().Str("action", "backup").Str("profile", profile.Name).Str("provider", dest.Name()).
		Str("destination", provider.JoinSegments(segments)).Int("versions", profile.Versions).Msg("starting backup")

	r.enter(Authenticating)
	if err := dest.Open(ctx); err != nil {
		return r.fail(err)
	}

	r.enter(ResolvingDestination)
	folder, err := dest.ResolveFolder(ctx, segments)
	if err != nil {
		return r.fail(err)
	}
	if folder == nil {
		r.enter(Abandoned)
		log.Warn().Str("action", "backup").Str("profile", profile.Name).
			Str("destination", profile.Destination).Msg("no destination folder resolved, run abandoned")
		return r.res, nil
	}
	r.res.Folder = folder

	r.enter(Archiving)
	staging, err := os.MkdirTemp(opts.TempDir, "spare-")
	if err != nil {
		return r.fail(fault.LocalIO("create staging dir", err))
	}
	defer func() {
		if rerr := os.RemoveAll(staging); rerr != nil {
			log.Warn().Err(rerr).Str("dir", staging).Msg("failed to remove staging dir")
		}
	}()
	desc, err := archive.Build(ctx, staging, profile.Sources, archive.Options{
		Now:    now,
		Strict: profile.StrictSources,
	})
	if err != nil {
		return r.fail(err)
	}
	r.res.Skipped = desc.Skipped

	r.enter(Uploading)
	uploaded, err := dest.UploadFile(ctx, desc.Path, desc.Name, archive.MimeType, folder.ID)
	if err != nil {
		return r.fail(err)
	}
	r.res.Archive = uploaded

	if profile.Versions > 1 {
		r.enter(Listing)
		children, err := dest.ListChildren(ctx, folder.ID)
		if err != nil {
			return r.fail(err)
		}

		r.enter(Pruning)
		r.prune(ctx, dest, retention.SelectForDeletion(children, profile.Versions))
	}

	r.enter(Done)
	log.Info().Str("action", "backup").Str("profile", profile.Name).Str("archive", desc.Name).
		Str("size", humanize.IBytes(uint64(desc.Size))).Int("deleted", len(r.res.Deleted)).
		Int("delete_failures", r.res.DeleteFailures).Dur("elapsed_ms", time.Since(start)).Msg("backup OK")
	return r.res, nil
}

// prune deletes each victim independently; failures are logged and counted.
func (r *run) prune(ctx context.Context, dest provider.Destination, victims []provider.RemoteFile) {
	for _, v := range victims {
		if err := dest.DeleteFile(ctx, v.ID); err != nil {
			r.res.DeleteFailures++
			log.Warn().Err(err).Str("action", "prune").Str("profile", r.res.Profile).
				Str("name", v.Name).Str("id", v.ID).Msg("failed to delete old archive")
			continue
		}
		r.res.Deleted = append(r.res.Deleted, v)
		log.Info().Str("action", "prune").Str("profile", r.res.Profile).
			Str("name", v.Name).Msg("old archive deleted")
	}
}
