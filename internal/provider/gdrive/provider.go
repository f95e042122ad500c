// Package gdrive implements provider.Destination on Google Drive.
package gdrive

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/Chapsvision-dev/spare/internal/auth"
	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/provider"
	"github.com/Chapsvision-dev/spare/internal/retry"
	"github.com/Chapsvision-dev/spare/internal/util"
	"github.com/Chapsvision-dev/spare/internal/version"
)

type Provider struct {
	cfg   config.Config
	files filesAPI
	ro    retry.Options
}

func init() {
	provider.Register(config.ProviderGoogleDrive, func(cfg config.Config) (provider.Destination, error) {
		return New(cfg), nil
	})
}

func New(cfg config.Config) *Provider {
	return &Provider{cfg: cfg, ro: cfg.RetryOptions()}
}

func (p *Provider) Name() string { return config.ProviderGoogleDrive }

// Open acquires the OAuth session and binds the Drive service to it.
func (p *Provider) Open(ctx context.Context) error {
	if p.files != nil {
		return nil
	}
	mgr := auth.NewFromConfig(p.cfg, drive.DriveFileScope)
	sess, err := mgr.Acquire(ctx, p.cfg.Profile.CredentialsPath)
	if err != nil {
		return err
	}
	svc, err := drive.NewService(ctx,
		option.WithHTTPClient(sess.Client(ctx)),
		option.WithUserAgent(version.UserAgent()),
	)
	if err != nil {
		return fault.Authentication("drive service", err)
	}
	p.files = driveFiles{svc: svc}
	return nil
}

// call runs fn under the retry policy and logs each failed attempt.
func (p *Provider) call(ctx context.Context, action string, fn func(ctx context.Context) error) (int, error) {
	opts := p.ro
	opts.OnRetry = func(attempt int, err error, next time.Duration) {
		log.Debug().Err(err).Str("action", action).Int("attempt", attempt).
			Dur("backoff", next).Msg("attempt failed, retrying")
	}
	attempt := 0
	err := retry.Do(ctx, opts, isRetryable, func(ctx context.Context) error {
		attempt++
		return fn(ctx)
	})
	return attempt, err
}

// ResolveFolder walks segments from the Drive root, creating what is missing.
// A failure stops the walk; folders created before it are left in place.
func (p *Provider) ResolveFolder(ctx context.Context, segments []string) (*provider.RemoteFile, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	start := time.Now()
	parent := rootID
	var folder *provider.RemoteFile
	created := 0
	for i, name := range segments {
		at := provider.JoinSegments(segments[:i+1])
		found, made, err := p.ensureFolder(ctx, parent, name)
		if err != nil {
			if created > 0 {
				log.Warn().Str("action", "gdrive_resolve").Str("path", at).Int("created", created).
					Msg("folder chain left partially created")
			}
			return nil, remoteErr(fmt.Sprintf("resolve folder %q", at), err)
		}
		if made {
			created++
			log.Info().Str("action", "gdrive_resolve").Str("path", at).Str("id", found.ID).Msg("folder created")
		}
		folder = found
		parent = folder.ID
	}
	log.Debug().Str("action", "gdrive_resolve").Str("path", provider.JoinSegments(segments)).
		Str("id", folder.ID).Int("created", created).Dur("elapsed_ms", time.Since(start)).Msg("folder resolved")
	return folder, nil
}

// ensureFolder returns the folder called name under parent, creating it when
// absent. Every attempt repeats the lookup before creating, so a create whose
// response was lost is picked up by the retry instead of being sent again.
func (p *Provider) ensureFolder(ctx context.Context, parent, name string) (*provider.RemoteFile, bool, error) {
	var folder *provider.RemoteFile
	made := false
	_, err := p.call(ctx, "gdrive_resolve", func(ctx context.Context) error {
		items, err := p.listOnce(ctx, query{Parent: parent, Name: name, FolderOnly: true})
		if err != nil {
			return err
		}
		for _, it := range items {
			// Only case-sensitive exact matches count.
			if it.Name == name && it.IsFolder() {
				f := it
				folder = &f
				return nil
			}
		}
		created, err := p.files.Create(ctx, &drive.File{
			Name:     name,
			MimeType: provider.FolderMimeType,
			Parents:  []string{parent},
		})
		if err != nil {
			return err
		}
		f := toRemote(created)
		folder, made = &f, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return folder, made, nil
}

// list drains every page of q under the retry policy.
func (p *Provider) list(ctx context.Context, q query) ([]provider.RemoteFile, error) {
	var out []provider.RemoteFile
	_, err := p.call(ctx, "gdrive_list", func(ctx context.Context) error {
		var err error
		out, err = p.listOnce(ctx, q)
		return err
	})
	return out, err
}

// listOnce drains every page of q in a single attempt.
func (p *Provider) listOnce(ctx context.Context, q query) ([]provider.RemoteFile, error) {
	var out []provider.RemoteFile
	token := ""
	for {
		items, next, err := p.files.List(ctx, q, token)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			out = append(out, toRemote(it))
		}
		if next == "" {
			return out, nil
		}
		token = next
	}
}

func (p *Provider) ListChildren(ctx context.Context, folderID string) ([]provider.RemoteFile, error) {
	files, err := p.list(ctx, query{Parent: folderID})
	if err != nil {
		return nil, remoteErr("list folder", err)
	}
	return files, nil
}

// UploadFile stores localPath under parentID and checks size and MD5 of the result.
// A retry first looks for a copy committed by an earlier attempt and keeps it.
func (p *Provider) UploadFile(ctx context.Context, localPath, name, mimeType, parentID string) (*provider.RemoteFile, error) {
	sum, size, err := util.MD5File(localPath)
	if err != nil {
		return nil, fault.LocalIO("checksum", err)
	}

	start := time.Now()
	var out provider.RemoteFile
	tries := 0
	attempts, err := p.call(ctx, "gdrive_upload", func(ctx context.Context) error {
		tries++
		if tries > 1 {
			prior, err := p.findUploaded(ctx, parentID, name, size, sum)
			if err != nil {
				return err
			}
			if prior != nil {
				log.Info().Str("action", "gdrive_upload").Str("name", name).Str("id", prior.ID).
					Int("attempt", tries).Msg("earlier attempt already stored the file")
				out = *prior
				return nil
			}
		}
		f, err := os.Open(localPath)
		if err != nil {
			return fault.LocalIO("open archive", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				log.Warn().Err(cerr).Str("file", localPath).Msg("failed to close source file after upload")
			}
		}()
		created, err := p.files.Upload(ctx, &drive.File{
			Name:     name,
			MimeType: mimeType,
			Parents:  []string{parentID},
		}, f)
		if err != nil {
			return err
		}
		out = toRemote(created)
		return nil
	})
	if err != nil {
		return nil, remoteErr(fmt.Sprintf("upload %q", name), err)
	}

	if out.Size != 0 && out.Size != size {
		return nil, fault.Remote("validate upload", 0, fmt.Errorf("size mismatch: local=%d, remote=%d", size, out.Size))
	}
	if out.Checksum != "" && out.Checksum != sum {
		return nil, fault.Remote("validate upload", 0, fmt.Errorf("md5 mismatch: local=%s, remote=%s", sum, out.Checksum))
	}
	log.Info().Str("action", "gdrive_upload").Str("name", name).Str("id", out.ID).Int64("size", size).
		Int("attempts", attempts).Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return &out, nil
}

// findUploaded returns the file called name under parentID whose size and MD5
// match, or nil.
func (p *Provider) findUploaded(ctx context.Context, parentID, name string, size int64, sum string) (*provider.RemoteFile, error) {
	items, err := p.listOnce(ctx, query{Parent: parentID, Name: name})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Name == name && !it.IsFolder() && it.Size == size && it.Checksum == sum {
			f := it
			return &f, nil
		}
	}
	return nil, nil
}

// DeleteFile treats an id that is already gone as deleted.
func (p *Provider) DeleteFile(ctx context.Context, fileID string) error {
	_, err := p.call(ctx, "gdrive_delete", func(ctx context.Context) error {
		return p.files.Delete(ctx, fileID)
	})
	if statusOf(err) == http.StatusNotFound {
		log.Debug().Str("action", "gdrive_delete").Str("id", fileID).Msg("already deleted")
		return nil
	}
	if err != nil {
		return remoteErr(fmt.Sprintf("delete %s", fileID), err)
	}
	return nil
}

func (p *Provider) DownloadFile(ctx context.Context, fileID, localPath string) error {
	start := time.Now()
	attempts, err := p.call(ctx, "gdrive_download", func(ctx context.Context) error {
		out, err := os.Create(localPath)
		if err != nil {
			return fault.LocalIO("create local file", err)
		}
		derr := p.files.Download(ctx, fileID, out)
		if cerr := out.Close(); derr == nil && cerr != nil {
			return fault.LocalIO("close local file", cerr)
		}
		return derr
	})
	if err != nil {
		_ = os.Remove(localPath)
		return remoteErr(fmt.Sprintf("download %s", fileID), err)
	}
	log.Info().Str("action", "gdrive_download").Str("id", fileID).Str("local", localPath).
		Int("attempts", attempts).Dur("elapsed_ms", time.Since(start)).Msg("download OK")
	return nil
}
