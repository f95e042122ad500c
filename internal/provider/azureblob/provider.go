// Package azureblob implements provider.Destination on an Azure Blob container.
// Folders are virtual: a folder ID is its "/"-terminated key prefix.
package azureblob

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/provider"
	"github.com/Chapsvision-dev/spare/internal/retry"
	"github.com/Chapsvision-dev/spare/internal/util"
)

const shaMetaKey = "sha256"

type Provider struct {
	azure     config.AzureConfig
	client    *azblob.Client
	container string
	ro        retry.Options
}

func New(cfg config.Config) *Provider {
	return &Provider{
		azure:     cfg.Profile.Azure,
		container: cfg.Profile.Azure.Container,
		ro:        cfg.RetryOptions(),
	}
}

func (p *Provider) Name() string { return config.ProviderAzureBlob }

// Open builds the client and checks the container is reachable.
func (p *Provider) Open(ctx context.Context) error {
	if p.client == nil {
		client, method, err := newClientFromConfig(p.azure)
		if err != nil {
			return fault.Authentication("azure credential", err)
		}
		log.Debug().Str("action", "azure_auth").Str("method", method).Str("account", p.azure.Account).Msg("client ready")
		p.client = client
	}
	return p.ensureContainer(ctx)
}

// ResolveFolder maps segments to their key prefix. Nothing is created remotely.
func (p *Provider) ResolveFolder(_ context.Context, segments []string) (*provider.RemoteFile, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	parent := folderID(segments[:len(segments)-1])
	return &provider.RemoteFile{
		ID:        folderID(segments),
		Name:      segments[len(segments)-1],
		ParentIDs: []string{parent},
		MimeType:  provider.FolderMimeType,
	}, nil
}

func folderID(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	return strings.Join(segments, "/") + "/"
}

type blobEntry struct {
	Key         string
	Size        int64
	ContentType string
	SHA256      string
}

// ListChildren lists one level under folder with a "/" delimiter; sub-folders
// come back as blob prefixes.
func (p *Provider) ListChildren(ctx context.Context, folder string) ([]provider.RemoteFile, error) {
	start := time.Now()
	cc := p.client.ServiceClient().NewContainerClient(p.container)
	var entries []blobEntry
	var dirs []string
	attempt := 0
	listOnce := func(ctx context.Context) error {
		attempt++
		entries, dirs = entries[:0], dirs[:0]
		pager := cc.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
			Prefix:  to.Ptr(folder),
			Include: container.ListBlobsInclude{Metadata: true},
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				log.Debug().Err(err).Str("action", "azure_list").Str("prefix", folder).
					Int("attempt", attempt).Msg("attempt failed")
				return err
			}
			if page.Segment == nil {
				continue
			}
			for _, bp := range page.Segment.BlobPrefixes {
				if bp.Name != nil {
					dirs = append(dirs, *bp.Name)
				}
			}
			for _, it := range page.Segment.BlobItems {
				if it.Name == nil {
					continue
				}
				e := blobEntry{Key: *it.Name, SHA256: metaValue(it.Metadata, shaMetaKey)}
				if it.Properties != nil {
					if it.Properties.ContentLength != nil {
						e.Size = *it.Properties.ContentLength
					}
					if it.Properties.ContentType != nil {
						e.ContentType = *it.Properties.ContentType
					}
				}
				entries = append(entries, e)
			}
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, isAzRetryable, listOnce); err != nil {
		return nil, remoteErr("list folder", err)
	}
	children := immediateChildren(folder, dirs, entries)
	log.Debug().Str("action", "azure_list").Str("prefix", folder).Int("children", len(children)).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("list OK")
	return children, nil
}

// immediateChildren maps a delimited listing under prefix to remote files.
// dirs are the returned blob prefixes; a marker blob whose key is prefix is dropped.
func immediateChildren(prefix string, dirs []string, entries []blobEntry) []provider.RemoteFile {
	var out []provider.RemoteFile
	for _, d := range dirs {
		name := strings.TrimSuffix(strings.TrimPrefix(d, prefix), "/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		out = append(out, provider.RemoteFile{
			ID:        prefix + name + "/",
			Name:      name,
			ParentIDs: []string{prefix},
			MimeType:  provider.FolderMimeType,
		})
	}
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Key, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, provider.RemoteFile{
			ID:        e.Key,
			Name:      rest,
			ParentIDs: []string{prefix},
			MimeType:  e.ContentType,
			Size:      e.Size,
			Checksum:  e.SHA256,
		})
	}
	return out
}

// UploadFile stores the file under parentID and validates size and sha256.
func (p *Provider) UploadFile(ctx context.Context, localPath, name, mimeType, parentID string) (*provider.RemoteFile, error) {
	key := parentID + name
	sum, size, err := util.SHA256File(localPath)
	if err != nil {
		return nil, fault.LocalIO("checksum", err)
	}

	upStart := time.Now()
	upAttempt := 0
	uploadOnce := func(ctx context.Context) error {
		upAttempt++
		log.Debug().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
			Int("attempt", upAttempt).Msg("starting attempt")

		f, err := os.Open(localPath)
		if err != nil {
			return fault.LocalIO("open archive", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				log.Warn().Err(cerr).Str("file", localPath).Msg("failed to close source file after upload")
			}
		}()
		_, err = p.client.UploadFile(ctx, p.container, key, f, &azblob.UploadFileOptions{
			Metadata:    map[string]*string{shaMetaKey: to.Ptr(sum)},
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(mimeType)},
		})
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_upload").Str("container", p.container).Str("key", key).
				Int("attempt", upAttempt).Msg("attempt failed")
		}
		return err
	}
	if err := retry.Do(ctx, p.ro, isAzRetryable, uploadOnce); err != nil {
		return nil, remoteErr(fmt.Sprintf("upload %q", name), err)
	}
	log.Info().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
		Int("attempts", upAttempt).Dur("elapsed_ms", time.Since(upStart)).Msg("upload OK")

	if err := p.validate(ctx, key, size, sum); err != nil {
		return nil, err
	}
	return &provider.RemoteFile{
		ID:        key,
		Name:      name,
		ParentIDs: []string{parentID},
		MimeType:  mimeType,
		Size:      size,
		Checksum:  sum,
	}, nil
}

// validate reads the blob properties back and compares size and sha256.
func (p *Provider) validate(ctx context.Context, key string, size int64, sum string) error {
	bc := p.client.ServiceClient().NewContainerClient(p.container).NewBlobClient(key)
	attempt := 0
	var remoteSize int64
	var remoteSHA string
	err := retry.Do(ctx, p.ro, isAzRetryable, func(ctx context.Context) error {
		attempt++
		props, err := bc.GetProperties(ctx, nil)
		if err != nil {
			return err
		}
		if props.ContentLength != nil {
			remoteSize = *props.ContentLength
		}
		remoteSHA = metaValue(props.Metadata, shaMetaKey)
		return nil
	})
	if err != nil {
		return remoteErr("validate upload", err)
	}
	if remoteSize != size {
		return fault.Remote("validate upload", 0, fmt.Errorf("size mismatch: local=%d, remote=%d", size, remoteSize))
	}
	if remoteSHA != sum {
		return fault.Remote("validate upload", 0, fmt.Errorf("sha256 mismatch: local=%s, remote=%s", sum, remoteSHA))
	}
	log.Debug().Str("action", "azure_validate").Str("key", key).Int("attempts", attempt).
		Int64("remote_size", remoteSize).Msg("validation OK (sha256 & size)")
	return nil
}

// DeleteFile removes a blob; a blob that is already gone counts as deleted.
func (p *Provider) DeleteFile(ctx context.Context, key string) error {
	err := retry.Do(ctx, p.ro, isAzRetryable, func(ctx context.Context) error {
		_, err := p.client.DeleteBlob(ctx, p.container, key, nil)
		return err
	})
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		log.Debug().Str("action", "azure_delete").Str("key", key).Msg("already deleted")
		return nil
	}
	if err != nil {
		return remoteErr(fmt.Sprintf("delete %q", key), err)
	}
	return nil
}

// DownloadFile downloads a blob to a local path with retries.
func (p *Provider) DownloadFile(ctx context.Context, key, localPath string) error {
	dlStart := time.Now()
	dlAttempt := 0
	downloadOnce := func(ctx context.Context) error {
		dlAttempt++
		out, err := os.Create(localPath)
		if err != nil {
			return fault.LocalIO("create local file", err)
		}
		_, derr := p.client.DownloadFile(ctx, p.container, key, out, nil)
		if cerr := out.Close(); derr == nil && cerr != nil {
			return fault.LocalIO("close local file", cerr)
		}
		if derr != nil {
			log.Debug().Err(derr).Str("action", "azure_download").Str("key", key).
				Int("attempt", dlAttempt).Msg("attempt failed")
		}
		return derr
	}
	if err := retry.Do(ctx, p.ro, isAzRetryable, downloadOnce); err != nil {
		_ = os.Remove(localPath)
		return remoteErr(fmt.Sprintf("download %q", key), err)
	}
	log.Info().Str("action", "azure_download").Str("container", p.container).Str("key", key).
		Str("local", localPath).Int("attempts", dlAttempt).Dur("elapsed_ms", time.Since(dlStart)).Msg("download OK")
	return nil
}
