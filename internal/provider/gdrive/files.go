package gdrive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/Chapsvision-dev/spare/internal/provider"
)

const (
	rootID    = "root"
	pageSize  = 100
	chunkSize = 8 << 20

	fileFields googleapi.Field = "id, name, parents, mimeType, size, md5Checksum"
	listFields googleapi.Field = "nextPageToken, files(" + fileFields + ")"
)

// query selects non-trashed children of Parent, optionally by exact name.
type query struct {
	Parent     string
	Name       string
	FolderOnly bool
}

var quoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// String renders the Drive search syntax.
func (q query) String() string {
	parts := []string{fmt.Sprintf("'%s' in parents", quoter.Replace(q.Parent))}
	if q.Name != "" {
		parts = append(parts, fmt.Sprintf("name = '%s'", quoter.Replace(q.Name)))
	}
	if q.FolderOnly {
		parts = append(parts, fmt.Sprintf("mimeType = '%s'", provider.FolderMimeType))
	}
	parts = append(parts, "trashed = false")
	return strings.Join(parts, " and ")
}

// filesAPI is the slice of the Drive files resource the client needs.
type filesAPI interface {
	List(ctx context.Context, q query, pageToken string) (items []*drive.File, next string, err error)
	Create(ctx context.Context, meta *drive.File) (*drive.File, error)
	Upload(ctx context.Context, meta *drive.File, content io.Reader) (*drive.File, error)
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string, w io.Writer) error
}

type driveFiles struct {
	svc *drive.Service
}

func (d driveFiles) List(ctx context.Context, q query, pageToken string) ([]*drive.File, string, error) {
	call := d.svc.Files.List().
		Q(q.String()).
		Spaces("drive").
		PageSize(pageSize).
		Fields(listFields).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, "", err
	}
	return res.Files, res.NextPageToken, nil
}

func (d driveFiles) Create(ctx context.Context, meta *drive.File) (*drive.File, error) {
	return d.svc.Files.Create(meta).Fields(fileFields).Context(ctx).Do()
}

// Upload streams content in resumable chunks.
func (d driveFiles) Upload(ctx context.Context, meta *drive.File, content io.Reader) (*drive.File, error) {
	return d.svc.Files.Create(meta).
		Media(content, googleapi.ChunkSize(chunkSize)).
		Fields(fileFields).
		Context(ctx).
		Do()
}

func (d driveFiles) Delete(ctx context.Context, id string) error {
	return d.svc.Files.Delete(id).Context(ctx).Do()
}

func (d driveFiles) Download(ctx context.Context, id string, w io.Writer) error {
	resp, err := d.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, err = io.Copy(w, resp.Body)
	return err
}

func toRemote(f *drive.File) provider.RemoteFile {
	return provider.RemoteFile{
		ID:        f.Id,
		Name:      f.Name,
		ParentIDs: append([]string(nil), f.Parents...),
		MimeType:  f.MimeType,
		Size:      f.Size,
		Checksum:  f.Md5Checksum,
	}
}
