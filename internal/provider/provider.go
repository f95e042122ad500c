package provider

import (
	"context"
	"path"
)

// FolderMimeType tags containers in listings, whatever the backend.
const FolderMimeType = "application/vnd.google-apps.folder"

// RemoteFile is a read-only projection of one remote entry.
type RemoteFile struct {
	ID        string
	Name      string
	ParentIDs []string
	MimeType  string
	Size      int64
	// Checksum is backend specific (MD5 hex for Drive, SHA-256 hex for Azure).
	Checksum string
}

func (f RemoteFile) IsFolder() bool { return f.MimeType == FolderMimeType }

// Destination is the capability set a backup target must offer.
// IDs are opaque to callers; implementations decide their own format.
type Destination interface {
	// Name returns the provider identifier (e.g. "google-drive").
	Name() string

	// Open authenticates and prepares the client. It must be called first.
	Open(ctx context.Context) error

	// ResolveFolder walks segments from the provider root, creating missing
	// folders. It returns nil without error when there is nothing to resolve.
	ResolveFolder(ctx context.Context, segments []string) (*RemoteFile, error)

	// ListChildren returns every non-trashed immediate child of a folder.
	ListChildren(ctx context.Context, folderID string) ([]RemoteFile, error)

	// UploadFile stores localPath as name under parentID.
	UploadFile(ctx context.Context, localPath, name, mimeType, parentID string) (*RemoteFile, error)

	// DeleteFile removes a file; deleting a missing file is not an error.
	DeleteFile(ctx context.Context, fileID string) error

	// DownloadFile writes a remote file to localPath.
	DownloadFile(ctx context.Context, fileID, localPath string) error
}

// JoinSegments renders folder segments as a display path.
func JoinSegments(segments []string) string {
	return "/" + path.Join(segments...)
}
