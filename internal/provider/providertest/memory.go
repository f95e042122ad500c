// Package providertest offers an in-memory provider.Destination for tests.
package providertest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/provider"
)

const RootID = "root"

type object struct {
	file provider.RemoteFile
	data []byte
}

// Memory records every call and can be told to fail any of them.
type Memory struct {
	mu    sync.Mutex
	objs  map[string]*object
	seq   int
	calls []string

	OpenErr     error
	ResolveErr  error
	ListErr     error
	UploadErr   error
	DownloadErr error
	// DeleteErr fails deletion of specific ids.
	DeleteErr map[string]error
	// NoFolder makes ResolveFolder report nothing resolved.
	NoFolder bool
}

var _ provider.Destination = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objs: map[string]*object{}, DeleteErr: map[string]error{}}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) record(op string) {
	m.calls = append(m.calls, op)
}

// Calls returns the operations seen so far, in order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Count returns how many times op was called.
func (m *Memory) Count(op string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (m *Memory) Open(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("open")
	return m.OpenErr
}

func (m *Memory) ResolveFolder(_ context.Context, segments []string) (*provider.RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("resolve")
	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}
	if m.NoFolder || len(segments) == 0 {
		return nil, nil
	}
	f := m.folderLocked(segments)
	return &f, nil
}

// Folder resolves segments without recording a call.
func (m *Memory) Folder(segments ...string) provider.RemoteFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folderLocked(segments)
}

func (m *Memory) folderLocked(segments []string) provider.RemoteFile {
	parent := RootID
	var cur provider.RemoteFile
	for _, name := range segments {
		found := false
		for _, o := range m.objs {
			if o.file.IsFolder() && o.file.Name == name && o.file.ParentIDs[0] == parent {
				cur, found = o.file, true
				break
			}
		}
		if !found {
			cur = m.putLocked(parent, name, provider.FolderMimeType, nil)
		}
		parent = cur.ID
	}
	return cur
}

func (m *Memory) putLocked(parent, name, mime string, data []byte) provider.RemoteFile {
	m.seq++
	f := provider.RemoteFile{
		ID:        fmt.Sprintf("obj-%d", m.seq),
		Name:      name,
		ParentIDs: []string{parent},
		MimeType:  mime,
		Size:      int64(len(data)),
	}
	m.objs[f.ID] = &object{file: f, data: data}
	return f
}

// Seed stores a file under parentID without recording a call.
func (m *Memory) Seed(parentID, name string, data []byte) provider.RemoteFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(parentID, name, "application/zip", data)
}

// Children lists parentID's entries sorted by name without recording a call.
func (m *Memory) Children(parentID string) []provider.RemoteFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childrenLocked(parentID)
}

func (m *Memory) childrenLocked(parentID string) []provider.RemoteFile {
	var out []provider.RemoteFile
	for _, o := range m.objs {
		if o.file.ParentIDs[0] == parentID {
			out = append(out, o.file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Data returns the stored bytes of id.
func (m *Memory) Data(id string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.objs[id]; ok {
		return o.data
	}
	return nil
}

func (m *Memory) ListChildren(_ context.Context, folderID string) ([]provider.RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list")
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.childrenLocked(folderID), nil
}

func (m *Memory) UploadFile(_ context.Context, localPath, name, mimeType, parentID string) (*provider.RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("upload")
	if m.UploadErr != nil {
		return nil, m.UploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fault.LocalIO("read archive", err)
	}
	f := m.putLocked(parentID, name, mimeType, data)
	return &f, nil
}

func (m *Memory) DeleteFile(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete")
	if err := m.DeleteErr[fileID]; err != nil {
		return err
	}
	delete(m.objs, fileID)
	return nil
}

func (m *Memory) DownloadFile(_ context.Context, fileID, localPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("download")
	if m.DownloadErr != nil {
		return m.DownloadErr
	}
	o, ok := m.objs[fileID]
	if !ok {
		return fault.Remote("download "+fileID, 404, fmt.Errorf("%s: not found", fileID))
	}
	if err := os.WriteFile(localPath, o.data, 0o600); err != nil {
		return fault.LocalIO("write download", err)
	}
	return nil
}
