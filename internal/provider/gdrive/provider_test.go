package gdrive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/provider"
)

func newTestProvider(d *fakeDrive) *Provider {
	p := New(config.Config{
		RetryMaxAttempts:  3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     time.Millisecond,
		RetryMultiplier:   1,
	})
	p.files = d
	return p
}

func apiErr(code int, reason string) error {
	e := &googleapi.Error{Code: code, Message: http.StatusText(code)}
	if reason != "" {
		e.Errors = []googleapi.ErrorItem{{Reason: reason}}
	}
	return e
}

func TestRegistered(t *testing.T) {
	d, err := provider.New(config.ProviderGoogleDrive, config.Config{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, ok := d.(*Provider); !ok {
		t.Fatalf("unexpected destination type %T", d)
	}
}

// 1) Resolving twice yields the same folder and creates nothing the second time.
func TestResolveFolder_CreatesChainAndIsIdempotent(t *testing.T) {
	d := newFakeDrive()
	p := newTestProvider(d)
	ctx := context.Background()

	first, err := p.ResolveFolder(ctx, []string{"backups", "laptop"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.calls["create"] != 2 {
		t.Fatalf("want 2 creates, got %d", d.calls["create"])
	}
	parent := d.byName("backups")
	if parent == nil || parent.file.Parents[0] != rootID {
		t.Fatalf("backups should live under root: %+v", parent)
	}
	if first.Name != "laptop" || first.ParentIDs[0] != parent.file.Id || !first.IsFolder() {
		t.Fatalf("unexpected terminal folder: %+v", first)
	}

	second, err := p.ResolveFolder(ctx, []string{"backups", "laptop"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resolve not idempotent: %s != %s", second.ID, first.ID)
	}
	if d.calls["create"] != 2 {
		t.Fatalf("second resolve created folders: %d creates", d.calls["create"])
	}
}

// 2) Trashed folders, same-named files and case variants are not reused.
func TestResolveFolder_OnlyExactLiveFolders(t *testing.T) {
	d := newFakeDrive()
	trashed := d.add("backups", provider.FolderMimeType, rootID, true)
	file := d.add("backups", "application/zip", rootID, false)
	upper := d.add("Backups", provider.FolderMimeType, rootID, false)
	p := newTestProvider(d)

	got, err := p.ResolveFolder(context.Background(), []string{"backups"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, e := range []*fakeEntry{trashed, file, upper} {
		if got.ID == e.file.Id {
			t.Fatalf("reused %q (%s)", e.file.Name, e.file.MimeType)
		}
	}
	if d.calls["create"] != 1 {
		t.Fatalf("want 1 create, got %d", d.calls["create"])
	}
}

// 3) A failing segment stops the walk and leaves earlier folders in place.
func TestResolveFolder_PartialFailureNoRollback(t *testing.T) {
	d := newFakeDrive()
	d.fail = func(op, name string) error {
		if op == "create" && name == "laptop" {
			return apiErr(http.StatusForbidden, "insufficientFilePermissions")
		}
		return nil
	}
	p := newTestProvider(d)

	_, err := p.ResolveFolder(context.Background(), []string{"backups", "laptop", "daily"})
	if !errors.Is(err, fault.ErrRemote) {
		t.Fatalf("want remote error, got %v", err)
	}
	if fault.StatusCode(err) != http.StatusForbidden {
		t.Fatalf("want status 403, got %d", fault.StatusCode(err))
	}
	if d.byName("backups") == nil {
		t.Fatal("first segment should remain")
	}
	if d.byName("daily") != nil {
		t.Fatal("segments after the failure must not be attempted")
	}
	if d.calls["create"] != 2 {
		t.Fatalf("4xx must not be retried: %d creates", d.calls["create"])
	}
}

// A create that lands on Drive but loses its response is found again, not repeated.
func TestResolveFolder_LostCreateResponse(t *testing.T) {
	d := newFakeDrive()
	d.lost["create"] = 1
	p := newTestProvider(d)

	got, err := p.ResolveFolder(context.Background(), []string{"backups", "laptop"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if n := d.countNamed("backups", rootID); n != 1 {
		t.Fatalf("want one folder named backups under root, got %d", n)
	}
	if n := d.countNamed("laptop", d.byName("backups").file.Id); n != 1 {
		t.Fatalf("want one folder named laptop, got %d", n)
	}
	if got.ID != d.byName("laptop").file.Id {
		t.Fatalf("resolved %s, want %s", got.ID, d.byName("laptop").file.Id)
	}
	if d.calls["create"] != 2 {
		t.Fatalf("want 2 creates, got %d", d.calls["create"])
	}
}

func TestResolveFolder_NothingToResolve(t *testing.T) {
	d := newFakeDrive()
	got, err := newTestProvider(d).ResolveFolder(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("want nil,nil got %+v,%v", got, err)
	}
	if len(d.calls) != 0 {
		t.Fatalf("unexpected calls: %v", d.calls)
	}
}

// 4) Listing follows every page and drops trashed entries.
func TestListChildren_DrainsPages(t *testing.T) {
	d := newFakeDrive()
	folder := d.add("laptop", provider.FolderMimeType, rootID, false)
	for i := 1; i <= 5; i++ {
		d.add(fmt.Sprintf("2024-01-0%dT00:00:00+00:00.zip", i), "application/zip", folder.file.Id, false)
	}
	d.add("2023-12-31T00:00:00+00:00.zip", "application/zip", folder.file.Id, true)
	d.add("elsewhere.zip", "application/zip", rootID, false)

	got, err := newTestProvider(d).ListChildren(context.Background(), folder.file.Id)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("want 5 children, got %d", len(got))
	}
	if d.calls["list"] != 3 {
		t.Fatalf("want 3 pages, got %d", d.calls["list"])
	}
}

func TestListChildren_RetriesTransient(t *testing.T) {
	d := newFakeDrive()
	d.add("a.zip", "application/zip", rootID, false)
	failures := 1
	d.fail = func(op, _ string) error {
		if op == "list" && failures > 0 {
			failures--
			return apiErr(http.StatusServiceUnavailable, "")
		}
		return nil
	}
	got, err := newTestProvider(d).ListChildren(context.Background(), rootID)
	if err != nil || len(got) != 1 {
		t.Fatalf("want 1 child after retry, got %v, %v", got, err)
	}
}

func writeArchive(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "a.zip")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// 5) Uploads carry the MD5 and are rejected when the remote digest differs.
func TestUploadFile_VerifiesChecksum(t *testing.T) {
	d := newFakeDrive()
	p := newTestProvider(d)
	local := writeArchive(t, "archive-bytes")

	rf, err := p.UploadFile(context.Background(), local, "2024-03-02T10:15:30+00:00.zip", "application/zip", "parent")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	sum := md5.Sum([]byte("archive-bytes"))
	if rf.Checksum != hex.EncodeToString(sum[:]) || rf.Size != int64(len("archive-bytes")) {
		t.Fatalf("unexpected remote file: %+v", rf)
	}
	if rf.ParentIDs[0] != "parent" {
		t.Fatalf("wrong parent: %v", rf.ParentIDs)
	}

	d.corrupt = true
	_, err = p.UploadFile(context.Background(), local, "x.zip", "application/zip", "parent")
	if !errors.Is(err, fault.ErrRemote) || !strings.Contains(err.Error(), "md5 mismatch") {
		t.Fatalf("want md5 mismatch, got %v", err)
	}
}

// 6) A transient failure re-sends the whole file.
func TestUploadFile_RetriesAndReopens(t *testing.T) {
	d := newFakeDrive()
	failures := 1
	d.fail = func(op, _ string) error {
		if op == "upload" && failures > 0 {
			failures--
			return apiErr(http.StatusInternalServerError, "")
		}
		return nil
	}
	local := writeArchive(t, "complete payload")

	rf, err := newTestProvider(d).UploadFile(context.Background(), local, "n.zip", "application/zip", "parent")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got := string(d.byID(rf.ID).content); got != "complete payload" {
		t.Fatalf("stored %q", got)
	}
	if d.calls["upload"] != 2 {
		t.Fatalf("want 2 attempts, got %d", d.calls["upload"])
	}
}

// An upload whose response is lost is kept rather than stored a second time.
func TestUploadFile_LostResponseKeepsFirstCopy(t *testing.T) {
	d := newFakeDrive()
	d.lost["upload"] = 1
	local := writeArchive(t, "archive-bytes")
	name := "2024-03-02T10:15:30+00:00.zip"

	rf, err := newTestProvider(d).UploadFile(context.Background(), local, name, "application/zip", "parent")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if n := d.countNamed(name, "parent"); n != 1 {
		t.Fatalf("want a single stored archive, got %d", n)
	}
	if d.calls["upload"] != 1 {
		t.Fatalf("upload re-sent: %d calls", d.calls["upload"])
	}
	sum := md5.Sum([]byte("archive-bytes"))
	if rf.ID != d.byName(name).file.Id || rf.Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected remote file: %+v", rf)
	}
}

// A same-named file with different content does not stand in for the upload.
func TestUploadFile_RetryIgnoresDifferentContent(t *testing.T) {
	d := newFakeDrive()
	stale := d.add("n.zip", "application/zip", "parent", false)
	stale.content = []byte("old")
	stale.file.Size = 3
	failures := 1
	d.fail = func(op, _ string) error {
		if op == "upload" && failures > 0 {
			failures--
			return apiErr(http.StatusBadGateway, "")
		}
		return nil
	}

	rf, err := newTestProvider(d).UploadFile(context.Background(), writeArchive(t, "fresh"), "n.zip", "application/zip", "parent")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rf.ID == stale.file.Id {
		t.Fatal("reused a file with different content")
	}
	if d.calls["upload"] != 2 {
		t.Fatalf("want 2 attempts, got %d", d.calls["upload"])
	}
}

func TestUploadFile_AuthFailureNotRetried(t *testing.T) {
	d := newFakeDrive()
	d.fail = func(op, _ string) error {
		if op == "upload" {
			return apiErr(http.StatusUnauthorized, "authError")
		}
		return nil
	}
	_, err := newTestProvider(d).UploadFile(context.Background(), writeArchive(t, "x"), "n.zip", "application/zip", "p")
	if fault.StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("want 401, got %v", err)
	}
	if d.calls["upload"] != 1 {
		t.Fatalf("auth failure retried: %d attempts", d.calls["upload"])
	}
}

func TestUploadFile_MissingLocal(t *testing.T) {
	_, err := newTestProvider(newFakeDrive()).UploadFile(context.Background(),
		filepath.Join(t.TempDir(), "nope.zip"), "n.zip", "application/zip", "p")
	if !errors.Is(err, fault.ErrLocalIO) {
		t.Fatalf("want local io error, got %v", err)
	}
}

// 7) Deleting a missing id succeeds; rate limits are retried; 400 is not.
func TestDeleteFile(t *testing.T) {
	d := newFakeDrive()
	p := newTestProvider(d)
	ctx := context.Background()

	if err := p.DeleteFile(ctx, "gone"); err != nil {
		t.Fatalf("missing id should be success: %v", err)
	}

	e := d.add("old.zip", "application/zip", rootID, false)
	limited := 1
	d.fail = func(op, _ string) error {
		if op == "delete" && limited > 0 {
			limited--
			return apiErr(http.StatusForbidden, "rateLimitExceeded")
		}
		return nil
	}
	if err := p.DeleteFile(ctx, e.file.Id); err != nil {
		t.Fatalf("delete after rate limit: %v", err)
	}
	if d.byID(e.file.Id) != nil {
		t.Fatal("file still present")
	}

	d.fail = func(op, _ string) error { return apiErr(http.StatusBadRequest, "invalid") }
	err := p.DeleteFile(ctx, "whatever")
	if fault.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
}

func TestDownloadFile(t *testing.T) {
	d := newFakeDrive()
	e := d.add("a.zip", "application/zip", rootID, false)
	e.content = []byte("zip bytes")
	out := filepath.Join(t.TempDir(), "a.zip")

	if err := newTestProvider(d).DownloadFile(context.Background(), e.file.Id, out); err != nil {
		t.Fatalf("download: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil || string(b) != "zip bytes" {
		t.Fatalf("read back %q, %v", b, err)
	}

	if err := newTestProvider(d).DownloadFile(context.Background(), "missing", out); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("partial download left behind: %v", err)
	}
}

func TestQueryString(t *testing.T) {
	q := query{Parent: "root", Name: `it's a\b`, FolderOnly: true}
	want := `'root' in parents and name = 'it\'s a\\b' and mimeType = 'application/vnd.google-apps.folder' and trashed = false`
	if got := q.String(); got != want {
		t.Fatalf("query:\n got %s\nwant %s", got, want)
	}
	if got := (query{Parent: "abc"}).String(); got != "'abc' in parents and trashed = false" {
		t.Fatalf("children query: %s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{apiErr(500, ""), true},
		{apiErr(503, ""), true},
		{apiErr(429, ""), true},
		{apiErr(408, ""), true},
		{apiErr(403, "userRateLimitExceeded"), true},
		{apiErr(403, "forbidden"), false},
		{apiErr(401, "authError"), false},
		{apiErr(404, "notFound"), false},
		{errors.New("plain"), false},
		{fmt.Errorf("wrapped: %w", apiErr(502, "")), true},
	}
	for i, c := range cases {
		if got := isRetryable(c.err); got != c.want {
			t.Errorf("case %d (%v): got %v want %v", i, c.err, got, c.want)
		}
	}
}

// ---- fakes ----

type fakeEntry struct {
	file    drive.File
	content []byte
	trashed bool
}

// fakeDrive is an in-memory files API. Name matching in List ignores case
// like Drive's search does, so callers must filter exact matches.
type fakeDrive struct {
	mu       sync.Mutex
	entries  []*fakeEntry
	seq      int
	pageSize int
	calls    map[string]int
	fail     func(op, name string) error
	corrupt  bool
	// lost makes op commit and then fail with 503 that many times.
	lost map[string]int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{pageSize: 2, calls: map[string]int{}, lost: map[string]int{}}
}

func (d *fakeDrive) add(name, mime, parent string, trashed bool) *fakeEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(name, mime, parent, trashed)
}

func (d *fakeDrive) addLocked(name, mime, parent string, trashed bool) *fakeEntry {
	d.seq++
	e := &fakeEntry{
		file: drive.File{
			Id:       "id-" + strconv.Itoa(d.seq),
			Name:     name,
			MimeType: mime,
			Parents:  []string{parent},
		},
		trashed: trashed,
	}
	d.entries = append(d.entries, e)
	return e
}

func (d *fakeDrive) byName(name string) *fakeEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.file.Name == name && !e.trashed {
			return e
		}
	}
	return nil
}

func (d *fakeDrive) countNamed(name, parent string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if e.file.Name == name && e.file.Parents[0] == parent && !e.trashed {
			n++
		}
	}
	return n
}

func (d *fakeDrive) dropResponse(op string) error {
	if d.lost[op] > 0 {
		d.lost[op]--
		return apiErr(http.StatusServiceUnavailable, "")
	}
	return nil
}

func (d *fakeDrive) byID(id string) *fakeEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.file.Id == id {
			return e
		}
	}
	return nil
}

func (d *fakeDrive) injected(op, name string) error {
	d.calls[op]++
	if d.fail != nil {
		return d.fail(op, name)
	}
	return nil
}

func (d *fakeDrive) List(_ context.Context, q query, token string) ([]*drive.File, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("list", q.Name); err != nil {
		return nil, "", err
	}
	var match []*drive.File
	for _, e := range d.entries {
		if e.trashed || e.file.Parents[0] != q.Parent {
			continue
		}
		if q.Name != "" && !strings.EqualFold(e.file.Name, q.Name) {
			continue
		}
		if q.FolderOnly && e.file.MimeType != provider.FolderMimeType {
			continue
		}
		f := e.file
		match = append(match, &f)
	}
	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := start + d.pageSize
	if end > len(match) {
		end = len(match)
	}
	next := ""
	if end < len(match) {
		next = strconv.Itoa(end)
	}
	return match[start:end], next, nil
}

func (d *fakeDrive) Create(_ context.Context, meta *drive.File) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("create", meta.Name); err != nil {
		return nil, err
	}
	e := d.addLocked(meta.Name, meta.MimeType, meta.Parents[0], false)
	if err := d.dropResponse("create"); err != nil {
		return nil, err
	}
	f := e.file
	return &f, nil
}

func (d *fakeDrive) Upload(_ context.Context, meta *drive.File, content io.Reader) (*drive.File, error) {
	b, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("upload", meta.Name); err != nil {
		return nil, err
	}
	e := d.addLocked(meta.Name, meta.MimeType, meta.Parents[0], false)
	e.content = b
	sum := md5.Sum(b)
	e.file.Md5Checksum = hex.EncodeToString(sum[:])
	if d.corrupt {
		e.file.Md5Checksum = "00000000000000000000000000000000"
	}
	e.file.Size = int64(len(b))
	if err := d.dropResponse("upload"); err != nil {
		return nil, err
	}
	f := e.file
	return &f, nil
}

func (d *fakeDrive) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("delete", id); err != nil {
		return err
	}
	for i, e := range d.entries {
		if e.file.Id == id {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return nil
		}
	}
	return apiErr(http.StatusNotFound, "notFound")
}

func (d *fakeDrive) Download(_ context.Context, id string, w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("download", id); err != nil {
		return err
	}
	for _, e := range d.entries {
		if e.file.Id == id {
			_, err := io.Copy(w, bytes.NewReader(e.content))
			return err
		}
	}
	return apiErr(http.StatusNotFound, "notFound")
}
