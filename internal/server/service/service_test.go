package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securelink/internal/server/config"
	"securelink/internal/server/database"
	"securelink/internal/server/filesystem"
	"securelink/internal/server/node"
	"securelink/internal/server/storage"
)

var (
	alice = Requester{ID: "alice"}
	bob   = Requester{ID: "bob"}
)

// recordingAudit keeps audit entries in memory.
type recordingAudit struct {
	mu      sync.Mutex
	entries []string
	err     error
}

func (r *recordingAudit) Record(_ context.Context, _, action, _, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, action)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

type fixture struct {
	svc     *Service
	engine  *filesystem.Engine
	audit   *recordingAudit
	cfg     *config.Config
	blobDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := database.NewSQLite(ctx, filepath.Join(dir, "service.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.RunMigrations(ctx))

	blobDir := filepath.Join(dir, "blobs")
	backend := storage.NewFileSystemStore(blobDir)
	require.NoError(t, backend.EnsureDir())

	cfg := &config.Config{
		MaxFileSize:         1024,
		FolderDefaultExpiry: 720 * time.Hour,
		BaseURL:             "http://localhost:8080",
	}
	repo := database.NewRepository(db)
	engine := filesystem.NewEngine(repo, backend, nil)
	audit := &recordingAudit{}

	return &fixture{
		svc:     New(engine, backend, audit, repo, cfg),
		engine:  engine,
		audit:   audit,
		cfg:     cfg,
		blobDir: blobDir,
	}
}

func (f *fixture) folder(t *testing.T, req Requester, name string, parent *uuid.UUID) *node.Folder {
	t.Helper()
	folder, err := f.svc.CreateFolder(context.Background(), req, FolderInput{Name: name, ParentID: parent})
	require.NoError(t, err)
	return folder
}

func (f *fixture) upload(t *testing.T, req Requester, in UploadInput) *node.File {
	t.Helper()
	if in.Content == nil {
		in.Content = strings.NewReader("content")
		in.Size = 7
	}
	if in.Filename == "" {
		in.Filename = "file.txt"
	}
	file, err := f.svc.Upload(context.Background(), req, in)
	require.NoError(t, err)
	return file
}

func readAll(t *testing.T, d *Download) string {
	t.Helper()
	defer d.Content.Close()
	data, err := io.ReadAll(d.Content)
	require.NoError(t, err)
	return string(data)
}

func TestService_CreateFolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	folder := f.folder(t, alice, "  projects ", nil)
	assert.Equal(t, "projects", folder.Name)
	assert.Equal(t, "alice", folder.OwnerID)
	require.NotNil(t, folder.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(720*time.Hour), *folder.ExpiresAt, time.Minute)

	_, err := f.svc.CreateFolder(ctx, Requester{}, FolderInput{Name: "x"})
	assert.ErrorIs(t, err, filesystem.ErrUnauthorized)

	_, err = f.svc.CreateFolder(ctx, bob, FolderInput{Name: "x", ParentID: &folder.ID})
	assert.ErrorIs(t, err, filesystem.ErrForbidden)

	withPin, err := f.svc.CreateFolder(ctx, alice, FolderInput{Name: "locked", PIN: "1234"})
	require.NoError(t, err)
	assert.True(t, withPin.HasPin())
}

func TestService_Download(t *testing.T) {
	ctx := context.Background()

	t.Run("owner downloads", func(t *testing.T) {
		f := newFixture(t)
		file := f.upload(t, alice, UploadInput{Content: strings.NewReader("hello"), Size: 5})

		d, err := f.svc.Download(ctx, alice, file.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "hello", readAll(t, d))
	})

	t.Run("other users are forbidden", func(t *testing.T) {
		f := newFixture(t)
		file := f.upload(t, alice, UploadInput{})

		_, err := f.svc.Download(ctx, bob, file.ID, "")
		assert.ErrorIs(t, err, filesystem.ErrForbidden)
		_, err = f.svc.Download(ctx, Requester{}, file.ID, "")
		assert.ErrorIs(t, err, filesystem.ErrForbidden)
	})

	t.Run("share token with download permission", func(t *testing.T) {
		f := newFixture(t)
		folder := f.folder(t, alice, "shared", nil)
		file := f.upload(t, alice, UploadInput{ParentID: &folder.ID})

		status, err := f.svc.CreateShare(ctx, alice, folder.ID, ShareInput{AllowDownload: true})
		require.NoError(t, err)

		d, err := f.svc.Download(ctx, Requester{ShareToken: status.Token}, file.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "content", readAll(t, d))

		_, err = f.svc.Download(ctx, Requester{ShareToken: "wrong"}, file.ID, "")
		assert.ErrorIs(t, err, filesystem.ErrForbidden)
	})

	t.Run("pin protected", func(t *testing.T) {
		f := newFixture(t)
		file := f.upload(t, alice, UploadInput{PIN: "4321"})

		_, err := f.svc.Download(ctx, alice, file.ID, "")
		assert.ErrorIs(t, err, filesystem.ErrUnauthorized)
		_, err = f.svc.Download(ctx, alice, file.ID, "0000")
		assert.ErrorIs(t, err, filesystem.ErrUnauthorized)

		d, err := f.svc.Download(ctx, alice, file.ID, "4321")
		require.NoError(t, err)
		d.Content.Close()
	})

	t.Run("expired file is deleted", func(t *testing.T) {
		f := newFixture(t)
		file := f.upload(t, alice, UploadInput{ExpiresInDays: 1})
		f.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

		_, err := f.svc.Download(ctx, alice, file.ID, "")
		assert.ErrorIs(t, err, filesystem.ErrNotFound)

		_, err = f.engine.Resolve(ctx, file.ID)
		assert.ErrorIs(t, err, filesystem.ErrNotFound)
	})

	t.Run("folders cannot be downloaded", func(t *testing.T) {
		f := newFixture(t)
		folder := f.folder(t, alice, "dir", nil)

		_, err := f.svc.Download(ctx, alice, folder.ID, "")
		assert.ErrorIs(t, err, filesystem.ErrInvalidOperation)
	})
}

func TestService_BurnAfterDownload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	burn := f.upload(t, alice, UploadInput{BurnAfterDownload: true})
	plain := f.upload(t, alice, UploadInput{})

	d, err := f.svc.Download(ctx, alice, burn.ID, "")
	require.NoError(t, err)
	assert.False(t, d.File.IsAccessed, "not marked before the content is read")
	readAll(t, d)
	assert.True(t, d.File.IsAccessed)

	got, err := f.engine.Resolve(ctx, burn.ID)
	require.NoError(t, err)
	assert.True(t, got.(*node.File).Burned())

	require.NoError(t, f.svc.ConfirmBurn(ctx, alice, burn.ID))
	got, err = f.engine.Resolve(ctx, burn.ID)
	require.NoError(t, err)
	assert.True(t, got.Base().IsArchived, "archived but still resolvable")

	assert.ErrorIs(t, f.svc.ConfirmBurn(ctx, alice, plain.ID), filesystem.ErrInvalidOperation)
	assert.ErrorIs(t, f.svc.ConfirmBurn(ctx, bob, burn.ID), filesystem.ErrForbidden)
}

func TestService_BurnAfterDownload_Interrupted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	burn := f.upload(t, alice, UploadInput{
		Content:           strings.NewReader("0123456789"),
		Size:              10,
		BurnAfterDownload: true,
	})

	d, err := f.svc.Download(ctx, alice, burn.ID, "")
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(d.Content, buf)
	require.NoError(t, err)
	require.NoError(t, d.Content.Close())

	got, err := f.engine.Resolve(ctx, burn.ID)
	require.NoError(t, err)
	assert.False(t, got.(*node.File).Burned(), "partial read leaves the file available")

	d, err = f.svc.Download(ctx, alice, burn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", readAll(t, d))

	got, err = f.engine.Resolve(ctx, burn.ID)
	require.NoError(t, err)
	assert.True(t, got.(*node.File).Burned())
}

func TestService_FolderPIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	locked, err := f.svc.CreateFolder(ctx, alice, FolderInput{Name: "locked", PIN: "2468"})
	require.NoError(t, err)
	file := f.upload(t, alice, UploadInput{ParentID: &locked.ID, Filename: "inside.txt"})

	status, err := f.svc.CreateShare(ctx, alice, locked.ID, ShareInput{AllowView: true, AllowDownload: true})
	require.NoError(t, err)
	guest := Requester{ShareToken: status.Token}
	unlocked := Requester{ShareToken: status.Token, FolderPIN: "2468"}

	t.Run("owner is not asked", func(t *testing.T) {
		children, err := f.svc.List(ctx, alice, &locked.ID)
		require.NoError(t, err)
		assert.Len(t, children, 1)

		d, err := f.svc.Download(ctx, alice, file.ID, "")
		require.NoError(t, err)
		d.Content.Close()
	})

	t.Run("list", func(t *testing.T) {
		_, err := f.svc.List(ctx, guest, &locked.ID)
		assert.ErrorIs(t, err, filesystem.ErrUnauthorized)

		wrong := Requester{ShareToken: status.Token, FolderPIN: "0000"}
		_, err = f.svc.List(ctx, wrong, &locked.ID)
		assert.ErrorIs(t, err, filesystem.ErrUnauthorized)

		children, err := f.svc.List(ctx, unlocked, &locked.ID)
		require.NoError(t, err)
		assert.Len(t, children, 1)
	})

	t.Run("open share", func(t *testing.T) {
		_, err := f.svc.OpenShare(ctx, guest)
		assert.ErrorIs(t, err, filesystem.ErrUnauthorized)

		shared, err := f.svc.OpenShare(ctx, unlocked)
		require.NoError(t, err)
		require.Len(t, shared.Children, 1)
		assert.Equal(t, "inside.txt", shared.Children[0].Base().Name)
	})

	t.Run("download of a file inside", func(t *testing.T) {
		_, err := f.svc.Download(ctx, guest, file.ID, "")
		assert.ErrorIs(t, err, filesystem.ErrUnauthorized)

		d, err := f.svc.Download(ctx, unlocked, file.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "content", readAll(t, d))
	})

	t.Run("cleared pin", func(t *testing.T) {
		noPin := ""
		_, err := f.svc.UpdateFolderSettings(ctx, alice, locked.ID, FolderSettingsInput{PIN: &noPin})
		require.NoError(t, err)

		_, err = f.svc.OpenShare(ctx, guest)
		assert.NoError(t, err)
	})
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	file := f.upload(t, alice, UploadInput{})

	_, err := f.svc.History(ctx, bob, file.ID)
	assert.ErrorIs(t, err, filesystem.ErrForbidden)

	entries, err := f.svc.History(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "sink without a reader has no history")
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root := f.folder(t, alice, "root", nil)
	f.folder(t, alice, "sub", &root.ID)
	f.upload(t, alice, UploadInput{ParentID: &root.ID, Filename: "b.txt"})
	f.upload(t, alice, UploadInput{ParentID: &root.ID, Filename: "a.txt"})
	f.upload(t, bob, UploadInput{Filename: "bob.txt"})

	children, err := f.svc.List(ctx, alice, &root.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, "sub", children[0].Base().Name)
	assert.Equal(t, "a.txt", children[1].Base().Name)
	assert.Equal(t, "b.txt", children[2].Base().Name)

	roots, err := f.svc.List(ctx, alice, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0].Base().Name)

	_, err = f.svc.List(ctx, bob, &root.ID)
	assert.ErrorIs(t, err, filesystem.ErrForbidden)

	_, err = f.svc.List(ctx, Requester{}, nil)
	assert.ErrorIs(t, err, filesystem.ErrUnauthorized)
}

func TestService_List_FiltersByFolderOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	drop := f.folder(t, alice, "drop", nil)
	status, err := f.svc.CreateShare(ctx, alice, drop.ID, ShareInput{AllowView: true, AllowUpload: true})
	require.NoError(t, err)

	f.upload(t, alice, UploadInput{ParentID: &drop.ID, Filename: "mine.txt"})
	f.upload(t, Requester{ShareToken: status.Token}, UploadInput{ParentID: &drop.ID, Filename: "theirs.txt"})

	children, err := f.svc.List(ctx, alice, &drop.ID)
	require.NoError(t, err)
	require.Len(t, children, 1, "anonymous uploads are not listed under the owner's folder")
	assert.Equal(t, "mine.txt", children[0].Base().Name)
}

func TestService_Share(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	folder := f.folder(t, alice, "public", nil)
	f.upload(t, alice, UploadInput{ParentID: &folder.ID, Filename: "visible.txt"})

	status, err := f.svc.ShareStatus(ctx, alice, folder.ID)
	require.NoError(t, err)
	assert.False(t, status.Shared)

	_, err = f.svc.CreateShare(ctx, bob, folder.ID, ShareInput{AllowView: true})
	assert.ErrorIs(t, err, filesystem.ErrForbidden)

	status, err = f.svc.CreateShare(ctx, alice, folder.ID, ShareInput{AllowView: true})
	require.NoError(t, err)
	assert.True(t, status.Shared)
	assert.Len(t, status.Token, shareTokenLength)
	assert.Equal(t, "http://localhost:8080/share/"+status.Token, status.URL)

	shared, err := f.svc.OpenShare(ctx, Requester{ShareToken: status.Token})
	require.NoError(t, err)
	assert.Equal(t, folder.ID, shared.Folder.ID)
	require.Len(t, shared.Children, 1)
	assert.Equal(t, "visible.txt", shared.Children[0].Base().Name)

	_, err = f.svc.OpenShare(ctx, Requester{ShareToken: "wrong"})
	assert.ErrorIs(t, err, filesystem.ErrNotFound)

	require.NoError(t, f.svc.RevokeShare(ctx, alice, folder.ID))
	_, err = f.svc.OpenShare(ctx, Requester{ShareToken: status.Token})
	assert.ErrorIs(t, err, filesystem.ErrNotFound)

	status, err = f.svc.CreateShare(ctx, alice, folder.ID, ShareInput{AllowUpload: true})
	require.NoError(t, err)
	_, err = f.svc.OpenShare(ctx, Requester{ShareToken: status.Token})
	assert.ErrorIs(t, err, filesystem.ErrForbidden, "view not granted")
}

func TestService_Settings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	folder := f.folder(t, alice, "docs", nil)
	pin := "9999"
	name := "renamed"

	updated, err := f.svc.UpdateFolderSettings(ctx, alice, folder.ID, FolderSettingsInput{Name: &name, PIN: &pin})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.HasPin())

	noPin := ""
	updated, err = f.svc.UpdateFolderSettings(ctx, alice, folder.ID, FolderSettingsInput{PIN: &noPin})
	require.NoError(t, err)
	assert.False(t, updated.HasPin())

	_, err = f.svc.UpdateFolderSettings(ctx, bob, folder.ID, FolderSettingsInput{Name: &name})
	assert.ErrorIs(t, err, filesystem.ErrForbidden)
}

func TestService_MoveArchiveDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.folder(t, alice, "a", nil)
	b := f.folder(t, alice, "b", &a.ID)
	file := f.upload(t, alice, UploadInput{ParentID: &b.ID})

	_, err := f.svc.Move(ctx, alice, a.ID, &b.ID)
	assert.ErrorIs(t, err, filesystem.ErrInvalidOperation)

	moved, err := f.svc.Move(ctx, alice, file.ID, &a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, *moved.Base().ParentID)

	_, err = f.svc.Move(ctx, bob, file.ID, nil)
	assert.ErrorIs(t, err, filesystem.ErrForbidden)

	_, err = f.svc.Archive(ctx, alice, file.ID)
	require.NoError(t, err)
	children, err := f.svc.List(ctx, alice, &a.ID)
	require.NoError(t, err)
	assert.Len(t, children, 1, "only folder b remains visible")

	_, err = f.svc.Restore(ctx, alice, file.ID)
	require.NoError(t, err)

	size, err := f.svc.Size(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)

	path, err := f.svc.Path(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Len(t, path, 2)

	assert.ErrorIs(t, f.svc.Delete(ctx, bob, a.ID), filesystem.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, alice, a.ID))
	_, err = f.engine.Resolve(ctx, file.ID)
	assert.ErrorIs(t, err, filesystem.ErrNotFound)
}

func TestService_BulkDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	mine := f.upload(t, alice, UploadInput{})
	theirs := f.upload(t, bob, UploadInput{})
	missing := uuid.New()

	results, err := f.svc.BulkDelete(ctx, alice, []uuid.UUID{mine.ID, theirs.ID, missing})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, filesystem.ErrForbidden)
	assert.ErrorIs(t, results[2].Err, filesystem.ErrNotFound)

	_, err = f.svc.BulkDelete(ctx, alice, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.BulkDelete(ctx, alice, make([]uuid.UUID, maxBulkDelete+1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.upload(t, alice, UploadInput{Filename: "quarterly-report.pdf"})
	f.upload(t, bob, UploadInput{Filename: "report.txt"})

	results, err := f.svc.Search(ctx, alice, "report")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "quarterly-report.pdf", results[0].Base().Name)

	_, err = f.svc.Search(ctx, alice, "r")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Search(ctx, Requester{}, "report")
	assert.ErrorIs(t, err, filesystem.ErrUnauthorized)
}

func TestService_GetStats(t *testing.T) {
	f := newFixture(t)
	f.upload(t, alice, UploadInput{})

	stats, err := f.svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalFiles)
	assert.Equal(t, int64(7), stats.StorageUsed)
}
