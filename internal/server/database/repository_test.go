package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securelink/internal/server/node"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.RunMigrations(ctx))
	return db
}

func folder(name, owner string, parent *uuid.UUID) *node.Folder {
	return &node.Folder{Header: node.Header{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   owner,
		ParentID:  parent,
		CreatedAt: time.Now(),
	}}
}

func file(name, owner string, parent *uuid.UUID, size int64) *node.File {
	return &node.File{
		Header: node.Header{
			ID:        uuid.New(),
			Name:      name,
			OwnerID:   owner,
			ParentID:  parent,
			CreatedAt: time.Now(),
		},
		ContentType:  "text/plain",
		SizeBytes:    size,
		StorageRef:   uuid.NewString(),
		ProviderName: "FileSystem",
	}
}

func names(nodes []node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Base().Name
	}
	return out
}

func TestDB_Ready(t *testing.T) {
	ctx := context.Background()

	db, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "ready.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, db.Ready(ctx), "ready before migrations")

	require.NoError(t, db.RunMigrations(ctx))
	assert.NoError(t, db.Ready(ctx))

	// Re-running is a no-op.
	require.NoError(t, db.RunMigrations(ctx))
	assert.NoError(t, db.HealthCheck(ctx))
}

func TestRepository_GetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	root := folder("docs", "alice", nil)
	token := "tok1"
	root.ShareToken = &token
	root.AllowAnonymousUpload = true
	require.NoError(t, repo.Insert(ctx, root))

	expires := time.Now().Add(time.Hour).Truncate(time.Microsecond)
	f := file("a.txt", "alice", &root.ID, 42)
	f.ExpiresAt = &expires
	f.BurnAfterDownload = true
	require.NoError(t, repo.Insert(ctx, f))

	got, err := repo.Get(ctx, f.ID)
	require.NoError(t, err)
	gotFile, ok := got.(*node.File)
	require.True(t, ok)
	assert.Equal(t, "a.txt", gotFile.Name)
	assert.Equal(t, int64(42), gotFile.SizeBytes)
	assert.Equal(t, f.StorageRef, gotFile.StorageRef)
	assert.True(t, gotFile.BurnAfterDownload)
	require.NotNil(t, gotFile.ParentID)
	assert.Equal(t, root.ID, *gotFile.ParentID)
	require.NotNil(t, gotFile.ExpiresAt)
	assert.True(t, expires.Equal(*gotFile.ExpiresAt))

	got, err = repo.Get(ctx, root.ID)
	require.NoError(t, err)
	gotFolder, ok := got.(*node.Folder)
	require.True(t, ok)
	assert.True(t, gotFolder.AllowAnonymousUpload)
	require.NotNil(t, gotFolder.ShareToken)
	assert.Equal(t, "tok1", *gotFolder.ShareToken)
	assert.Nil(t, gotFolder.ParentID)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRepository_ChildrenOf(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	parent := folder("parent", "alice", nil)
	require.NoError(t, repo.Insert(ctx, parent))

	archived := file("old.txt", "alice", &parent.ID, 1)
	archived.IsArchived = true

	for _, n := range []node.Node{
		file("b.txt", "alice", &parent.ID, 1),
		folder("zeta", "alice", &parent.ID),
		file("a.txt", "alice", &parent.ID, 1),
		folder("Alpha", "system", &parent.ID),
		file("drop.bin", node.OwnerAnonymous, &parent.ID, 1),
		folder("anon", node.OwnerAnonymous, &parent.ID),
		file("bob.txt", "bob", &parent.ID, 1),
		archived,
	} {
		require.NoError(t, repo.Insert(ctx, n))
	}

	t.Run("folders first then by name", func(t *testing.T) {
		children, err := repo.ChildrenOf(ctx, &parent.ID, ChildFilter{})
		require.NoError(t, err)
		assert.Equal(t,
			[]string{"Alpha", "anon", "zeta", "a.txt", "b.txt", "bob.txt", "drop.bin"},
			names(children))
	})

	t.Run("owner filter keeps system and anonymous files", func(t *testing.T) {
		children, err := repo.ChildrenOf(ctx, &parent.ID, ChildFilter{Owner: "alice"})
		require.NoError(t, err)
		assert.Equal(t,
			[]string{"Alpha", "zeta", "a.txt", "b.txt", "drop.bin"},
			names(children))
	})

	t.Run("include archived", func(t *testing.T) {
		children, err := repo.ChildrenOf(ctx, &parent.ID, ChildFilter{IncludeArchived: true})
		require.NoError(t, err)
		assert.Contains(t, names(children), "old.txt")
	})

	t.Run("root level", func(t *testing.T) {
		roots, err := repo.ChildrenOf(ctx, nil, ChildFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"parent"}, names(roots))
	})
}

func TestRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	parent := folder("parent", "alice", nil)
	child := file("child.txt", "alice", &parent.ID, 1)
	require.NoError(t, repo.Insert(ctx, parent))
	require.NoError(t, repo.Insert(ctx, child))

	assert.ErrorIs(t, repo.Delete(ctx, parent.ID), ErrHasChildren)

	require.NoError(t, repo.Delete(ctx, child.ID))
	require.NoError(t, repo.Delete(ctx, parent.ID))

	_, err := repo.Get(ctx, parent.ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, parent.ID), ErrNodeNotFound)
}

func TestRepository_UniqueColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	t.Run("share token", func(t *testing.T) {
		token := "shared"
		first := folder("first", "alice", nil)
		first.ShareToken = &token
		require.NoError(t, repo.Insert(ctx, first))

		second := folder("second", "bob", nil)
		second.ShareToken = &token
		assert.ErrorIs(t, repo.Insert(ctx, second), ErrShareTokenTaken)

		found, err := repo.FindByShareToken(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)

		_, err = repo.FindByShareToken(ctx, "wrong")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("storage ref", func(t *testing.T) {
		a := file("a", "alice", nil, 1)
		require.NoError(t, repo.Insert(ctx, a))

		b := file("b", "alice", nil, 1)
		b.StorageRef = a.StorageRef
		assert.ErrorIs(t, repo.Insert(ctx, b), ErrStorageRefTaken)
	})
}

func TestRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	parent := folder("parent", "alice", nil)
	f := file("a.txt", "alice", nil, 3)
	f.BurnAfterDownload = true
	require.NoError(t, repo.Insert(ctx, parent))
	require.NoError(t, repo.Insert(ctx, f))

	t.Run("writes mutable columns", func(t *testing.T) {
		f.Name = "b.txt"
		f.ParentID = &parent.ID
		f.IsArchived = true
		require.NoError(t, repo.Update(ctx, f))

		got, err := repo.Get(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, "b.txt", got.Base().Name)
		assert.True(t, got.Base().IsArchived)
		require.NotNil(t, got.Base().ParentID)
		assert.Equal(t, parent.ID, *got.Base().ParentID)
	})

	t.Run("stale copy keeps the accessed flag", func(t *testing.T) {
		stale, err := repo.Get(ctx, f.ID)
		require.NoError(t, err)
		require.NoError(t, repo.MarkAccessed(ctx, f.ID))

		stale.Base().IsArchived = false
		require.NoError(t, repo.Update(ctx, stale))

		burned, err := repo.FindBurnedAccessed(ctx)
		require.NoError(t, err)
		require.Len(t, burned, 1)
		assert.Equal(t, f.ID, burned[0].ID)
	})

	t.Run("deleted node is not recreated", func(t *testing.T) {
		gone := folder("gone", "alice", nil)
		require.NoError(t, repo.Insert(ctx, gone))
		require.NoError(t, repo.Delete(ctx, gone.ID))

		gone.Name = "back"
		assert.ErrorIs(t, repo.Update(ctx, gone), ErrNodeNotFound)
		_, err := repo.Get(ctx, gone.ID)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("share token conflict", func(t *testing.T) {
		token := "taken"
		owner := folder("owner", "alice", nil)
		owner.ShareToken = &token
		require.NoError(t, repo.Insert(ctx, owner))

		parent.ShareToken = &token
		assert.ErrorIs(t, repo.Update(ctx, parent), ErrShareTokenTaken)
	})

	t.Run("duplicate insert", func(t *testing.T) {
		assert.Error(t, repo.Insert(ctx, parent))
	})
}

func TestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expiredFile := file("expired.txt", "alice", nil, 1)
	expiredFile.ExpiresAt = &past
	expiredFolder := folder("expired", "alice", nil)
	expiredFolder.ExpiresAt = &past
	fresh := file("fresh.txt", "alice", nil, 1)
	fresh.ExpiresAt = &future
	burn := file("burn.txt", "alice", nil, 1)
	burn.BurnAfterDownload = true

	for _, n := range []node.Node{expiredFile, expiredFolder, fresh, burn} {
		require.NoError(t, repo.Insert(ctx, n))
	}

	expired, err := repo.FindExpired(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"expired.txt", "expired"}, names(expired))

	burned, err := repo.FindBurnedAccessed(ctx)
	require.NoError(t, err)
	assert.Empty(t, burned, "not yet downloaded")

	require.NoError(t, repo.MarkAccessed(ctx, burn.ID))
	burned, err = repo.FindBurnedAccessed(ctx)
	require.NoError(t, err)
	require.Len(t, burned, 1)
	assert.Equal(t, burn.ID, burned[0].ID)

	assert.ErrorIs(t, repo.MarkAccessed(ctx, expiredFolder.ID), ErrNodeNotFound)
	assert.ErrorIs(t, repo.MarkAccessed(ctx, uuid.New()), ErrNodeNotFound)
}

func TestRepository_Search(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	for _, n := range []node.Node{
		file("Report-2024.pdf", "alice", nil, 1),
		folder("reports", "alice", nil),
		file("report.txt", "bob", nil, 1),
		file("notes.md", "alice", nil, 1),
	} {
		require.NoError(t, repo.Insert(ctx, n))
	}

	results, err := repo.Search(ctx, "alice", "REPORT", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"reports", "Report-2024.pdf"}, names(results))

	limited, err := repo.Search(ctx, "alice", "report", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, repo.Insert(ctx, file("100%_done.txt", "alice", nil, 1)))

	literal, err := repo.Search(ctx, "alice", "0%_d", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"100%_done.txt"}, names(literal))

	wildcards, err := repo.Search(ctx, "alice", "__", 10)
	require.NoError(t, err)
	assert.Empty(t, wildcards, "underscores match literally")
}

func TestRepository_GetStats(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	archived := file("b", "alice", nil, 5)
	archived.IsArchived = true
	for _, n := range []node.Node{
		folder("f", "alice", nil),
		file("a", "alice", nil, 10),
		archived,
	} {
		require.NoError(t, repo.Insert(ctx, n))
	}

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalFiles)
	assert.Equal(t, int64(1), stats.TotalFolders)
	assert.Equal(t, int64(1), stats.ArchivedNodes)
	assert.Equal(t, int64(15), stats.StorageUsed)
}

func TestRepository_Snippets(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	kept := &Snippet{ID: uuid.New(), Title: "kept", Content: "hello", OwnerID: "alice", CreatedAt: now, ExpiresAt: &future}
	stale := &Snippet{ID: uuid.New(), Title: "stale", Content: "old", OwnerID: "alice", CreatedAt: now, ExpiresAt: &past}
	once := &Snippet{ID: uuid.New(), Title: "once", Content: "secret", OwnerID: "bob", CreatedAt: now, BurnAfterRead: true}
	for _, s := range []*Snippet{kept, stale, once} {
		require.NoError(t, repo.CreateSnippet(ctx, s))
	}

	got, err := repo.GetSnippet(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Title)
	assert.Equal(t, "hello", got.Content)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, future, *got.ExpiresAt, time.Millisecond)

	taken, err := repo.TakeSnippet(ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", taken.Content)
	assert.True(t, taken.BurnAfterRead)
	_, err = repo.TakeSnippet(ctx, once.ID)
	assert.ErrorIs(t, err, ErrSnippetNotFound)

	n, err := repo.DeleteExpiredSnippets(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = repo.GetSnippet(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrSnippetNotFound)

	require.NoError(t, repo.DeleteSnippet(ctx, kept.ID))
	require.NoError(t, repo.DeleteSnippet(ctx, kept.ID))
	_, err = repo.GetSnippet(ctx, kept.ID)
	assert.ErrorIs(t, err, ErrSnippetNotFound)
}

func TestAuditRepository(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditRepository(newTestDB(t))

	id := uuid.NewString()
	require.NoError(t, audit.Record(ctx, "alice", "upload", "file", id, "a.txt"))
	require.NoError(t, audit.Record(ctx, "alice", "delete", "file", id, ""))
	require.NoError(t, audit.Record(ctx, "alice", "upload", "file", uuid.NewString(), ""))

	entries, err := audit.EntityLogs(ctx, "file", id, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "alice", e.UserID)
		assert.Equal(t, id, e.EntityID)
	}
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", rebindDollar("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}
