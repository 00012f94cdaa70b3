package client

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Remote is the part of the API a mirror needs. *Client satisfies it.
type Remote interface {
	CreateFolder(ctx context.Context, parentID *uuid.UUID, name, pin string) (*RemoteNode, error)
	UploadFile(ctx context.Context, parentID *uuid.UUID, path string, opts UploadOptions) (*RemoteNode, error)
}

// MirrorOptions controls how a tree is recreated remotely.
type MirrorOptions struct {
	ParentID    *uuid.UUID
	Upload      UploadOptions
	FolderPIN   string
	Concurrency int
}

// Report summarizes a finished mirror.
type Report struct {
	Root    *RemoteNode
	Folders int
	Files   int
	Bytes   int64
}

// Mirror recreates tree on the server. Folders are created top-down before
// their contents and files upload concurrently. The first failure cancels the
// remaining work.
func Mirror(ctx context.Context, remote Remote, tree *Tree, opts MirrorOptions) (*Report, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	m := &mirror{remote: remote, opts: opts}

	if f, ok := tree.Root.(*LocalFile); ok {
		root, err := m.upload(ctx, f, opts.ParentID)
		if err != nil {
			return nil, err
		}
		return m.report(root), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	root, err := m.dir(gctx, g, tree.Root.(*LocalDir), opts.ParentID)
	if werr := g.Wait(); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return m.report(root), nil
}

type mirror struct {
	remote Remote
	opts   MirrorOptions

	folders atomic.Int64
	files   atomic.Int64
	bytes   atomic.Int64
}

// dir creates d under parentID, then walks its children. Files are queued
// on g; subdirectories are created inline so their contents see the new id.
func (m *mirror) dir(ctx context.Context, g *errgroup.Group, d *LocalDir, parentID *uuid.UUID) (*RemoteNode, error) {
	folder, err := m.remote.CreateFolder(ctx, parentID, d.Name(), m.opts.FolderPIN)
	if err != nil {
		return nil, err
	}
	m.folders.Add(1)
	slog.Debug("folder created", "path", d.Path(), "id", folder.ID)

	for _, child := range d.Children() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch c := child.(type) {
		case *LocalDir:
			if _, err := m.dir(ctx, g, c, &folder.ID); err != nil {
				return nil, err
			}
		case *LocalFile:
			g.Go(func() error {
				_, err := m.upload(ctx, c, &folder.ID)
				return err
			})
		}
	}
	return folder, nil
}

func (m *mirror) upload(ctx context.Context, f *LocalFile, parentID *uuid.UUID) (*RemoteNode, error) {
	uploaded, err := m.remote.UploadFile(ctx, parentID, f.Path(), m.opts.Upload)
	if err != nil {
		return nil, err
	}
	m.files.Add(1)
	m.bytes.Add(f.Size())
	slog.Debug("file uploaded", "path", f.Path(), "id", uploaded.ID)
	return uploaded, nil
}

func (m *mirror) report(root *RemoteNode) *Report {
	return &Report{
		Root:    root,
		Folders: int(m.folders.Load()),
		Files:   int(m.files.Load()),
		Bytes:   m.bytes.Load(),
	}
}
