package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalNode is a file or directory on the uploading machine.
type LocalNode interface {
	Path() string
	Name() string
}

// LocalFile is a regular file to upload.
type LocalFile struct {
	path string
	name string
	size int64
}

// LocalDir becomes a remote folder.
type LocalDir struct {
	path     string
	name     string
	children []LocalNode
}

func (f *LocalFile) Path() string { return f.path }
func (f *LocalFile) Name() string { return f.name }
func (f *LocalFile) Size() int64  { return f.size }

func (d *LocalDir) Path() string           { return d.path }
func (d *LocalDir) Name() string           { return d.name }
func (d *LocalDir) Children() []LocalNode { return d.children }

// Tree is the local structure mirrored by one upload.
type Tree struct {
	Root LocalNode
}

// BuildTree walks the parsed paths. Several paths are grouped under a
// timestamped virtual directory so they land in one remote folder. Hidden
// entries and anything that is neither a regular file nor a directory are
// skipped.
func BuildTree(paths []ParsedPath) (*Tree, error) {
	var roots []LocalNode

	for _, p := range paths {
		if p.Kind == PathDir {
			dir, err := buildDir(p.FullPath)
			if err != nil {
				return nil, err
			}
			roots = append(roots, dir)
			continue
		}

		info, err := os.Stat(p.FullPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p.FullPath, err)
		}
		roots = append(roots, &LocalFile{
			path: p.FullPath,
			name: filepath.Base(p.FullPath),
			size: info.Size(),
		})
	}

	if len(roots) == 0 {
		return nil, fmt.Errorf("no valid paths provided")
	}

	if len(roots) == 1 {
		return &Tree{Root: roots[0]}, nil
	}
	return &Tree{Root: virtualRoot(roots, time.Now())}, nil
}

func buildDir(dirPath string) (*LocalDir, error) {
	dir := &LocalDir{
		path: dirPath,
		name: filepath.Base(dirPath),
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dirPath, err)
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			child, err := buildDir(childPath)
			if err != nil {
				return nil, err
			}
			dir.children = append(dir.children, child)
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", childPath, err)
			}
			dir.children = append(dir.children, &LocalFile{
				path: childPath,
				name: entry.Name(),
				size: info.Size(),
			})
		}
	}

	return dir, nil
}

func virtualRoot(children []LocalNode, now time.Time) *LocalDir {
	name := fmt.Sprintf("upload_%s", now.Format("2006_01_02_150405"))
	return &LocalDir{path: name, name: name, children: children}
}

// Files returns every file in the tree in depth-first order.
func (t *Tree) Files() []*LocalFile {
	var out []*LocalFile
	var walk func(LocalNode)
	walk = func(n LocalNode) {
		switch v := n.(type) {
		case *LocalFile:
			out = append(out, v)
		case *LocalDir:
			for _, c := range v.children {
				walk(c)
			}
		}
	}
	walk(t.Root)
	return out
}

// TotalSize sums the sizes recorded while building the tree.
func (t *Tree) TotalSize() int64 {
	var total int64
	for _, f := range t.Files() {
		total += f.size
	}
	return total
}
