// Package node defines the entries of the hierarchical store: files and folders
// sharing one namespace through parent pointers.
package node

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Owner ids with policy meaning.
const (
	OwnerSystem    = "system"
	OwnerAnonymous = "anonymous"
)

// Kind discriminates the two node variants in storage.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// Header holds the fields every node carries.
type Header struct {
	ID                     uuid.UUID
	Name                   string
	OwnerID                string
	ParentID               *uuid.UUID // nil for root-level nodes
	CreatedAt              time.Time
	ExpiresAt              *time.Time
	IsArchived             bool
	PinHash                *string
	AllowAnonymousView     bool
	AllowAnonymousDownload bool
}

// Node is either a *File or a *Folder. The set is closed: callers switch on the
// concrete type and never expect a third variant.
type Node interface {
	Base() *Header
	Kind() Kind
	node()
}

// File is a leaf whose bytes live in the storage backend under StorageRef.
type File struct {
	Header
	ContentType       string
	SizeBytes         int64
	StorageRef        string
	ProviderName      string
	BurnAfterDownload bool
	IsAccessed        bool
}

// Folder groups children and is the unit of anonymous sharing.
type Folder struct {
	Header
	AllowAnonymousUpload bool
	ShareToken           *string // unique among folders when set
}

func (f *File) Base() *Header { return &f.Header }
func (f *File) Kind() Kind     { return KindFile }
func (*File) node()            {}

func (f *Folder) Base() *Header { return &f.Header }
func (f *Folder) Kind() Kind     { return KindFolder }
func (*Folder) node()            {}

// Expired reports whether the node's expiry lies strictly before now.
func (h *Header) Expired(now time.Time) bool {
	return h.ExpiresAt != nil && h.ExpiresAt.Before(now)
}

// HasPin reports whether the node is PIN protected.
func (h *Header) HasPin() bool {
	return h.PinHash != nil && *h.PinHash != ""
}

// Burned reports whether a burn-after-download file has been consumed.
func (f *File) Burned() bool {
	return f.BurnAfterDownload && f.IsAccessed
}

// Reapable reports whether the lifecycle reaper should retire n at now.
func Reapable(n Node, now time.Time) bool {
	if n.Base().Expired(now) {
		return true
	}
	if f, ok := n.(*File); ok {
		return f.Burned()
	}
	return false
}

// SortListing orders nodes folders first, then by name (byte-wise, stable).
func SortListing(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		ki, kj := nodes[i].Kind(), nodes[j].Kind()
		if ki != kj {
			return ki == KindFolder
		}
		return nodes[i].Base().Name < nodes[j].Base().Name
	})
}

