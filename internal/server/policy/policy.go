// Package policy decides who may do what with a node. Evaluation is pure: the
// caller resolves everything the decision needs (including a file's parent
// folder) and receives a plain yes/no.
package policy

import (
	"securelink/internal/server/node"
)

// Intent is the operation a requester wants to perform on a node.
type Intent string

const (
	IntentView     Intent = "view"
	IntentDownload Intent = "download"
	IntentUpload   Intent = "upload"
	IntentDelete   Intent = "delete"
	IntentMove     Intent = "move"
	IntentSettings Intent = "settings"
)

// Mutating reports whether the intent changes the tree. Mutating intents are
// never granted through a share token.
func (i Intent) Mutating() bool {
	switch i {
	case IntentDelete, IntentMove, IntentSettings:
		return true
	}
	return false
}

func (i Intent) readOnly() bool {
	return i == IntentView || i == IntentDownload
}

// Request is the input to Evaluate.
type Request struct {
	Node node.Node

	// Parent is the folder containing Node when Node is a file. It is only
	// consulted for share-token checks and may be nil for root-level files.
	Parent *node.Folder

	RequesterID string // empty means anonymous
	ShareToken  string // empty means none supplied
	Intent      Intent
}

// Evaluate applies the access rules in order; the first rule that matches
// decides.
func Evaluate(req Request) bool {
	if req.Node == nil {
		return false
	}
	h := req.Node.Base()

	if h.AllowAnonymousView && req.Intent == IntentView {
		return true
	}

	if req.RequesterID != "" && req.RequesterID == h.OwnerID {
		return true
	}

	if req.RequesterID == node.OwnerSystem && req.Intent.Mutating() {
		return true
	}

	if h.OwnerID == node.OwnerSystem && req.Intent.readOnly() {
		return true
	}

	if req.ShareToken != "" {
		if folder := sharedFolder(req); folder != nil {
			return shareGrants(req.Node, folder, req.Intent)
		}
	}

	return false
}

// sharedFolder returns the folder whose share token matches the request, if any.
func sharedFolder(req Request) *node.Folder {
	var candidate *node.Folder
	switch n := req.Node.(type) {
	case *node.File:
		candidate = req.Parent
		if candidate != nil && (n.ParentID == nil || *n.ParentID != candidate.ID) {
			return nil
		}
	case *node.Folder:
		candidate = n
	}
	if candidate == nil || candidate.ShareToken == nil || *candidate.ShareToken != req.ShareToken {
		return nil
	}
	return candidate
}

func shareGrants(target node.Node, folder *node.Folder, intent Intent) bool {
	switch intent {
	case IntentView:
		return folder.AllowAnonymousView
	case IntentDownload:
		return folder.AllowAnonymousDownload
	case IntentUpload:
		_, isFolder := target.(*node.Folder)
		return isFolder && folder.AllowAnonymousUpload
	}
	return false
}
