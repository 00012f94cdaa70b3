package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"securelink/internal/server/filesystem"
	"securelink/internal/server/node"
	"securelink/internal/server/policy"
)

// UploadInput describes one file upload.
type UploadInput struct {
	ParentID          *uuid.UUID
	Filename          string
	ContentType       string
	Size              int64 // -1 when unknown
	Content           io.Reader
	ExpiresInDays     int // 0 inherits the parent folder's expiry
	PIN               string
	BurnAfterDownload bool
}

// Upload stores the content and creates the file node. Authenticated users may
// upload wherever the policy grants them upload; anonymous callers need a
// share token for a folder that accepts anonymous uploads, and their files are
// owned by "anonymous".
func (s *Service) Upload(ctx context.Context, req Requester, in UploadInput) (*node.File, error) {
	// 1. Check file size limit
	if in.Size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	// 2. Resolve and authorize the destination
	var parent *node.Folder
	if in.ParentID != nil {
		p, err := s.engine.ResolveFolder(ctx, *in.ParentID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, p, req, policy.IntentUpload); err != nil {
			return nil, err
		}
		parent = p
	} else if req.anonymous() {
		return nil, fmt.Errorf("%w: anonymous uploads need a shared folder", filesystem.ErrUnauthorized)
	}

	owner := req.ID
	if req.anonymous() {
		owner = node.OwnerAnonymous
	}

	// 3. Work out expiry and PIN before touching storage
	var expiresAt *time.Time
	switch {
	case in.ExpiresInDays > 0:
		t := s.now().UTC().AddDate(0, 0, in.ExpiresInDays)
		expiresAt = &t
	case parent != nil && parent.ExpiresAt != nil:
		t := *parent.ExpiresAt
		expiresAt = &t
	}

	pinHash, err := hashOptionalPIN(in.PIN)
	if err != nil {
		return nil, err
	}

	// 4. Store the blob, counting bytes and enforcing the limit on the stream
	name := sanitizeFilename(in.Filename)
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	counter := &countingReader{r: io.LimitReader(in.Content, s.cfg.MaxFileSize+1)}
	ref, err := s.backend.Put(ctx, counter, in.Size, name, contentType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", filesystem.ErrStorageUnavailable, err)
	}
	if counter.n > s.cfg.MaxFileSize {
		s.discardBlob(ctx, ref)
		return nil, ErrFileTooLarge
	}

	// 5. Create the node; the blob is removed again if that fails
	file, err := s.engine.CreateFile(ctx, &node.File{
		Header: node.Header{
			Name:      name,
			OwnerID:   owner,
			ParentID:  in.ParentID,
			ExpiresAt: expiresAt,
			PinHash:   pinHash,
		},
		ContentType:       contentType,
		SizeBytes:         counter.n,
		StorageRef:        ref,
		ProviderName:      s.backend.Name(),
		BurnAfterDownload: in.BurnAfterDownload,
	})
	if err != nil {
		s.discardBlob(ctx, ref)
		return nil, err
	}

	s.record(ctx, req, actionUpload, file, file.Name)
	slog.Info("upload processed",
		"id", file.ID,
		"filename", file.Name,
		"owner", owner,
		"size", file.SizeBytes,
		"burn_after_download", file.BurnAfterDownload,
	)
	return file, nil
}

func (s *Service) discardBlob(ctx context.Context, ref string) {
	if err := s.backend.Delete(context.WithoutCancel(ctx), ref); err != nil {
		slog.Error("failed to clean up stored blob", "storage_ref", ref, "error", err)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// --- Helpers ---

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Backslashes first: filepath.Base only splits on the host separator.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		cut := 255 - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}

	if name == "" || name == "." || name == "/" || name == ".." {
		name = "upload"
	}
	return name
}
