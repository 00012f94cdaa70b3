// Package client uploads local files and directories to a SecureLink server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Headers understood by the server's API.
const (
	headerUserID = "X-User-Id"
	userAgent    = "securelink-cli/1.0"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	UserID     string
	Timeout    time.Duration
	RetryCount int
}

// Client talks to the SecureLink HTTP API.
type Client struct {
	resty *resty.Client
}

// New creates a client for the server at opts.BaseURL acting as opts.UserID.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	r := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(10*time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
		}).
		SetHeader("User-Agent", userAgent)
	if opts.UserID != "" {
		r.SetHeader(headerUserID, opts.UserID)
	}

	return &Client{resty: r}
}

// RemoteNode is a node as reported by the server.
type RemoteNode struct {
	ID        uuid.UUID  `json:"id"`
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	ParentID  *uuid.UUID `json:"parent_id"`
	ExpiresAt *time.Time `json:"expires_at"`
	Size      *int64     `json:"size"`
	HasPin    bool       `json:"has_pin"`
}

// Share is a folder's share link.
type Share struct {
	Token string `json:"token"`
	URL   string `json:"share_url"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Detail  string `json:"message"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Detail
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, msg)
}

// UploadOptions are applied to every uploaded file.
type UploadOptions struct {
	ExpiresInDays     int
	PIN               string
	BurnAfterDownload bool
}

// ShareOptions selects what share-link holders may do.
type ShareOptions struct {
	AllowView     bool
	AllowUpload   bool
	AllowDownload bool
}

// CreateFolder creates a folder under parentID, or at the root when nil.
func (c *Client) CreateFolder(ctx context.Context, parentID *uuid.UUID, name, pin string) (*RemoteNode, error) {
	var out RemoteNode
	body := map[string]any{"name": name, "parent_id": parentID}
	if pin != "" {
		body["pin"] = pin
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&APIError{}).
		Post("/api/folders")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	return &out, nil
}

// UploadFile uploads the file at path into parentID.
func (c *Client) UploadFile(ctx context.Context, parentID *uuid.UUID, path string, opts UploadOptions) (*RemoteNode, error) {
	form := map[string]string{}
	if parentID != nil {
		form["parent_id"] = parentID.String()
	}
	if opts.ExpiresInDays > 0 {
		form["expires_in_days"] = strconv.Itoa(opts.ExpiresInDays)
	}
	if opts.PIN != "" {
		form["pin"] = opts.PIN
	}
	if opts.BurnAfterDownload {
		form["burn_after_download"] = "true"
	}

	var out RemoteNode
	resp, err := c.resty.R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(form).
		SetResult(&out).
		SetError(&APIError{}).
		Post("/api/files")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return &out, nil
}

// ShareFolder creates a share link for a folder.
func (c *Client) ShareFolder(ctx context.Context, folderID uuid.UUID, opts ShareOptions) (*Share, error) {
	var out Share
	resp, err := c.resty.R().
		SetContext(ctx).
		SetPathParam("id", folderID.String()).
		SetBody(map[string]bool{
			"allow_view":     opts.AllowView,
			"allow_upload":   opts.AllowUpload,
			"allow_download": opts.AllowDownload,
		}).
		SetResult(&out).
		SetError(&APIError{}).
		Post("/api/share/folder/{id}")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("failed to share folder %s: %w", folderID, err)
	}
	return &out, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}
