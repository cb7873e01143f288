// Package client is the Go SDK for the loft server: pending-upload
// registration, blob upload, commit, and the file namespace operations.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"loft/internal/server/metadata"
)

// ErrNotFound is returned when the server reports a missing file or blob.
var ErrNotFound = errors.New("not found")

// Client talks to a loft server.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// pendingUpload mirrors the server's registration response.
type pendingUpload struct {
	BlobID    string    `json:"blob_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Upload pushes data to storage and binds it to path in one call:
// register a pending upload, PUT the bytes to the returned URL, then
// commit. Basis carries the caller's overwrite expectation for the path.
func (c *Client) Upload(ctx context.Context, path, contentType string, data io.Reader, size int64, basis metadata.Basis) (string, error) {
	var pending pendingUpload
	err := c.do(ctx, http.MethodPost, "/api/uploads", map[string]any{
		"content_type": contentType,
		"size":         size,
	}, &pending)
	if err != nil {
		return "", fmt.Errorf("register upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, pending.UploadURL, data)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload data: %w", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode >= 300 {
		return "", fmt.Errorf("upload data: unexpected status %d", res.StatusCode)
	}

	err = c.do(ctx, http.MethodPost, "/api/files/commit", map[string]any{
		"files": []metadata.CommitEntry{{Path: path, BlobID: pending.BlobID, Basis: basis}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return pending.BlobID, nil
}

// Stat returns metadata for the file at path, or (nil, nil) when absent.
func (c *Client) Stat(ctx context.Context, path string) (*metadata.FileMetadata, error) {
	var md metadata.FileMetadata
	err := c.do(ctx, http.MethodGet, "/api/files/stat?path="+url.QueryEscape(path), nil, &md)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// List fetches one page of files under prefix. Pass the previous page's
// ContinueCursor to advance.
func (c *Client) List(ctx context.Context, prefix, cursor string, limit int) (*metadata.Page, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page metadata.Page
	if err := c.do(ctx, http.MethodGet, "/api/files?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DownloadURL returns a time-limited URL for the blob's bytes.
func (c *Client) DownloadURL(ctx context.Context, blobID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodGet, "/api/blobs/"+url.PathEscape(blobID)+"/url", nil, &out)
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// Download fetches the blob's bytes through its download URL.
func (c *Client) Download(ctx context.Context, blobID string) ([]byte, error) {
	u, err := c.DownloadURL(ctx, blobID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: blob %q", ErrNotFound, blobID)
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("download: unexpected status %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// Move relocates a file; the destination must be vacant.
func (c *Client) Move(ctx context.Context, srcPath, destPath string) error {
	return c.do(ctx, http.MethodPost, "/api/files/move", map[string]any{
		"source_path": srcPath,
		"dest_path":   destPath,
	}, nil)
}

// Copy duplicates a file binding; the destination must be vacant.
func (c *Client) Copy(ctx context.Context, srcPath, destPath string) error {
	return c.do(ctx, http.MethodPost, "/api/files/copy", map[string]any{
		"source_path": srcPath,
		"dest_path":   destPath,
	}, nil)
}

// Delete removes the file at path. Absent paths delete cleanly.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/files?path="+url.QueryEscape(path), nil, nil)
}

// Transact submits a journal of operations for atomic application.
func (c *Client) Transact(ctx context.Context, ops []metadata.Op) error {
	return c.do(ctx, http.MethodPost, "/api/files/transact", map[string]any{"ops": ops}, nil)
}

// SetConfig supplies the server's stored configuration.
func (c *Client) SetConfig(ctx context.Context, cfg metadata.Config) error {
	return c.do(ctx, http.MethodPut, "/api/config", cfg, nil)
}

// Stats fetches aggregate server statistics.
func (c *Client) Stats(ctx context.Context) (*metadata.Stats, error) {
	var stats metadata.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// errorBody is the server's error envelope. Conflict responses carry the
// structured conflict alongside the generic message.
type errorBody struct {
	Error    string                  `json:"error"`
	Conflict *metadata.ConflictError `json:"conflict,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var eb errorBody
		if derr := json.NewDecoder(res.Body).Decode(&eb); derr == nil {
			if eb.Conflict != nil {
				return eb.Conflict
			}
			if res.StatusCode == http.StatusNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, eb.Error)
			}
			return fmt.Errorf("server error (%d): %s", res.StatusCode, eb.Error)
		}
		return fmt.Errorf("server error (%d)", res.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}
