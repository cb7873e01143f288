package blob

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BunnyConfig parameterizes the Bunny storage-zone backend.
type BunnyConfig struct {
	// StorageEndpoint is the storage API host, e.g. "storage.bunnycdn.com".
	StorageEndpoint string `json:"storage_endpoint"`
	// Zone is the storage zone name.
	Zone string `json:"zone"`
	// AccessKey authenticates storage API requests.
	AccessKey string `json:"access_key"`
	// CDNBase is the pull-zone base URL, e.g. "https://myzone.b-cdn.net".
	CDNBase string `json:"cdn_base"`
	// TokenKey signs time-limited CDN download URLs. Leave empty to
	// disable signing (SignDownload then reports unsupported).
	TokenKey string `json:"token_key,omitempty"`
}

func (c BunnyConfig) validate() error {
	if c.StorageEndpoint == "" || c.Zone == "" || c.AccessKey == "" {
		return errors.New("bunny backend requires storage_endpoint, zone and access_key")
	}
	if c.CDNBase == "" {
		return errors.New("bunny backend requires cdn_base")
	}
	return nil
}

// Bunny talks to the Bunny storage API for object I/O and mints token-
// authenticated CDN URLs for downloads. Signed uploads are not supported;
// clients upload through the server proxy.
type Bunny struct {
	cfg    BunnyConfig
	client *http.Client
}

func NewBunny(cfg BunnyConfig) *Bunny {
	return &Bunny{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bunny) objectURL(key string) string {
	return fmt.Sprintf("https://%s/%s/%s", b.cfg.StorageEndpoint, b.cfg.Zone, url.PathEscape(key))
}

func (b *Bunny) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.objectURL(key), body)
	if err != nil {
		return fmt.Errorf("failed to build storage request: %w", err)
	}
	req.Header.Set("AccessKey", b.cfg.AccessKey)
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.ContentLength >= 0 {
		req.ContentLength = opts.ContentLength
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage put failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("storage put returned %s", resp.Status)
	}
	return nil
}

func (b *Bunny) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage request: %w", err)
	}
	req.Header.Set("AccessKey", b.cfg.AccessKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage get failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("storage get returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage response: %w", err)
	}
	return data, nil
}

func (b *Bunny) Delete(ctx context.Context, key string) (DeleteStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.objectURL(key), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build storage request: %w", err)
	}
	req.Header.Set("AccessKey", b.cfg.AccessKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage delete failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NotFound, nil
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("storage delete returned %s", resp.Status)
	}
	return Deleted, nil
}

func (b *Bunny) SignUpload(key string, expiresIn time.Duration) (string, error) {
	return "", ErrUnsupported
}

// SignDownload builds a Bunny token-authentication URL: the token is the
// url-safe base64 of sha256(tokenKey + path + expires), carried alongside
// the expiry as query parameters.
func (b *Bunny) SignDownload(key string, expiresIn time.Duration) (string, error) {
	if b.cfg.TokenKey == "" {
		return "", ErrUnsupported
	}
	path := "/" + url.PathEscape(key)
	expires := time.Now().Add(expiresIn).Unix()

	sum := sha256.Sum256([]byte(b.cfg.TokenKey + path + strconv.FormatInt(expires, 10)))
	token := base64.URLEncoding.EncodeToString(sum[:])
	token = strings.TrimRight(token, "=")

	q := url.Values{}
	q.Set("token", token)
	q.Set("expires", strconv.FormatInt(expires, 10))
	return strings.TrimRight(b.cfg.CDNBase, "/") + path + "?" + q.Encode(), nil
}
