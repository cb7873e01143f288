package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// S3Config parameterizes an S3-compatible backend (AWS, MinIO, R2, ...).
// Requests are path-style: {endpoint}/{bucket}/{key}.
type S3Config struct {
	Endpoint  string `json:"endpoint"` // e.g. "https://s3.us-east-1.amazonaws.com"
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

func (c S3Config) validate() error {
	if c.Endpoint == "" || c.Region == "" || c.Bucket == "" {
		return errors.New("s3 backend requires endpoint, region and bucket")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("s3 backend requires access_key and secret_key")
	}
	return nil
}

// S3 talks to an S3-compatible object store with SigV4 header signing for
// direct I/O and query presigning for client-facing URLs.
type S3 struct {
	cfg    S3Config
	signer signerV4
	client *http.Client
	now    func() time.Time
}

func NewS3(cfg S3Config) *S3 {
	return &S3{
		cfg:    cfg,
		signer: signerV4{accessKey: cfg.AccessKey, secretKey: cfg.SecretKey, region: cfg.Region},
		client: &http.Client{Timeout: 60 * time.Second},
		now:    time.Now,
	}
}

func (s *S3) objectURL(key string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid s3 endpoint: %w", err)
	}
	u.Path = "/" + s.cfg.Bucket + "/" + key
	return u, nil
}

func (s *S3) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	// The payload hash is part of the signature, so the body is buffered
	// once here.
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}
	u, err := s.objectURL(key)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build storage request: %w", err)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	sum := sha256.Sum256(data)
	s.signer.Sign(req, hex.EncodeToString(sum[:]), s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage put failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("storage put returned %s", resp.Status)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage request: %w", err)
	}
	s.signer.Sign(req, unsignedPayload, s.now())

	resp, err := s.client.Do(req)
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

func (s *S3) Delete(ctx context.Context, key string) (DeleteStatus, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build storage request: %w", err)
	}
	s.signer.Sign(req, unsignedPayload, s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage delete failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	// S3 DELETE returns 204 whether or not the key existed; 404 only
	// appears on some compatible stores. Both count as done.
	case resp.StatusCode == http.StatusNotFound:
		return NotFound, nil
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("storage delete returned %s", resp.Status)
	}
	return Deleted, nil
}

func (s *S3) SignUpload(key string, expiresIn time.Duration) (string, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return "", err
	}
	return s.signer.Presign(http.MethodPut, *u, s.now(), expiresIn), nil
}

func (s *S3) SignDownload(key string, expiresIn time.Duration) (string, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return "", err
	}
	return s.signer.Presign(http.MethodGet, *u, s.now(), expiresIn), nil
}
