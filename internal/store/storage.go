package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Storage is the blob storage surface of the store.
type Storage struct {
	c *Client
}

// From selects a bucket.
func (s *Storage) From(bucket string) *Bucket {
	return &Bucket{c: s.c, bucket: bucket}
}

// Bucket addresses one blob storage bucket.
type Bucket struct {
	c      *Client
	bucket string
}

// UploadOptions mirror the store's object options.
type UploadOptions struct {
	CacheControl string
	ContentType  string
	Upsert       bool
	Metadata     map[string]string
}

// Upload writes an object. Attachment and avatar uploads go through here;
// a failure affects only the one object being written.
func (b *Bucket) Upload(ctx context.Context, path string, r io.Reader, opts UploadOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/storage/v1/object/%s/%s", b.c.baseURL, b.bucket, path), r)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", b.c.apiKey)
	req.Header.Set("Authorization", "Bearer "+b.c.bearerToken())
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", "max-age="+opts.CacheControl)
	}
	if opts.Upsert {
		req.Header.Set("x-upsert", "true")
	}
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return err
		}
		req.Header.Set("x-metadata", string(raw))
	}

	start := time.Now()
	resp, err := b.c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage upload %s/%s: %w", b.bucket, path, err)
	}
	defer resp.Body.Close()

	b.c.log.Debug("storage upload",
		"bucket", b.bucket,
		"path", path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// GetPublicURL resolves the public URL for an uploaded object.
func (b *Bucket) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.c.baseURL, b.bucket, path)
}
