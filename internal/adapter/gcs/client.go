// Package gcs downloads input files from a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ObjectStore lists and downloads bucket objects.
type ObjectStore interface {
	// ListObjects calls fn for each object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(name string, size int64) error) error
	// Download opens an object for reading. The caller closes it.
	Download(ctx context.Context, bucket, name string) (io.ReadCloser, error)
}

// Client is an ObjectStore backed by the GCS API.
type Client struct {
	client *storage.Client
}

var _ ObjectStore = (*Client)(nil)

// NewClient creates a GCS client. Anonymous clients can read public buckets
// without credentials.
func NewClient(ctx context.Context, anonymous bool) (*Client, error) {
	var opts []option.ClientOption
	if anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Client{client: c}, nil
}

func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, fn func(name string, size int64) error) error {
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
		}
		if err := fn(attrs.Name, attrs.Size); err != nil {
			return err
		}
	}
}

func (c *Client) Download(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	r, err := c.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, name, err)
	}
	return r, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}
