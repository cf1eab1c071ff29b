// Package gcs writes corpus items to a Google Cloud Storage bucket using the
// same relative layout as the local writer.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/output"
)

const contentType = "text/plain; charset=utf-8"

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
	Layout output.Layout
}

// Writer stores corpus items as objects. Object creation is atomic, so no
// temp object is needed.
type Writer struct {
	client *storage.Client
	bucket string
	prefix string
	layout output.Layout
}

// New creates a GCS-backed writer.
func New(client *storage.Client, cfg Config) (*Writer, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Writer{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		layout: cfg.Layout,
	}, nil
}

func (w *Writer) objectName(rel string) string {
	if w.prefix == "" {
		return rel
	}
	return path.Join(w.prefix, rel)
}

// Write uploads content unless the object already exists and returns a gs:// URI.
func (w *Writer) Write(ctx context.Context, content harvest.Content, category harvest.Category, split harvest.Split, index int) (string, error) {
	if index < 1 {
		return "", fmt.Errorf("invalid index %d", index)
	}
	name := w.objectName(w.layout.RelPath(category, split, index))
	obj := w.client.Bucket(w.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write([]byte(content.Text)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("gs://%s/%s: %w", w.bucket, name, harvest.ErrExists)
		}
		return "", fmt.Errorf("close writer for %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, name), nil
}

// Remove deletes the object of item index. A missing object is ignored.
func (w *Writer) Remove(ctx context.Context, category harvest.Category, split harvest.Split, index int) error {
	name := w.objectName(w.layout.RelPath(category, split, index))
	err := w.client.Bucket(w.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", name, err)
	}
	return nil
}

// Highest returns the largest index stored for the pair, 0 when none.
func (w *Writer) Highest(ctx context.Context, category harvest.Category, split harvest.Split) (int, error) {
	highest := 0
	err := w.scan(ctx, category, split, func(idx int) {
		if idx > highest {
			highest = idx
		}
	})
	return highest, err
}

// Count returns how many well-formed objects are stored for the pair.
func (w *Writer) Count(ctx context.Context, category harvest.Category, split harvest.Split) (int, error) {
	count := 0
	err := w.scan(ctx, category, split, func(int) { count++ })
	return count, err
}

func (w *Writer) scan(ctx context.Context, category harvest.Category, split harvest.Split, fn func(int)) error {
	prefix := w.objectName(w.layout.Dir(category, split)) + "/"
	it := w.client.Bucket(w.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		if idx, ok := w.layout.ParseIndex(category, path.Base(attrs.Name)); ok {
			fn(idx)
		}
	}
}
