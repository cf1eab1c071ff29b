package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// LocalWriter writes corpus items below a root directory on disk.
type LocalWriter struct {
	root   string
	layout Layout
}

// NewLocalWriter creates root if needed and verifies it is a directory.
func NewLocalWriter(root string, layout Layout) (*LocalWriter, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("output root is required")
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(root, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output root: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output root: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output root %s is not a directory", root)
	}
	return &LocalWriter{root: root, layout: layout.normalized()}, nil
}

// Root returns the output directory.
func (w *LocalWriter) Root() string {
	return w.root
}

// Write stores content at the layout path of index. The file appears
// complete or not at all, and existing items are never overwritten.
func (w *LocalWriter) Write(ctx context.Context, content harvest.Content, category harvest.Category, split harvest.Split, index int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if index < 1 {
		return "", fmt.Errorf("invalid index %d", index)
	}
	target := filepath.Join(w.root, filepath.FromSlash(w.layout.RelPath(category, split, index)))
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%s: %w", target, harvest.ErrExists)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(content.Text); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("rename into %s: %w", target, err)
	}
	committed = true
	return target, nil
}

// Remove deletes item index of the pair if it exists.
func (w *LocalWriter) Remove(ctx context.Context, category harvest.Category, split harvest.Split, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(w.root, filepath.FromSlash(w.layout.RelPath(category, split, index)))
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", target, err)
	}
	return nil
}

// Highest returns the largest index persisted for the pair, 0 when none.
func (w *LocalWriter) Highest(_ context.Context, category harvest.Category, split harvest.Split) (int, error) {
	highest := 0
	err := w.scan(category, split, func(idx int) {
		if idx > highest {
			highest = idx
		}
	})
	return highest, err
}

// Count returns how many well-formed items are persisted for the pair.
func (w *LocalWriter) Count(_ context.Context, category harvest.Category, split harvest.Split) (int, error) {
	count := 0
	err := w.scan(category, split, func(int) { count++ })
	return count, err
}

func (w *LocalWriter) scan(category harvest.Category, split harvest.Split, fn func(int)) error {
	dir := filepath.Join(w.root, filepath.FromSlash(w.layout.Dir(category, split)))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if idx, ok := w.layout.ParseIndex(category, entry.Name()); ok {
			fn(idx)
		}
	}
	return nil
}
