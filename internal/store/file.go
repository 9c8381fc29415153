package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"statusboard/internal/domain"
)

// File keeps the document as a pretty-printed JSON file. Writes go to a
// temporary file in the same directory which is then renamed over Path.
type File struct {
	Path string

	mu sync.Mutex
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Load(ctx context.Context) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotSeeded, f.Path)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return Decode(data)
}

func (f *File) Save(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(doc)
}

func (f *File) Update(ctx context.Context, fn func(doc *domain.Document) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.write(doc)
}

// write must be called with f.mu held.
func (f *File) write(doc *domain.Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(f.Path, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (f *File) LastModified(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Seed writes doc as the initial document.
func (f *File) Seed(ctx context.Context, doc *domain.Document, force bool) error {
	if !force {
		if _, err := os.Stat(f.Path); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadySeeded, f.Path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return f.Save(ctx, doc)
}

func (f *File) Close() error { return nil }
