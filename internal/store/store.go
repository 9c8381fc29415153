// Package store persists the state document. Backends guarantee that a
// reader never observes a partially written document.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"statusboard/internal/domain"
)

var (
	// ErrCorruptState means the persisted bytes are not a well-formed document.
	ErrCorruptState = errors.New("corrupt state document")
	// ErrNotSeeded means no document exists yet; the service never creates one itself.
	ErrNotSeeded = errors.New("state document not seeded")
	// ErrAlreadySeeded is returned by Seed when a document exists and force is off.
	ErrAlreadySeeded = errors.New("state document already exists")
)

// Store is the read/replace contract used by the engine and the notifier.
type Store interface {
	Load(ctx context.Context) (*domain.Document, error)
	Save(ctx context.Context, doc *domain.Document) error
	// Update loads the document, passes it to fn and saves the result,
	// holding the backend's write lock throughout. Nothing is written when
	// fn returns an error.
	Update(ctx context.Context, fn func(doc *domain.Document) error) error
	// LastModified changes whenever a Save completes. Two saves within the
	// clock granularity of the backend may report the same value.
	LastModified(ctx context.Context) (time.Time, error)
}

// Backend is a Store that can also be seeded and closed.
type Backend interface {
	Store
	Seed(ctx context.Context, doc *domain.Document, force bool) error
	Close() error
}

// Decode parses and shape-checks a persisted document.
func Decode(data []byte) (*domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return &doc, nil
}

// Encode renders doc indented with two spaces, fields in declared order.
func Encode(doc *domain.Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode state document: %w", err)
	}
	return buf.Bytes(), nil
}
