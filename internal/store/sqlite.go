package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"statusboard/internal/domain"
)

// SQLite keeps the same JSON document in the single row of state_document.
// updated_at (unix nanos) is bumped in the same transaction as the body and
// never repeats, so every save is observable.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time

	mu sync.Mutex
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db, Now: time.Now}
}

func (s *SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLite) Load(ctx context.Context) (*domain.Document, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM state_document WHERE id=1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotSeeded
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	return Decode([]byte(body))
}

func (s *SQLite) Save(ctx context.Context, doc *domain.Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var prev int64
	err = tx.QueryRowContext(ctx, `SELECT updated_at FROM state_document WHERE id=1`).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotSeeded
	}
	if err != nil {
		return fmt.Errorf("read state revision: %w", err)
	}
	if err := s.write(ctx, tx, data, prev); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Update(ctx context.Context, fn func(doc *domain.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var (
		body string
		prev int64
	)
	err = tx.QueryRowContext(ctx, `SELECT body, updated_at FROM state_document WHERE id=1`).Scan(&body, &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotSeeded
	}
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	doc, err := Decode([]byte(body))
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := s.write(ctx, tx, data, prev); err != nil {
		return err
	}
	return tx.Commit()
}

// write replaces the body and moves updated_at strictly past prev.
func (s *SQLite) write(ctx context.Context, tx *sql.Tx, data []byte, prev int64) error {
	next := s.now().UnixNano()
	if next <= prev {
		next = prev + 1
	}
	if _, err := tx.ExecContext(ctx, `UPDATE state_document SET body=?, updated_at=? WHERE id=1`, string(data), next); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *SQLite) LastModified(ctx context.Context) (time.Time, error) {
	var ts int64
	err := s.DB.QueryRowContext(ctx, `SELECT updated_at FROM state_document WHERE id=1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotSeeded
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ts), nil
}

func (s *SQLite) Seed(ctx context.Context, doc *domain.Document, force bool) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixNano()
	if force {
		_, err = s.DB.ExecContext(ctx, `INSERT INTO state_document(id,body,updated_at) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET body=excluded.body, updated_at=MAX(excluded.updated_at, state_document.updated_at+1)`, string(data), ts)
		return err
	}
	res, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO state_document(id,body,updated_at) VALUES (1,?,?)`, string(data), ts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadySeeded
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}
