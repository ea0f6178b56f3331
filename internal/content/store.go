// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package content

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"golang.org/x/text/language"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound    = errors.New("content not found")
	ErrInvalidKey  = errors.New("invalid content key")
	ErrInvalidLang = errors.New("invalid language tag")
	ErrClosed      = errors.New("content store closed")
)

// =============================================================================
// TYPES
// =============================================================================

// Entry is one localized text value.
type Entry struct {
	Key       string    `json:"key"`
	Lang      string    `json:"lang"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Image is one image slot.
type Image struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Alt       string    `json:"alt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Op is the kind of write.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Kind is the record type that changed.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Change announces a write. Lang is empty for images.
type Change struct {
	Op   Op        `json:"op"`
	Kind Kind      `json:"kind"`
	Key  string    `json:"key"`
	Lang string    `json:"lang,omitempty"`
	At   time.Time `json:"at"`
}

// keyPattern allows dotted, dashed lowercase keys such as "pricing.plan-2.title".
var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// ValidateKey checks a content key.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// NormalizeLang validates a BCP 47 tag and returns its canonical form.
func NormalizeLang(lang string) (string, error) {
	tag, err := language.Parse(lang)
	if err != nil || tag == language.Und {
		return "", fmt.Errorf("%w: %q", ErrInvalidLang, lang)
	}
	return tag.String(), nil
}

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed content repository.
type Store struct {
	db *sql.DB

	mu        sync.RWMutex
	closed    bool
	listeners map[int]func(Change)
	nextID    int
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := Migrate(db, migrate.Up); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, listeners: make(map[int]func(Change))}, nil
}

// Migrate applies the embedded migrations in the given direction and
// returns how many ran.
func Migrate(db *sql.DB, dir migrate.MigrationDirection) (int, error) {
	set := migrate.MigrationSet{TableName: "content_migrations"}
	src := &migrate.EmbedFileSystemMigrationSource{FileSystem: migrationsFS, Root: "migrations"}
	n, err := set.Exec(db, "sqlite3", src, dir)
	if err != nil {
		return n, fmt.Errorf("failed to migrate content schema: %w", err)
	}
	return n, nil
}

// Close closes the database. Subscribers are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.listeners = map[int]func(Change){}
	s.mu.Unlock()
	return s.db.Close()
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn runs on the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// =============================================================================
// TEXT ENTRIES
// =============================================================================

// Get returns the text for key in lang.
func (s *Store) Get(ctx context.Context, lang, key string) (Entry, error) {
	lang, err := NormalizeLang(lang)
	if err != nil {
		return Entry{}, err
	}
	if err := s.checkOpen(); err != nil {
		return Entry{}, err
	}

	var (
		e       Entry
		updated int64
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT key, lang, value, updated_at FROM texts WHERE key = ? AND lang = ?",
		key, lang,
	).Scan(&e.Key, &e.Lang, &e.Value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, lang, key)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read content: %w", err)
	}
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}

// List returns every entry in lang ordered by key.
func (s *Store) List(ctx context.Context, lang string) ([]Entry, error) {
	lang, err := NormalizeLang(lang)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, lang, value, updated_at FROM texts WHERE lang = ? ORDER BY key", lang)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			updated int64
		)
		if err := rows.Scan(&e.Key, &e.Lang, &e.Value, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Put inserts or replaces an entry and returns the stored value.
func (s *Store) Put(ctx context.Context, e Entry) (Entry, error) {
	if err := ValidateKey(e.Key); err != nil {
		return Entry{}, err
	}
	lang, err := NormalizeLang(e.Lang)
	if err != nil {
		return Entry{}, err
	}
	if err := s.checkOpen(); err != nil {
		return Entry{}, err
	}
	e.Lang = lang
	e.UpdatedAt = time.Now().Truncate(time.Millisecond)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO texts (key, lang, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key, lang) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		e.Key, e.Lang, e.Value, e.UpdatedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to write content: %w", err)
	}

	s.notify(Change{Op: OpPut, Kind: KindText, Key: e.Key, Lang: e.Lang, At: e.UpdatedAt})
	return e, nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, lang, key string) error {
	lang, err := NormalizeLang(lang)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM texts WHERE key = ? AND lang = ?", key, lang)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, lang, key)
	}

	s.notify(Change{Op: OpDelete, Kind: KindText, Key: key, Lang: lang, At: time.Now()})
	return nil
}

// =============================================================================
// IMAGES
// =============================================================================

// PutImage inserts or replaces an image slot.
func (s *Store) PutImage(ctx context.Context, img Image) (Image, error) {
	if err := ValidateKey(img.Key); err != nil {
		return Image{}, err
	}
	if img.URL == "" {
		return Image{}, errors.New("image url is required")
	}
	if err := s.checkOpen(); err != nil {
		return Image{}, err
	}
	img.UpdatedAt = time.Now().Truncate(time.Millisecond)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (key, url, alt, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET url = excluded.url, alt = excluded.alt, updated_at = excluded.updated_at`,
		img.Key, img.URL, img.Alt, img.UpdatedAt.UnixMilli())
	if err != nil {
		return Image{}, fmt.Errorf("failed to write image: %w", err)
	}

	s.notify(Change{Op: OpPut, Kind: KindImage, Key: img.Key, At: img.UpdatedAt})
	return img, nil
}

// Image returns one image slot.
func (s *Store) Image(ctx context.Context, key string) (Image, error) {
	if err := s.checkOpen(); err != nil {
		return Image{}, err
	}

	var (
		img     Image
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT key, url, alt, updated_at FROM images WHERE key = ?", key,
	).Scan(&img.Key, &img.URL, &img.Alt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, fmt.Errorf("%w: image %s", ErrNotFound, key)
	}
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	img.UpdatedAt = time.UnixMilli(updated)
	return img, nil
}

// Images returns every image slot ordered by key.
func (s *Store) Images(ctx context.Context) ([]Image, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, url, alt, updated_at FROM images ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	images := []Image{}
	for rows.Next() {
		var (
			img     Image
			updated int64
		)
		if err := rows.Scan(&img.Key, &img.URL, &img.Alt, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.UpdatedAt = time.UnixMilli(updated)
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes an image slot.
func (s *Store) DeleteImage(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: image %s", ErrNotFound, key)
	}

	s.notify(Change{Op: OpDelete, Kind: KindImage, Key: key, At: time.Now()})
	return nil
}
