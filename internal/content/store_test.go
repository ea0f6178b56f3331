// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package content

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "content.db")

	store, err := Open(context.Background(), path)
	require.NoError(t, err)

	n, err := Migrate(store.db, migrate.Up)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second run should be a no-op")
	require.NoError(t, store.Close())

	// Reopen keeps data and schema
	store, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()
}

func TestPutGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	saved, err := store.Put(ctx, Entry{Key: "hero.title", Lang: "EN", Value: "Train smarter"})
	require.NoError(t, err)
	assert.Equal(t, "en", saved.Lang, "language tag is canonicalized")
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err := store.Get(ctx, "en", "hero.title")
	require.NoError(t, err)
	assert.Equal(t, "Train smarter", got.Value)
	assert.Equal(t, saved.UpdatedAt.UnixMilli(), got.UpdatedAt.UnixMilli())

	// Overwrite
	_, err = store.Put(ctx, Entry{Key: "hero.title", Lang: "en", Value: "Lift better"})
	require.NoError(t, err)
	got, err = store.Get(ctx, "en", "hero.title")
	require.NoError(t, err)
	assert.Equal(t, "Lift better", got.Value)
}

func TestGet_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "en", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_ScopedByLanguage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, e := range []Entry{
		{Key: "b.key", Lang: "en", Value: "B"},
		{Key: "a.key", Lang: "en", Value: "A"},
		{Key: "a.key", Lang: "fr", Value: "A-fr"},
	} {
		_, err := store.Put(ctx, e)
		require.NoError(t, err)
	}

	en, err := store.List(ctx, "en")
	require.NoError(t, err)
	require.Len(t, en, 2)
	assert.Equal(t, "a.key", en[0].Key)
	assert.Equal(t, "b.key", en[1].Key)

	fr, err := store.List(ctx, "fr")
	require.NoError(t, err)
	require.Len(t, fr, 1)
	assert.Equal(t, "A-fr", fr[0].Value)

	de, err := store.List(ctx, "de")
	require.NoError(t, err)
	assert.Empty(t, de)
	assert.NotNil(t, de)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, Entry{Key: "faq.1", Lang: "en", Value: "Q"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "en", "faq.1"))
	_, err = store.Get(ctx, "en", "faq.1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "en", "faq.1"), ErrNotFound)
}

func TestValidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{"empty key", Entry{Key: "", Lang: "en"}, ErrInvalidKey},
		{"uppercase key", Entry{Key: "Hero", Lang: "en"}, ErrInvalidKey},
		{"space in key", Entry{Key: "hero title", Lang: "en"}, ErrInvalidKey},
		{"empty lang", Entry{Key: "hero", Lang: ""}, ErrInvalidLang},
		{"bad lang", Entry{Key: "hero", Lang: "not a tag"}, ErrInvalidLang},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Put(ctx, tt.entry)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNormalizeLang(t *testing.T) {
	got, err := NormalizeLang("fr-ca")
	require.NoError(t, err)
	assert.Equal(t, "fr-CA", got)

	_, err = NormalizeLang("und")
	assert.ErrorIs(t, err, ErrInvalidLang)
}

func TestImages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.PutImage(ctx, Image{Key: "hero", URL: "https://cdn.example/hero.jpg", Alt: "Coach"})
	require.NoError(t, err)
	_, err = store.PutImage(ctx, Image{Key: "about", URL: "https://cdn.example/about.jpg"})
	require.NoError(t, err)

	img, err := store.Image(ctx, "hero")
	require.NoError(t, err)
	assert.Equal(t, "Coach", img.Alt)

	all, err := store.Images(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "about", all[0].Key)

	_, err = store.PutImage(ctx, Image{Key: "empty"})
	assert.Error(t, err)

	require.NoError(t, store.DeleteImage(ctx, "hero"))
	_, err = store.Image(ctx, "hero")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribe(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		changes []Change
	)
	cancel := store.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	_, err := store.Put(ctx, Entry{Key: "hero.title", Lang: "en", Value: "x"})
	require.NoError(t, err)
	_, err = store.PutImage(ctx, Image{Key: "hero", URL: "u"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "en", "hero.title"))

	// Failed writes are not announced
	_ = store.Delete(ctx, "en", "hero.title")

	cancel()
	_, err = store.Put(ctx, Entry{Key: "after", Lang: "en", Value: "x"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)
	assert.Equal(t, Change{Op: OpPut, Kind: KindText, Key: "hero.title", Lang: "en", At: changes[0].At}, changes[0])
	assert.Equal(t, KindImage, changes[1].Kind)
	assert.Equal(t, OpDelete, changes[2].Op)
}

func TestClosedStore(t *testing.T) {
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Get(context.Background(), "en", "x")
	assert.ErrorIs(t, err, ErrClosed)
}
