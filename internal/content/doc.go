// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package content stores the editable site copy and images.
//
// Text entries are keyed by (key, language) so each page string can be
// translated; image records are keyed by slot name. Every write is announced
// to subscribers, which is how the site and admin panel stay in sync.
//
// # Key Types
//
//   - Store: SQLite-backed repository with change notifications
//   - Entry: one localized text value
//   - Image: one image slot (URL and alt text)
//   - Change: a write notification
//
// # Usage
//
//	store, err := content.Open(ctx, "/var/lib/coachline/content.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	cancel := store.Subscribe(func(c content.Change) {
//	    log.Printf("content changed: %s %s/%s", c.Op, c.Lang, c.Key)
//	})
//	defer cancel()
//
//	err = store.Put(ctx, content.Entry{Key: "hero.title", Lang: "en", Value: "Train smarter"})
package content
