// Package history keeps the per-user set of normalized win texts used to
// suppress duplicate submissions.
//
// The cache is rebuilt from the store once at startup and appended to on every
// submission. It is never invalidated by other processes, so only a single
// process may run against a given store (see internal/lockfile).
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/BTreeMap/AlterEgo/internal/store"
)

// Normalize folds case, strips punctuation and symbols, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Cache is the in-memory history cache. Safe for concurrent use.
type Cache struct {
	store store.Store

	mu      sync.RWMutex
	entries map[string]map[string]struct{}
	loaded  bool
}

// NewCache creates an empty cache backed by st.
func NewCache(st store.Store) *Cache {
	return &Cache{
		store:   st,
		entries: make(map[string]map[string]struct{}),
	}
}

// Load rebuilds the cache from every persisted entry. Calling it again is a no-op.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	wins, err := c.store.ListHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load win history: %w", err)
	}
	for _, w := range wins {
		c.addLocked(w.UserID, Normalize(w.Text))
	}
	c.loaded = true
	slog.Info("history.Cache.Load: rehydrated", "entries", len(wins), "users", len(c.entries))
	return nil
}

func (c *Cache) addLocked(userID, norm string) {
	set, ok := c.entries[userID]
	if !ok {
		set = make(map[string]struct{})
		c.entries[userID] = set
	}
	set[norm] = struct{}{}
}

// Contains reports whether the normalized form of text was already submitted by the user.
func (c *Cache) Contains(userID, text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[userID][Normalize(text)]
	return ok
}

// Len returns the number of distinct normalized entries for the user.
func (c *Cache) Len(userID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[userID])
}

// Submit persists the raw text and records its normalized form. duplicate is
// true when the normalized form was already present; the raw row is still
// persisted in that case. Nothing is cached when persistence fails.
//
// The store write runs outside the cache lock. Callers serialize submissions
// for one user (the engine holds a per-user lock), so the duplicate check and
// the insert cannot interleave for the same user.
func (c *Cache) Submit(ctx context.Context, userID, text string) (duplicate bool, err error) {
	norm := Normalize(text)

	c.mu.RLock()
	_, duplicate = c.entries[userID][norm]
	c.mu.RUnlock()

	if err := c.store.AppendHistory(ctx, userID, text); err != nil {
		return false, fmt.Errorf("failed to append history: %w", err)
	}

	c.mu.Lock()
	c.addLocked(userID, norm)
	c.mu.Unlock()
	return duplicate, nil
}
