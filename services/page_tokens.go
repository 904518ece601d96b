package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"social-inbox/models"
)

// TokenSource resolves the bearer credential of a page
type TokenSource interface {
	Token(pageID string) (string, error)
}

// PageTokenCache keeps page credentials in memory. It is filled from the page
// store, which the seed file loader populates.
type PageTokenCache struct {
	store PageStore
	mu    sync.RWMutex
	pages map[string]models.Page
}

// NewPageTokenCache creates an empty cache over store
func NewPageTokenCache(store PageStore) *PageTokenCache {
	return &PageTokenCache{
		store: store,
		pages: make(map[string]models.Page),
	}
}

// Refresh reloads every page from the store
func (c *PageTokenCache) Refresh(ctx context.Context) error {
	pages, err := c.store.ListPages(ctx)
	if err != nil {
		return fmt.Errorf("loading pages: %w", err)
	}

	next := make(map[string]models.Page, len(pages))
	for _, p := range pages {
		next[p.PageID] = p
	}

	c.mu.Lock()
	c.pages = next
	c.mu.Unlock()

	slog.Info("Page credentials refreshed", "pages", len(next))
	return nil
}

// Upsert stores page and updates the cache at once
func (c *PageTokenCache) Upsert(ctx context.Context, page models.Page) error {
	if err := c.store.UpsertPage(ctx, &page); err != nil {
		return err
	}
	c.mu.Lock()
	c.pages[page.PageID] = page
	c.mu.Unlock()
	return nil
}

// Token returns the access token for pageID
func (c *PageTokenCache) Token(pageID string) (string, error) {
	page, ok := c.Page(pageID)
	if !ok || page.AccessToken == "" {
		return "", fmt.Errorf("no credential for page %s: %w", pageID, ErrNotFound)
	}
	return page.AccessToken, nil
}

// Page returns the cached page
func (c *PageTokenCache) Page(pageID string) (models.Page, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	page, ok := c.pages[pageID]
	return page, ok
}

// PageName returns the page display name, or the id when unknown
func (c *PageTokenCache) PageName(pageID string) string {
	if page, ok := c.Page(pageID); ok && page.Name != "" {
		return page.Name
	}
	return pageID
}

// StartRefresher reloads the cache every interval until ctx is done
func (c *PageTokenCache) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					slog.Error("Failed to refresh page credentials", "error", err)
				}
			}
		}
	}()
}
