package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMediaTTL is how long a published image stays downloadable.
const DefaultMediaTTL = time.Hour

// ErrNoBaseURL is returned by Publish when no public base URL is configured.
var ErrNoBaseURL = errors.New("media cache has no public base URL")

type mediaItem struct {
	data    []byte
	expires time.Time
}

// MediaCache holds rendered images for transports that fetch media by URL.
// It implements messaging.MediaPublisher.
type MediaCache struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	items map[string]mediaItem
}

// NewMediaCache creates a cache whose URLs are baseURL + "/media/{id}".
func NewMediaCache(baseURL string, ttl time.Duration) *MediaCache {
	if ttl <= 0 {
		ttl = DefaultMediaTTL
	}
	return &MediaCache{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]mediaItem),
	}
}

// Publish stores img and returns its public URL.
func (c *MediaCache) Publish(img []byte) (string, error) {
	if c.baseURL == "" {
		return "", ErrNoBaseURL
	}
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.items[id] = mediaItem{data: img, expires: c.now().Add(c.ttl)}
	return c.baseURL + "/media/" + id, nil
}

// Get returns an unexpired image.
func (c *MediaCache) Get(id string) ([]byte, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok || !c.now().Before(item.expires) {
		return nil, false
	}
	return item.data, true
}

func (c *MediaCache) pruneLocked() {
	now := c.now()
	for id, item := range c.items {
		if !now.Before(item.expires) {
			delete(c.items, id)
		}
	}
}
