package library

import (
	"context"
	"encoding/json"
	"time"

	"songpool-api-go/cache"
	"songpool-api-go/logcolors"
	"songpool-api-go/services/spotify"
	"songpool-api-go/stats"

	log "github.com/sirupsen/logrus"
)

// Catalog is the slice of a player's streaming library the aggregator reads.
// *spotify.Client implements it; CachedCatalog wraps any implementation with
// a TTL cache.
type Catalog interface {
	Playlists(ctx context.Context, identity, token string) ([]spotify.Playlist, error)
	LikedTracks(ctx context.Context, identity, token string) ([]spotify.Track, error)
	SavedAlbums(ctx context.Context, identity, token string) ([]spotify.Album, error)
	PlaylistTracks(ctx context.Context, identity, token, playlistID string) ([]spotify.Track, error)
	AlbumTracks(ctx context.Context, identity, token, albumID string) ([]spotify.Track, error)
}

// TTLConfig sets how long each resource category stays cached. Volatile
// listings (liked songs) get short TTLs, immutable ones (album tracks) keep
// their entries for days.
type TTLConfig struct {
	Playlists      time.Duration
	LikedTracks    time.Duration
	SavedAlbums    time.Duration
	PlaylistTracks time.Duration
	AlbumTracks    time.Duration
}

// CachedCatalog serves library listings from the persistent cache and falls
// back to the wrapped Catalog on a miss. Values are stored as JSON under keys
// namespaced by category and identity.
type CachedCatalog struct {
	inner Catalog
	store *cache.PersistentCache
	ttl   TTLConfig
}

func NewCachedCatalog(inner Catalog, store *cache.PersistentCache, ttl TTLConfig) *CachedCatalog {
	return &CachedCatalog{inner: inner, store: store, ttl: ttl}
}

func (c *CachedCatalog) Playlists(ctx context.Context, identity, token string) ([]spotify.Playlist, error) {
	key := "playlists:" + identity
	var cached []spotify.Playlist
	if c.lookup(key, &cached) {
		return cached, nil
	}
	fresh, err := c.inner.Playlists(ctx, identity, token)
	if err != nil {
		return nil, err
	}
	c.put(key, fresh, c.ttl.Playlists)
	return fresh, nil
}

func (c *CachedCatalog) LikedTracks(ctx context.Context, identity, token string) ([]spotify.Track, error) {
	key := "liked:" + identity
	var cached []spotify.Track
	if c.lookup(key, &cached) {
		return cached, nil
	}
	fresh, err := c.inner.LikedTracks(ctx, identity, token)
	if err != nil {
		return nil, err
	}
	c.put(key, fresh, c.ttl.LikedTracks)
	return fresh, nil
}

func (c *CachedCatalog) SavedAlbums(ctx context.Context, identity, token string) ([]spotify.Album, error) {
	key := "albums:" + identity
	var cached []spotify.Album
	if c.lookup(key, &cached) {
		return cached, nil
	}
	fresh, err := c.inner.SavedAlbums(ctx, identity, token)
	if err != nil {
		return nil, err
	}
	c.put(key, fresh, c.ttl.SavedAlbums)
	return fresh, nil
}

func (c *CachedCatalog) PlaylistTracks(ctx context.Context, identity, token, playlistID string) ([]spotify.Track, error) {
	key := "playlist-tracks:" + identity + ":" + playlistID
	var cached []spotify.Track
	if c.lookup(key, &cached) {
		return cached, nil
	}
	fresh, err := c.inner.PlaylistTracks(ctx, identity, token, playlistID)
	if err != nil {
		return nil, err
	}
	c.put(key, fresh, c.ttl.PlaylistTracks)
	return fresh, nil
}

func (c *CachedCatalog) AlbumTracks(ctx context.Context, identity, token, albumID string) ([]spotify.Track, error) {
	key := "album-tracks:" + identity + ":" + albumID
	var cached []spotify.Track
	if c.lookup(key, &cached) {
		return cached, nil
	}
	fresh, err := c.inner.AlbumTracks(ctx, identity, token, albumID)
	if err != nil {
		return nil, err
	}
	c.put(key, fresh, c.ttl.AlbumTracks)
	return fresh, nil
}

// InvalidateUser evicts every cached listing for one identity, e.g. when a
// player asks for a forced refresh. Returns the number of entries removed.
func (c *CachedCatalog) InvalidateUser(identity string) int {
	removed := 0
	for _, key := range []string{"playlists:" + identity, "liked:" + identity, "albums:" + identity} {
		if _, ok := c.store.Get(key); ok {
			if err := c.store.Delete(key); err != nil {
				log.Errorf("%s Error invalidating %s: %v", logcolors.LogCache, key, err)
				continue
			}
			removed++
		}
	}
	for _, prefix := range []string{"playlist-tracks:" + identity + ":", "album-tracks:" + identity + ":"} {
		n, err := c.store.DeletePrefix(prefix)
		if err != nil {
			log.Errorf("%s Error invalidating %s*: %v", logcolors.LogCache, prefix, err)
			continue
		}
		removed += n
	}
	if removed > 0 {
		log.Infof("%s Invalidated %d cached listings for %s", logcolors.LogCache, removed, logcolors.Identity(identity))
	}
	return removed
}

// lookup reads and decodes one cached listing. Entries that no longer decode
// are evicted so the next fetch repopulates them.
func (c *CachedCatalog) lookup(key string, out any) bool {
	raw, ok := c.store.Get(key)
	if !ok {
		stats.Get().RecordCacheMiss()
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Warnf("%s Dropping undecodable entry %s: %v", logcolors.LogCache, key, err)
		c.store.Delete(key)
		stats.Get().RecordCacheMiss()
		return false
	}
	stats.Get().RecordCacheHit()
	return true
}

func (c *CachedCatalog) put(key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("%s Error marshaling value for %s: %v", logcolors.LogCache, key, err)
		return
	}
	if err := c.store.Set(key, string(data), ttl); err != nil {
		log.Errorf("%s Error setting cache value: %v", logcolors.LogCache, err)
	}
}
