package main

import (
	"strings"

	"songpool-api-go/cache"
	"songpool-api-go/stats"
)

// cacheCategories maps dump category names to the key prefixes used by the
// library catalog and the hint service.
var cacheCategories = map[string]string{
	"playlists":       "playlists:",
	"liked_tracks":    "liked:",
	"saved_albums":    "albums:",
	"playlist_tracks": "playlist-tracks:",
	"album_tracks":    "album-tracks:",
	"hints":           "hint:",
	"hint_misses":     "no-hint:",
}

// categorizeKey returns the category a cache key belongs to, or "other".
func categorizeKey(key string) string {
	for name, prefix := range cacheCategories {
		if strings.HasPrefix(key, prefix) {
			return name
		}
	}
	return "other"
}

// buildCacheDump assembles the /cache response. includeEntries controls
// whether the full entry map is attached, the category counts always are.
func buildCacheDump(includeEntries bool) CacheDumpResponse {
	categories := make(map[string]int)
	dump := CacheDump{}

	persistentCache.Range(func(key string, entry cache.Entry) bool {
		categories[categorizeKey(key)]++
		if includeEntries {
			dump[key] = entry
		}
		return true
	})

	numKeys, sizeInKB := persistentCache.Stats()
	s := stats.Get()

	response := CacheDumpResponse{
		NumberOfKeys: numKeys,
		SizeInKB:     sizeInKB,
		SizeInMB:     float64(sizeInKB) / 1024,
		Categories:   categories,
		Performance: CachePerformance{
			Hits:         s.CacheHits.Load(),
			Misses:       s.CacheMisses.Load(),
			NegativeHits: s.NegativeCacheHits.Load(),
			HitRate:      s.CacheHitRate(),
		},
	}
	if includeEntries {
		response.Cache = dump
	}
	return response
}
