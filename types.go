package main

import (
	"sync"

	"songpool-api-go/cache"
	"songpool-api-go/services/hints"
)

type contextKey string

const (
	rateLimitTypeKey contextKey = "rateLimitType"
)

// joinRoomRequest is the body for POST /rooms/{roomId}/join
type joinRoomRequest struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
}

// submitSourceRequest is the body for POST /rooms/{roomId}/source.
// Playlists narrows the fetch to the named playlist ids; liked songs and
// saved albums are always included.
type submitSourceRequest struct {
	Identity  string   `json:"identity"`
	Token     string   `json:"token"`
	Playlists []string `json:"playlists,omitempty"`
}

// profileRequest is the body for POST /profile and POST /playlists
type profileRequest struct {
	Identity string `json:"identity,omitempty"`
	Token    string `json:"token"`
}

// CacheDump represents the full cache contents
type CacheDump map[string]cache.Entry

// CachePerformance contains cache hit/miss statistics
type CachePerformance struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	NegativeHits int64   `json:"negative_hits"`
	HitRate      float64 `json:"hit_rate_percent"`
}

// CacheDumpResponse is the response format for /cache endpoint
type CacheDumpResponse struct {
	NumberOfKeys int              `json:"number_of_keys"`
	SizeInKB     int              `json:"size_kb"`
	SizeInMB     float64          `json:"size_mb"`
	Categories   map[string]int   `json:"categories"`
	Performance  CachePerformance `json:"performance"`
	Cache        CacheDump        `json:"cache,omitempty"`
}

// InFlightHint tracks concurrent hint lookups for the same song
type InFlightHint struct {
	wg   sync.WaitGroup
	hint *hints.Hint
	err  error
}
