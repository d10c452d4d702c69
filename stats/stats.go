package stats

import (
	"strings"
	"sync/atomic"
	"time"
)

// Stats holds all server statistics with atomic counters
type Stats struct {
	// Server info
	StartTime time.Time

	// Request counters
	TotalRequests  atomic.Int64
	RoomRequests   atomic.Int64
	PoolRequests   atomic.Int64
	HintRequests   atomic.Int64
	StatsRequests  atomic.Int64
	HealthRequests atomic.Int64
	OtherRequests  atomic.Int64

	// Cache performance
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	NegativeCacheHits atomic.Int64

	// Rate limiting
	RateLimitGame       atomic.Int64 // Requests served under the game tier
	RateLimitManagement atomic.Int64 // Requests served under the management tier
	RateLimitExceeded   atomic.Int64 // Requests rejected (429)

	// Upstream traffic
	UpstreamRequests     atomic.Int64
	UpstreamThrottled    atomic.Int64
	UpstreamServerErrors atomic.Int64
	UpstreamAuthFailures atomic.Int64

	// Aggregation
	AggregationsStarted   atomic.Int64
	AggregationsCompleted atomic.Int64
	AggregationsFailed    atomic.Int64
	SongsAggregated       atomic.Int64

	// Rooms
	RoomsCreated atomic.Int64
	PoolsMerged  atomic.Int64

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Response time tracking (in microseconds for precision)
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	// Endpoint response times (microseconds)
	hintResponseTime  atomic.Int64
	hintResponseCount atomic.Int64

	// Per-player aggregation durations (microseconds)
	aggregationTime  atomic.Int64
	aggregationCount atomic.Int64
}

// Global stats instance
var global = &Stats{
	StartTime: time.Now(),
}

func init() {
	// Initialize min to a high value
	global.minResponseTime.Store(int64(^uint64(0) >> 1)) // Max int64
}

// Get returns the global stats instance
func Get() *Stats {
	return global
}

// RecordRequest records a request to a specific endpoint
func (s *Stats) RecordRequest(endpoint string) {
	s.TotalRequests.Add(1)
	switch {
	case strings.HasSuffix(endpoint, "/pool"):
		s.PoolRequests.Add(1)
	case strings.HasSuffix(endpoint, "/hint"):
		s.HintRequests.Add(1)
	case strings.HasPrefix(endpoint, "/rooms") || strings.HasPrefix(endpoint, "/ws"):
		s.RoomRequests.Add(1)
	case endpoint == "/stats":
		s.StatsRequests.Add(1)
	case endpoint == "/health":
		s.HealthRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
}

// RecordCacheHit records a cache hit
func (s *Stats) RecordCacheHit() {
	s.CacheHits.Add(1)
}

// RecordCacheMiss records a cache miss
func (s *Stats) RecordCacheMiss() {
	s.CacheMisses.Add(1)
}

// RecordNegativeCacheHit records a negative cache hit
func (s *Stats) RecordNegativeCacheHit() {
	s.NegativeCacheHits.Add(1)
}

// RecordRateLimit records rate limit tier usage
func (s *Stats) RecordRateLimit(tier string) {
	switch tier {
	case "game":
		s.RateLimitGame.Add(1)
	case "management":
		s.RateLimitManagement.Add(1)
	case "exceeded":
		s.RateLimitExceeded.Add(1)
	}
}

// RecordUpstreamRequest records one attempt sent upstream
func (s *Stats) RecordUpstreamRequest() {
	s.UpstreamRequests.Add(1)
}

// RecordUpstreamThrottle records a 429 received from upstream
func (s *Stats) RecordUpstreamThrottle() {
	s.UpstreamThrottled.Add(1)
}

// RecordUpstreamServerError records a 5xx received from upstream
func (s *Stats) RecordUpstreamServerError() {
	s.UpstreamServerErrors.Add(1)
}

// RecordUpstreamAuthFailure records a credential rejection from upstream
func (s *Stats) RecordUpstreamAuthFailure() {
	s.UpstreamAuthFailures.Add(1)
}

// RecordAggregationStarted records the start of a per-player aggregation
func (s *Stats) RecordAggregationStarted() {
	s.AggregationsStarted.Add(1)
}

// RecordAggregationDone records a completed per-player aggregation
func (s *Stats) RecordAggregationDone(songs int, duration time.Duration) {
	s.AggregationsCompleted.Add(1)
	s.SongsAggregated.Add(int64(songs))
	s.aggregationTime.Add(duration.Microseconds())
	s.aggregationCount.Add(1)
}

// RecordAggregationFailed records a per-player aggregation that gave up
func (s *Stats) RecordAggregationFailed() {
	s.AggregationsFailed.Add(1)
}

// RecordRoomCreated records a newly created room
func (s *Stats) RecordRoomCreated() {
	s.RoomsCreated.Add(1)
}

// RecordPoolMerged records a room pool being merged and shuffled
func (s *Stats) RecordPoolMerged() {
	s.PoolsMerged.Add(1)
}

// RecordStatusCode records a response status code
func (s *Stats) RecordStatusCode(code int) {
	switch {
	case code >= 200 && code < 300:
		s.Status2xx.Add(1)
	case code >= 400 && code < 500:
		s.Status4xx.Add(1)
	case code >= 500:
		s.Status5xx.Add(1)
	}
}

// RecordResponseTime records a response time
func (s *Stats) RecordResponseTime(duration time.Duration, endpoint string) {
	us := duration.Microseconds()

	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	// Update min/max atomically
	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}

	// Track hint-specific response times
	if strings.HasSuffix(endpoint, "/hint") {
		s.hintResponseTime.Add(us)
		s.hintResponseCount.Add(1)
	}
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate returns the cache hit rate as a percentage
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load()
	misses := s.CacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	count := s.responseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.totalResponseTime.Load()/count) * time.Microsecond
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == int64(^uint64(0)>>1) {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// AvgHintResponseTime returns the average response time for hint requests
func (s *Stats) AvgHintResponseTime() time.Duration {
	count := s.hintResponseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.hintResponseTime.Load()/count) * time.Microsecond
}

// AvgAggregationTime returns the average duration of a per-player aggregation
func (s *Stats) AvgAggregationTime() time.Duration {
	count := s.aggregationCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.aggregationTime.Load()/count) * time.Microsecond
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":  s.TotalRequests.Load(),
			"rooms":  s.RoomRequests.Load(),
			"pool":   s.PoolRequests.Load(),
			"hints":  s.HintRequests.Load(),
			"stats":  s.StatsRequests.Load(),
			"health": s.HealthRequests.Load(),
			"other":  s.OtherRequests.Load(),
		},
		"cache": map[string]interface{}{
			"hits":          s.CacheHits.Load(),
			"misses":        s.CacheMisses.Load(),
			"negative_hits": s.NegativeCacheHits.Load(),
			"hit_rate":      s.CacheHitRate(),
		},
		"rate_limiting": map[string]interface{}{
			"game_tier":       s.RateLimitGame.Load(),
			"management_tier": s.RateLimitManagement.Load(),
			"exceeded":        s.RateLimitExceeded.Load(),
		},
		"upstream": map[string]interface{}{
			"requests":      s.UpstreamRequests.Load(),
			"throttled":     s.UpstreamThrottled.Load(),
			"server_errors": s.UpstreamServerErrors.Load(),
			"auth_failures": s.UpstreamAuthFailures.Load(),
		},
		"aggregation": map[string]interface{}{
			"started":       s.AggregationsStarted.Load(),
			"completed":     s.AggregationsCompleted.Load(),
			"failed":        s.AggregationsFailed.Load(),
			"songs":         s.SongsAggregated.Load(),
			"avg_duration":  s.AvgAggregationTime().String(),
			"rooms_created": s.RoomsCreated.Load(),
			"pools_merged":  s.PoolsMerged.Load(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": map[string]interface{}{
			"avg":      s.AvgResponseTime().String(),
			"min":      s.MinResponseTime().String(),
			"max":      s.MaxResponseTime().String(),
			"avg_hint": s.AvgHintResponseTime().String(),
		},
	}
}
