package hints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"songpool-api-go/cache"
	"songpool-api-go/logcolors"
	"songpool-api-go/services/pool"
	"songpool-api-go/stats"

	log "github.com/sirupsen/logrus"
)

// ErrNoLyric reports that no provider has a usable lyric for a song. Callers
// treat it as "this song has no hint", not as a failure.
var ErrNoLyric = errors.New("no lyric found")

// Lyric is a fetched lyric, reduced to plain text lines in playback order.
type Lyric struct {
	Lines    []string
	Provider string
	Score    float64
}

// Provider fetches lyrics for one track from an upstream source.
type Provider interface {
	Name() string
	FetchLyric(ctx context.Context, title, artist string, durationMS int) (*Lyric, error)
}

// Hint is what the game shows while a song plays: the opening lyric lines
// with the title blanked out so they cannot give the answer away.
type Hint struct {
	SongID   string   `json:"songId"`
	Lines    []string `json:"lines"`
	Provider string   `json:"provider"`
}

// CacheKey returns the cache key a song's hint is stored under.
func CacheKey(songID string) string {
	return "hint:" + songID
}

// MissKey returns the cache key marking a song as having no lyric.
func MissKey(songID string) string {
	return "no-hint:" + songID
}

// Config tunes hint shaping and caching. Zero values fall back to defaults.
type Config struct {
	MaxLines int           // opening lines per hint
	TTL      time.Duration // successful hints
	MissTTL  time.Duration // negative entries for songs with no lyric
}

// Service turns pool songs into gameplay hints, caching both hits and
// misses.
type Service struct {
	provider Provider
	store    *cache.PersistentCache
	cfg      Config
}

func NewService(provider Provider, store *cache.PersistentCache, cfg Config) *Service {
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = 3
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 720 * time.Hour
	}
	if cfg.MissTTL <= 0 {
		cfg.MissTTL = 24 * time.Hour
	}
	return &Service{provider: provider, store: store, cfg: cfg}
}

// Hint returns the cached hint for a song or builds one through the
// provider. Songs without a lyric are remembered so repeat lookups do not
// burn upstream requests.
func (s *Service) Hint(ctx context.Context, song pool.Song) (*Hint, error) {
	if song.ID == "" {
		return nil, fmt.Errorf("song has no identity")
	}

	key := CacheKey(song.ID)
	if raw, ok := s.store.Get(key); ok {
		var hint Hint
		if err := json.Unmarshal([]byte(raw), &hint); err == nil {
			stats.Get().RecordCacheHit()
			return &hint, nil
		}
		log.Warnf("%s Dropping undecodable hint entry %s", logcolors.LogHints, key)
		s.store.Delete(key)
	}
	if _, ok := s.store.Get(MissKey(song.ID)); ok {
		stats.Get().RecordNegativeCacheHit()
		return nil, fmt.Errorf("hint for %q: %w", song.Title, ErrNoLyric)
	}
	stats.Get().RecordCacheMiss()

	lyric, err := s.provider.FetchLyric(ctx, song.Title, song.Artist, song.DurationMS)
	if err == nil && len(lyric.Lines) == 0 {
		err = fmt.Errorf("%w: provider returned an empty lyric", ErrNoLyric)
	}
	if err != nil {
		if errors.Is(err, ErrNoLyric) {
			if cacheErr := s.store.Set(MissKey(song.ID), s.provider.Name(), s.cfg.MissTTL); cacheErr != nil {
				log.Errorf("%s Error caching miss for %s: %v", logcolors.LogHints, song.ID, cacheErr)
			}
			log.Debugf("%s No lyric for %q by %q: %v", logcolors.LogHints, song.Title, song.Artist, err)
		}
		return nil, err
	}

	lines := lyric.Lines
	if len(lines) > s.cfg.MaxLines {
		lines = lines[:s.cfg.MaxLines]
	}
	hint := &Hint{
		SongID:   song.ID,
		Lines:    maskLines(lines, song.Title),
		Provider: lyric.Provider,
	}

	data, err := json.Marshal(hint)
	if err != nil {
		log.Errorf("%s Error marshaling hint for %s: %v", logcolors.LogHints, song.ID, err)
	} else if err := s.store.Set(key, string(data), s.cfg.TTL); err != nil {
		log.Errorf("%s Error caching hint for %s: %v", logcolors.LogHints, song.ID, err)
	}

	log.Infof("%s Hint ready for %q (%d lines via %s, score %.2f)",
		logcolors.LogHints, song.Title, len(hint.Lines), lyric.Provider, lyric.Score)
	return hint, nil
}

const maskText = "____"

// maskLines blanks every maskable title word in the given lyric lines.
func maskLines(lines []string, title string) []string {
	maskers := titleMaskers(title)
	masked := make([]string, len(lines))
	for i, line := range lines {
		for _, re := range maskers {
			line = re.ReplaceAllString(line, maskText)
		}
		masked[i] = line
	}
	return masked
}

// titleMaskers compiles one case-insensitive matcher per maskable title
// word. Words under three runes stay visible.
func titleMaskers(title string) []*regexp.Regexp {
	var maskers []*regexp.Regexp
	for _, word := range strings.Fields(title) {
		word = strings.Trim(word, `"'!?.,:;()[]-`)
		if utf8.RuneCountInString(word) < 3 {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		if err != nil {
			continue
		}
		maskers = append(maskers, re)
	}
	return maskers
}
