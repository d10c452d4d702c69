package hints

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"songpool-api-go/cache"
	"songpool-api-go/services/pool"
)

// scriptedProvider returns a fixed lyric or error and counts how often it
// was asked.
type scriptedProvider struct {
	name  string
	lyric *Lyric
	err   error
	calls int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) FetchLyric(ctx context.Context, title, artist string, durationMS int) (*Lyric, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.lyric, nil
}

func testService(t *testing.T, provider Provider, cfg Config) *Service {
	t.Helper()

	tmpDir := t.TempDir()
	store, err := cache.NewPersistentCache(filepath.Join(tmpDir, "cache.db"), filepath.Join(tmpDir, "backups"), false, 4096)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewService(provider, store, cfg)
}

func testSong() pool.Song {
	return pool.Song{ID: "t1", Title: "Golden Hour", Artist: "JVKE", DurationMS: 201000}
}

func TestHintMasksAndTruncates(t *testing.T) {
	provider := &scriptedProvider{
		name: "scripted",
		lyric: &Lyric{
			Lines: []string{
				"We were dancing through Golden Hour",
				"GOLDEN light on your face",
				"Nothing could slow us down",
				"Not tonight",
				"Not ever",
			},
			Provider: "scripted",
			Score:    0.9,
		},
	}
	svc := testService(t, provider, Config{MaxLines: 3, TTL: time.Hour, MissTTL: time.Hour})

	hint, err := svc.Hint(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Hint failed: %v", err)
	}

	if hint.SongID != "t1" {
		t.Errorf("Expected song id t1, got %q", hint.SongID)
	}
	if hint.Provider != "scripted" {
		t.Errorf("Expected provider scripted, got %q", hint.Provider)
	}
	if len(hint.Lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(hint.Lines))
	}
	if hint.Lines[0] != "We were dancing through ____ ____" {
		t.Errorf("Expected both title words masked, got %q", hint.Lines[0])
	}
	if hint.Lines[1] != "____ light on your face" {
		t.Errorf("Expected case-insensitive mask, got %q", hint.Lines[1])
	}
	if hint.Lines[2] != "Nothing could slow us down" {
		t.Errorf("Expected non-title line untouched, got %q", hint.Lines[2])
	}
}

func TestHintServedFromCacheOnSecondLookup(t *testing.T) {
	provider := &scriptedProvider{
		name:  "scripted",
		lyric: &Lyric{Lines: []string{"line one", "line two"}, Provider: "scripted"},
	}
	svc := testService(t, provider, Config{MaxLines: 3, TTL: time.Hour, MissTTL: time.Hour})

	first, err := svc.Hint(context.Background(), testSong())
	if err != nil {
		t.Fatalf("First Hint failed: %v", err)
	}
	second, err := svc.Hint(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Second Hint failed: %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("Expected 1 provider call, got %d", provider.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical hints, got %+v and %+v", first, second)
	}
}

func TestHintNoLyricIsRemembered(t *testing.T) {
	provider := &scriptedProvider{name: "scripted", err: fmt.Errorf("no track found: %w", ErrNoLyric)}
	svc := testService(t, provider, Config{MaxLines: 3, TTL: time.Hour, MissTTL: time.Hour})

	if _, err := svc.Hint(context.Background(), testSong()); !errors.Is(err, ErrNoLyric) {
		t.Fatalf("Expected ErrNoLyric, got %v", err)
	}
	if _, err := svc.Hint(context.Background(), testSong()); !errors.Is(err, ErrNoLyric) {
		t.Fatalf("Expected ErrNoLyric on second lookup, got %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("Expected the miss to be cached after 1 provider call, got %d", provider.calls)
	}
}

func TestHintEmptyLyricCountsAsMiss(t *testing.T) {
	provider := &scriptedProvider{name: "scripted", lyric: &Lyric{Provider: "scripted"}}
	svc := testService(t, provider, Config{MaxLines: 3, TTL: time.Hour, MissTTL: time.Hour})

	if _, err := svc.Hint(context.Background(), testSong()); !errors.Is(err, ErrNoLyric) {
		t.Fatalf("Expected ErrNoLyric for empty lyric, got %v", err)
	}
	if _, err := svc.Hint(context.Background(), testSong()); !errors.Is(err, ErrNoLyric) {
		t.Fatalf("Expected cached miss, got %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("Expected 1 provider call, got %d", provider.calls)
	}
}

func TestHintProviderFailureIsNotCached(t *testing.T) {
	provider := &scriptedProvider{name: "scripted", err: errors.New("upstream exploded")}
	svc := testService(t, provider, Config{MaxLines: 3, TTL: time.Hour, MissTTL: time.Hour})

	if _, err := svc.Hint(context.Background(), testSong()); err == nil || errors.Is(err, ErrNoLyric) {
		t.Fatalf("Expected a plain failure, got %v", err)
	}
	if _, err := svc.Hint(context.Background(), testSong()); err == nil {
		t.Fatal("Expected the failure to repeat, got nil")
	}

	if provider.calls != 2 {
		t.Errorf("Expected transient failures to retry the provider, got %d calls", provider.calls)
	}
}

func TestHintRejectsSongWithoutIdentity(t *testing.T) {
	provider := &scriptedProvider{name: "scripted", lyric: &Lyric{Lines: []string{"x"}}}
	svc := testService(t, provider, Config{})

	if _, err := svc.Hint(context.Background(), pool.Song{Title: "Nameless"}); err == nil {
		t.Fatal("Expected an error for a song without an id")
	}
	if provider.calls != 0 {
		t.Errorf("Expected no provider call, got %d", provider.calls)
	}
}

func TestHintDropsCorruptCacheEntry(t *testing.T) {
	provider := &scriptedProvider{
		name:  "scripted",
		lyric: &Lyric{Lines: []string{"fresh line"}, Provider: "scripted"},
	}
	svc := testService(t, provider, Config{MaxLines: 3, TTL: time.Hour, MissTTL: time.Hour})

	if err := svc.store.Set(CacheKey("t1"), "{not json", time.Hour); err != nil {
		t.Fatalf("Failed to seed corrupt entry: %v", err)
	}

	hint, err := svc.Hint(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Hint failed: %v", err)
	}
	if hint.Lines[0] != "fresh line" {
		t.Errorf("Expected the rebuilt hint, got %q", hint.Lines[0])
	}
	if provider.calls != 1 {
		t.Errorf("Expected the corrupt entry to fall through to the provider, got %d calls", provider.calls)
	}
}

func TestMaskLines(t *testing.T) {
	tests := []struct {
		name  string
		title string
		line  string
		want  string
	}{
		{
			name:  "every long title word masked",
			title: "Midnight City",
			line:  "Waiting in the Midnight City lights",
			want:  "Waiting in the ____ ____ lights",
		},
		{
			name:  "case insensitive",
			title: "Nightcall",
			line:  "A NIGHTCALL to remember",
			want:  "A ____ to remember",
		},
		{
			name:  "short words stay visible",
			title: "On My Way",
			line:  "On my way home",
			want:  "On my ____ home",
		},
		{
			name:  "word boundaries respected",
			title: "Hour",
			line:  "The hourly hour chimes",
			want:  "The hourly ____ chimes",
		},
		{
			name:  "punctuation trimmed from title words",
			title: "Help!",
			line:  "I need some help now",
			want:  "I need some ____ now",
		},
		{
			name:  "no title words in line",
			title: "Golden Hour",
			line:  "Nothing matches here",
			want:  "Nothing matches here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskLines([]string{tt.line}, tt.title)
			if got[0] != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got[0])
			}
		})
	}
}
