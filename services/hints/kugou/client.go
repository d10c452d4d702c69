package kugou

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"songpool-api-go/config"
	"songpool-api-go/logcolors"
	"songpool-api-go/ratelimit"
	"songpool-api-go/services/hints"
	"songpool-api-go/upstream"

	log "github.com/sirupsen/logrus"
)

const (
	// Identity is the limiter bucket every lyric lookup shares. Hints are
	// supplementary to gameplay, so all traffic goes out at low priority.
	Identity = "kugou"

	defaultSearchBaseURL = "http://msearchcdn.kugou.com"
	defaultLyricsBaseURL = "https://krcs.kugou.com"

	songSearchPath    = "/api/v3/search/song"
	lyricSearchPath   = "/search"
	lyricDownloadPath = "/download"

	songSearchPageSize = 10

	// The API serves browser user agents only.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Client fetches lyrics from Kugou through the shared request executor.
type Client struct {
	exec          *upstream.Executor
	searchBaseURL string
	lyricsBaseURL string
	minScore      float64
	durationDelta int
}

var _ hints.Provider = (*Client)(nil)

// NewClient builds a Kugou lyric provider. Empty base URLs fall back to the
// public endpoints; match tuning comes from configuration.
func NewClient(exec *upstream.Executor, searchBaseURL, lyricsBaseURL string) *Client {
	conf := config.Get().Configuration
	if searchBaseURL == "" {
		searchBaseURL = defaultSearchBaseURL
	}
	if lyricsBaseURL == "" {
		lyricsBaseURL = defaultLyricsBaseURL
	}
	return &Client{
		exec:          exec,
		searchBaseURL: strings.TrimRight(searchBaseURL, "/"),
		lyricsBaseURL: strings.TrimRight(lyricsBaseURL, "/"),
		minScore:      conf.MinSimilarityScore,
		durationDelta: conf.DurationMatchDeltaMS,
	}
}

func (c *Client) Name() string { return Identity }

// FetchLyric resolves a track to its best Kugou lyric: find the song to get
// its hash, list lyric candidates for that hash, download the winner. Weak
// matches are reported as hints.ErrNoLyric rather than guessed at.
func (c *Client) FetchLyric(ctx context.Context, title, artist string, durationMS int) (*hints.Lyric, error) {
	if title == "" && artist == "" {
		return nil, fmt.Errorf("%w: empty title and artist", hints.ErrNoLyric)
	}

	songs, err := c.searchSongs(ctx, title, artist)
	if err != nil {
		return nil, err
	}
	if durationMS > 0 {
		songs = filterByDuration(songs, durationMS, c.durationDelta)
	}
	song, songScore := selectBestSong(songs, title, artist, durationMS)
	if song == nil || songScore < c.minScore {
		return nil, fmt.Errorf("%w: no song match for %q by %q (best score %.2f)",
			hints.ErrNoLyric, title, artist, songScore)
	}
	log.Debugf("%s Matched song %s - %s (score %.2f)",
		logcolors.LogMatch, song.SongName, song.SingerName, songScore)

	candidates, err := c.searchLyrics(ctx, title, artist, durationMS, song.Hash)
	if err != nil {
		return nil, err
	}
	best, matchScore := selectBestCandidate(candidates, title, artist, durationMS)
	if best == nil || matchScore < c.minScore {
		return nil, fmt.Errorf("%w: no lyric candidate for %q by %q", hints.ErrNoLyric, title, artist)
	}

	lrc, err := c.downloadLyric(ctx, best.ID, best.AccessKey)
	if err != nil {
		return nil, err
	}

	lines := lyricLines(normalizeLyric(lrc))
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: lyric for %q is empty or instrumental", hints.ErrNoLyric, title)
	}

	return &hints.Lyric{Lines: lines, Provider: Identity, Score: matchScore}, nil
}

func (c *Client) searchSongs(ctx context.Context, title, artist string) ([]songInfo, error) {
	keyword := title
	if artist != "" {
		keyword = title + " " + artist
	}

	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("pagesize", strconv.Itoa(songSearchPageSize))
	params.Set("page", "1")
	params.Set("plat", "0")
	params.Set("version", "9108")

	log.Debugf("%s Searching songs: %s", logcolors.LogSearch, keyword)

	var resp songSearchResponse
	if err := c.get(ctx, c.searchBaseURL+songSearchPath+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Status != 1 {
		return nil, fmt.Errorf("song search rejected: status %d, errcode %d", resp.Status, resp.ErrCode)
	}
	return resp.Data.Info, nil
}

func (c *Client) searchLyrics(ctx context.Context, title, artist string, durationMS int, hash string) ([]candidate, error) {
	keyword := title
	if artist != "" {
		keyword = title + " " + artist
	}

	params := url.Values{}
	params.Set("ver", "1")
	params.Set("man", "yes")
	params.Set("client", "mobi")
	params.Set("keyword", keyword)
	if durationMS > 0 {
		params.Set("duration", strconv.Itoa(durationMS))
	}
	if hash != "" {
		params.Set("hash", hash)
	}

	log.Debugf("%s Searching lyrics: %s", logcolors.LogSearch, keyword)

	var resp lyricSearchResponse
	if err := c.get(ctx, c.lyricsBaseURL+lyricSearchPath+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Status != 200 {
		return nil, fmt.Errorf("lyric search rejected: %s (code %d)", resp.ErrMsg, resp.ErrCode)
	}
	return resp.Candidates, nil
}

func (c *Client) downloadLyric(ctx context.Context, id, accessKey string) (string, error) {
	params := url.Values{}
	params.Set("ver", "1")
	params.Set("client", "pc")
	params.Set("id", id)
	params.Set("accesskey", accessKey)
	params.Set("fmt", "lrc")

	var resp lyricDownloadResponse
	if err := c.get(ctx, c.lyricsBaseURL+lyricDownloadPath+"?"+params.Encode(), &resp); err != nil {
		return "", err
	}
	if resp.Status != 200 {
		return "", fmt.Errorf("lyric download rejected: %s (code %d)", resp.Info, resp.ErrorCode)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("%w: download %s carried no content", hints.ErrNoLyric, id)
	}

	lrc, err := decodeLyricContent(resp.Content)
	if err != nil {
		return "", fmt.Errorf("decoding lyric %s: %w", id, err)
	}
	return lrc, nil
}

func (c *Client) get(ctx context.Context, requestURL string, out any) error {
	return c.exec.Execute(ctx, upstream.Request{
		Method:   http.MethodGet,
		URL:      requestURL,
		Headers:  map[string]string{"User-Agent": userAgent},
		Identity: Identity,
		Priority: ratelimit.PriorityLow,
	}, out)
}

// filterByDuration keeps songs within deltaMS of the target duration.
func filterByDuration(songs []songInfo, durationMS, deltaMS int) []songInfo {
	var kept []songInfo
	for _, s := range songs {
		// songInfo durations are seconds.
		if absInt(s.Duration*1000-durationMS) <= deltaMS {
			kept = append(kept, s)
		}
	}
	return kept
}

// selectBestSong scores search results against the wanted track and returns
// the winner with a score normalized to 0..1.
func selectBestSong(songs []songInfo, title, artist string, durationMS int) (*songInfo, float64) {
	if len(songs) == 0 {
		return nil, 0
	}

	var best *songInfo
	bestScore := -1
	// 30 (exact title) + 25 (exact artist) + 20 (duration) + 3 (quality)
	const maxPossibleScore = 78

	titleLower := strings.ToLower(title)
	artistLower := strings.ToLower(artist)

	for i := range songs {
		s := &songs[i]
		score := 0

		nameLower := strings.ToLower(s.SongName)
		if nameLower == titleLower {
			score += 30
		} else if strings.Contains(nameLower, titleLower) || strings.Contains(titleLower, nameLower) {
			score += 15
		}

		if artistLower != "" {
			singerLower := strings.ToLower(s.SingerName)
			if singerLower == artistLower {
				score += 25
			} else if strings.Contains(singerLower, artistLower) || strings.Contains(artistLower, singerLower) {
				score += 10
			}
		}

		if durationMS > 0 && s.Duration > 0 {
			diff := absInt(s.Duration*1000 - durationMS)
			if diff < 3000 {
				score += 20
			} else if diff < 5000 {
				score += 10
			} else if diff < 10000 {
				score += 5
			}
		}

		if s.SQHash != "" {
			score += 2
		}
		if s.Hash320 != "" {
			score += 1
		}

		if score > bestScore {
			bestScore = score
			best = s
		}
	}

	return best, clampScore(float64(bestScore) / maxPossibleScore)
}

// selectBestCandidate scores lyric candidates, favoring synced lyrics and
// close duration matches on top of the API's own score.
func selectBestCandidate(candidates []candidate, title, artist string, durationMS int) (*candidate, float64) {
	if len(candidates) == 0 {
		return nil, 0
	}

	var best *candidate
	bestScore := -1
	// 60 (API base) + 20 (synced) + 20 (exact title) + 20 (exact artist) +
	// 20 (duration) + 5 (official)
	const maxPossibleScore = 145

	titleLower := strings.ToLower(title)
	artistLower := strings.ToLower(artist)

	for i := range candidates {
		cand := &candidates[i]
		score := cand.Score

		if cand.KRCType == 1 {
			score += 20
		}

		songLower := strings.ToLower(cand.Song)
		if songLower == titleLower {
			score += 20
		} else if strings.Contains(songLower, titleLower) || strings.Contains(titleLower, songLower) {
			score += 10
		}

		if artistLower != "" {
			singerLower := strings.ToLower(cand.Singer)
			if singerLower == artistLower {
				score += 20
			} else if strings.Contains(singerLower, artistLower) {
				score += 10
			}
		}

		if durationMS > 0 && cand.Duration > 0 {
			diff := absInt(cand.Duration - durationMS)
			if diff < 3000 {
				score += 20
			} else if diff < 5000 {
				score += 10
			} else if diff < 10000 {
				score += 5
			}
		}

		if strings.Contains(cand.ProductFrom, "官方") {
			score += 5
		}

		if score > bestScore {
			bestScore = score
			best = cand
		}
	}

	return best, clampScore(float64(bestScore) / maxPossibleScore)
}

func clampScore(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	if score < 0.0 {
		return 0.0
	}
	return score
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
