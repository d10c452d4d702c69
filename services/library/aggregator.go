package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"songpool-api-go/logcolors"
	"songpool-api-go/services/pool"
	"songpool-api-go/services/spotify"
	"songpool-api-go/upstream"

	log "github.com/sirupsen/logrus"
)

// Batch widths bound how many track fetches contend for the shared rate
// limiter at once. Album lookups run narrower since they go out at low
// priority anyway.
const (
	DefaultPlaylistBatchSize = 5
	DefaultAlbumBatchSize    = 3
	DefaultProgressWindow    = 50
)

// Phases are the progress bounds each aggregation stage owns, in processing
// order. Completion always reports 100 on top of whatever AlbumsEnd is.
type Phases struct {
	LikedStart   int
	LikedEnd     int
	PlaylistsEnd int
	AlbumsEnd    int
}

var DefaultPhases = Phases{LikedStart: 20, LikedEnd: 50, PlaylistsEnd: 70, AlbumsEnd: 95}

// Config tunes one Aggregator. Zero values fall back to the defaults above.
type Config struct {
	PlaylistBatchSize int
	AlbumBatchSize    int
	ProgressWindow    int
	Phases            Phases
}

// User identifies the player whose library is being aggregated.
type User struct {
	Identity    string
	DisplayName string
	Token       string
}

// Options selects what one run fetches and where progress goes. A nil
// Selected means the whole library; a non-nil slice keeps only the named
// playlists, while liked songs and saved albums are still fetched in full.
type Options struct {
	Selected   []string
	OnProgress func(pct int)
}

// Aggregator pulls a player's library through a Catalog and folds it into a
// deduplicated song list ready for the shared pool.
type Aggregator struct {
	catalog Catalog
	cfg     Config
}

func NewAggregator(catalog Catalog, cfg Config) *Aggregator {
	if cfg.PlaylistBatchSize <= 0 {
		cfg.PlaylistBatchSize = DefaultPlaylistBatchSize
	}
	if cfg.AlbumBatchSize <= 0 {
		cfg.AlbumBatchSize = DefaultAlbumBatchSize
	}
	if cfg.ProgressWindow <= 0 {
		cfg.ProgressWindow = DefaultProgressWindow
	}
	if cfg.Phases == (Phases{}) {
		cfg.Phases = DefaultPhases
	}
	return &Aggregator{catalog: catalog, cfg: cfg}
}

// FetchLibrary aggregates one player's liked songs, playlists and saved
// albums. The first source to introduce a track wins its display metadata;
// every further source only adds an owner record. Individual playlist or
// album failures are logged and skipped, while auth failures and failures of
// the three core listings abort the run.
func (a *Aggregator) FetchLibrary(ctx context.Context, user User, opts Options) ([]pool.Song, error) {
	started := time.Now()
	prog := newTracker(opts.OnProgress)
	collector := pool.NewCollector()
	ph := a.cfg.Phases

	prog.report(0)

	liked, err := a.catalog.LikedTracks(ctx, user.Identity, user.Token)
	if err != nil {
		return nil, fmt.Errorf("fetching liked tracks: %w", err)
	}
	prog.report(ph.LikedStart)
	likedOwner := pool.Owner{
		Identity:    user.Identity,
		DisplayName: user.DisplayName,
		Source:      pool.Source{Kind: pool.SourceLikedSongs},
	}
	for i, track := range liked {
		collector.Add(songFromTrack(track, likedOwner))
		if done := i + 1; done%a.cfg.ProgressWindow == 0 || done == len(liked) {
			prog.phase(ph.LikedStart, ph.LikedEnd, done, len(liked))
		}
	}
	prog.report(ph.LikedEnd)

	playlists, err := a.pickPlaylists(ctx, user, opts.Selected)
	if err != nil {
		return nil, err
	}
	if err := a.addPlaylists(ctx, user, playlists, collector, prog); err != nil {
		return nil, err
	}
	prog.report(ph.PlaylistsEnd)

	albums, err := a.catalog.SavedAlbums(ctx, user.Identity, user.Token)
	if err != nil {
		return nil, fmt.Errorf("listing saved albums: %w", err)
	}
	if err := a.addAlbums(ctx, user, albums, collector, prog); err != nil {
		return nil, err
	}
	prog.report(ph.AlbumsEnd)
	prog.report(100)

	songs := collector.Songs()
	log.Infof("%s Aggregated %d songs for %s (%d liked, %d playlists, %d albums) in %v",
		logcolors.LogLibrary, len(songs), logcolors.Identity(user.Identity),
		len(liked), len(playlists), len(albums), time.Since(started).Round(time.Millisecond))
	return songs, nil
}

// pickPlaylists returns the playlists one run processes, in listing order.
// Selective mode filters the listing rather than trusting caller-supplied
// names, so display names always come from upstream. Selected ids missing
// from the listing are dropped.
func (a *Aggregator) pickPlaylists(ctx context.Context, user User, selected []string) ([]spotify.Playlist, error) {
	listing, err := a.catalog.Playlists(ctx, user.Identity, user.Token)
	if err != nil {
		return nil, fmt.Errorf("listing playlists: %w", err)
	}
	if selected == nil {
		return listing, nil
	}

	wanted := make(map[string]bool, len(selected))
	for _, id := range selected {
		wanted[id] = true
	}
	picked := make([]spotify.Playlist, 0, len(wanted))
	for _, pl := range listing {
		if wanted[pl.ID] {
			picked = append(picked, pl)
		}
	}
	if len(picked) < len(wanted) {
		log.Debugf("%s %d selected playlists not in the listing for %s, skipping",
			logcolors.LogLibrary, len(wanted)-len(picked), logcolors.Identity(user.Identity))
	}
	return picked, nil
}

func (a *Aggregator) addPlaylists(ctx context.Context, user User, playlists []spotify.Playlist, collector *pool.Collector, prog *tracker) error {
	ph := a.cfg.Phases
	for offset := 0; offset < len(playlists); offset += a.cfg.PlaylistBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := offset + a.cfg.PlaylistBatchSize
		if end > len(playlists) {
			end = len(playlists)
		}
		batch := playlists[offset:end]

		tracks := make([][]spotify.Track, len(batch))
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, pl := range batch {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				tracks[i], errs[i] = a.catalog.PlaylistTracks(ctx, user.Identity, user.Token, id)
			}(i, pl.ID)
		}
		wg.Wait()

		for i, pl := range batch {
			if errs[i] != nil {
				var authErr *upstream.AuthError
				if errors.As(errs[i], &authErr) {
					return fmt.Errorf("fetching playlist %s: %w", pl.ID, errs[i])
				}
				log.Warnf("%s Skipping playlist %q for %s: %v",
					logcolors.LogLibrary, pl.Name, logcolors.Identity(user.Identity), errs[i])
				continue
			}
			owner := pool.Owner{
				Identity:    user.Identity,
				DisplayName: user.DisplayName,
				Source:      pool.Source{Kind: pool.SourcePlaylist, ID: pl.ID, Name: pl.Name},
			}
			for _, track := range tracks[i] {
				collector.Add(songFromTrack(track, owner))
			}
		}
		prog.phase(ph.LikedEnd, ph.PlaylistsEnd, end, len(playlists))
	}
	return nil
}

func (a *Aggregator) addAlbums(ctx context.Context, user User, albums []spotify.Album, collector *pool.Collector, prog *tracker) error {
	ph := a.cfg.Phases
	for offset := 0; offset < len(albums); offset += a.cfg.AlbumBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := offset + a.cfg.AlbumBatchSize
		if end > len(albums) {
			end = len(albums)
		}
		batch := albums[offset:end]

		tracks := make([][]spotify.Track, len(batch))
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, album := range batch {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				tracks[i], errs[i] = a.catalog.AlbumTracks(ctx, user.Identity, user.Token, id)
			}(i, album.ID)
		}
		wg.Wait()

		for i, album := range batch {
			if errs[i] != nil {
				var authErr *upstream.AuthError
				if errors.As(errs[i], &authErr) {
					return fmt.Errorf("fetching album %s: %w", album.ID, errs[i])
				}
				log.Warnf("%s Skipping album %q for %s: %v",
					logcolors.LogLibrary, album.Name, logcolors.Identity(user.Identity), errs[i])
				continue
			}
			owner := pool.Owner{
				Identity:    user.Identity,
				DisplayName: user.DisplayName,
				Source:      pool.Source{Kind: pool.SourceAlbum, ID: album.ID, Name: album.Name},
			}
			for _, track := range tracks[i] {
				// Album track listings omit the album itself, fill it in
				// from the saved-albums entry.
				if track.Album == "" {
					track.Album = album.Name
				}
				if track.ArtworkURL == "" {
					track.ArtworkURL = album.ArtworkURL
				}
				collector.Add(songFromTrack(track, owner))
			}
		}
		prog.phase(ph.PlaylistsEnd, ph.AlbumsEnd, end, len(albums))
	}
	return nil
}

func songFromTrack(track spotify.Track, owner pool.Owner) pool.Song {
	return pool.Song{
		ID:         track.ID,
		Title:      track.Title,
		Artist:     track.Artist,
		Album:      track.Album,
		DurationMS: track.DurationMS,
		PreviewURL: track.PreviewURL,
		ArtworkURL: track.ArtworkURL,
		Owners:     []pool.Owner{owner},
	}
}
