package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"songpool-api-go/logcolors"
	"songpool-api-go/ratelimit"
	"songpool-api-go/upstream"

	log "github.com/sirupsen/logrus"
)

// Page sizes per endpoint, matching the upstream maximums.
const (
	playlistPageSize      = 50
	likedPageSize         = 50
	albumPageSize         = 50
	playlistTrackPageSize = 100
	albumTrackPageSize    = 50
)

// Client is a typed view over the streaming API's library endpoints. Every
// request goes through the executor, which owns rate limiting, retries and
// throttle handling; the client only builds URLs and maps payloads.
type Client struct {
	exec     *upstream.Executor
	baseURL  string
	maxItems int
}

// NewClient wraps an executor. maxItems caps how many items one listing may
// accumulate across pages, zero means uncapped.
func NewClient(exec *upstream.Executor, baseURL string, maxItems int) *Client {
	return &Client{exec: exec, baseURL: baseURL, maxItems: maxItems}
}

// Profile resolves the player behind a token. This sits on the interactive
// join path, so it runs at high priority.
func (c *Client) Profile(ctx context.Context, identity, token string) (*Profile, error) {
	var raw profileObject
	err := c.exec.Execute(ctx, upstream.Request{
		Method:   http.MethodGet,
		URL:      c.baseURL + "/me",
		Token:    token,
		Identity: identity,
		Priority: ratelimit.PriorityHigh,
	}, &raw)
	if err != nil {
		return nil, err
	}

	return &Profile{
		ID:          raw.ID,
		DisplayName: raw.DisplayName,
		AvatarURL:   firstImage(raw.Images),
	}, nil
}

// Playlists lists every playlist in the player's library.
func (c *Client) Playlists(ctx context.Context, identity, token string) ([]Playlist, error) {
	first := fmt.Sprintf("%s/me/playlists?limit=%d", c.baseURL, playlistPageSize)
	raw, err := c.collectPages(ctx, identity, token, first, ratelimit.PriorityNormal)
	if err != nil {
		return nil, err
	}

	playlists := make([]Playlist, 0, len(raw))
	for _, item := range raw {
		var pl playlistItem
		if err := json.Unmarshal(item, &pl); err != nil {
			log.Debugf("%s Skipping malformed playlist item for %s: %v",
				logcolors.LogPages, logcolors.Identity(identity), err)
			continue
		}
		if pl.ID == "" {
			continue
		}
		playlists = append(playlists, Playlist{
			ID:         pl.ID,
			Name:       pl.Name,
			OwnerName:  pl.Owner.DisplayName,
			TrackCount: pl.Tracks.Total,
			ArtworkURL: firstImage(pl.Images),
		})
	}
	return playlists, nil
}

// LikedTracks lists the player's liked songs.
func (c *Client) LikedTracks(ctx context.Context, identity, token string) ([]Track, error) {
	first := fmt.Sprintf("%s/me/tracks?limit=%d", c.baseURL, likedPageSize)
	raw, err := c.collectPages(ctx, identity, token, first, ratelimit.PriorityNormal)
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(raw))
	for _, item := range raw {
		var saved savedTrackItem
		if err := json.Unmarshal(item, &saved); err != nil {
			log.Debugf("%s Skipping malformed liked track for %s: %v",
				logcolors.LogPages, logcolors.Identity(identity), err)
			continue
		}
		// Local files carry no stable identity, nothing to dedup or match on.
		if saved.Track.ID == "" || saved.Track.IsLocal {
			continue
		}
		tracks = append(tracks, saved.Track.toTrack())
	}
	return tracks, nil
}

// SavedAlbums lists the albums the player has saved to their library.
func (c *Client) SavedAlbums(ctx context.Context, identity, token string) ([]Album, error) {
	first := fmt.Sprintf("%s/me/albums?limit=%d", c.baseURL, albumPageSize)
	raw, err := c.collectPages(ctx, identity, token, first, ratelimit.PriorityNormal)
	if err != nil {
		return nil, err
	}

	albums := make([]Album, 0, len(raw))
	for _, item := range raw {
		var saved savedAlbumItem
		if err := json.Unmarshal(item, &saved); err != nil {
			log.Debugf("%s Skipping malformed saved album for %s: %v",
				logcolors.LogPages, logcolors.Identity(identity), err)
			continue
		}
		if saved.Album.ID == "" {
			continue
		}
		albums = append(albums, Album{
			ID:         saved.Album.ID,
			Name:       saved.Album.Name,
			Artist:     joinArtists(saved.Album.Artists),
			TrackCount: saved.Album.Tracks.Total,
			ArtworkURL: firstImage(saved.Album.Images),
		})
	}
	return albums, nil
}

// PlaylistTracks lists the tracks of one playlist. Entries whose track is
// null (removed tracks, podcast episodes) are skipped.
func (c *Client) PlaylistTracks(ctx context.Context, identity, token, playlistID string) ([]Track, error) {
	first := fmt.Sprintf("%s/playlists/%s/tracks?limit=%d",
		c.baseURL, url.PathEscape(playlistID), playlistTrackPageSize)
	raw, err := c.collectPages(ctx, identity, token, first, ratelimit.PriorityNormal)
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(raw))
	for _, item := range raw {
		var entry playlistTrackItem
		if err := json.Unmarshal(item, &entry); err != nil {
			log.Debugf("%s Skipping malformed playlist track for %s: %v",
				logcolors.LogPages, logcolors.Identity(identity), err)
			continue
		}
		if entry.Track == nil || entry.Track.ID == "" || entry.Track.IsLocal {
			continue
		}
		tracks = append(tracks, entry.Track.toTrack())
	}
	return tracks, nil
}

// AlbumTracks lists the tracks of one album. The upstream album listing
// omits album metadata on each track, callers fill that in from the album
// they already hold. Runs at low priority, album detail is the least urgent
// part of an aggregation.
func (c *Client) AlbumTracks(ctx context.Context, identity, token, albumID string) ([]Track, error) {
	first := fmt.Sprintf("%s/albums/%s/tracks?limit=%d",
		c.baseURL, url.PathEscape(albumID), albumTrackPageSize)
	raw, err := c.collectPages(ctx, identity, token, first, ratelimit.PriorityLow)
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(raw))
	for _, item := range raw {
		var entry albumTrackItem
		if err := json.Unmarshal(item, &entry); err != nil {
			log.Debugf("%s Skipping malformed album track for %s: %v",
				logcolors.LogPages, logcolors.Identity(identity), err)
			continue
		}
		if entry.ID == "" {
			continue
		}
		tracks = append(tracks, Track{
			ID:         entry.ID,
			Title:      entry.Name,
			Artist:     joinArtists(entry.Artists),
			DurationMS: entry.DurationMS,
			PreviewURL: entry.PreviewURL,
		})
	}
	return tracks, nil
}
