package spotify

import "encoding/json"

// ----- wire shapes -----

// page is the envelope every listing endpoint shares. Items stay raw until
// the endpoint method maps them onto its own item shape.
type page struct {
	Items []json.RawMessage `json:"items"`
	Next  *string           `json:"next"`
	Total int               `json:"total"`
}

type image struct {
	URL string `json:"url"`
}

type artistRef struct {
	Name string `json:"name"`
}

// trackObject is the full track shape returned inside saved-track and
// playlist-track items.
type trackObject struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	DurationMS int         `json:"duration_ms"`
	PreviewURL string      `json:"preview_url"`
	Artists    []artistRef `json:"artists"`
	Album      struct {
		ID     string  `json:"id"`
		Name   string  `json:"name"`
		Images []image `json:"images"`
	} `json:"album"`
	IsLocal bool `json:"is_local"`
}

// playlistItem is one entry of the current user's playlist listing.
type playlistItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Images []image `json:"images"`
	Owner  struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

// savedTrackItem is one entry of the liked-songs listing.
type savedTrackItem struct {
	AddedAt string      `json:"added_at"`
	Track   trackObject `json:"track"`
}

// playlistTrackItem is one entry of a playlist's track listing. Track is a
// pointer because removed tracks and podcast episodes arrive as null.
type playlistTrackItem struct {
	Track *trackObject `json:"track"`
}

// savedAlbumItem is one entry of the saved-albums listing.
type savedAlbumItem struct {
	Album struct {
		ID      string      `json:"id"`
		Name    string      `json:"name"`
		Images  []image     `json:"images"`
		Artists []artistRef `json:"artists"`
		Tracks  struct {
			Total int `json:"total"`
		} `json:"tracks"`
	} `json:"album"`
}

// albumTrackItem is one entry of an album's track listing. The album block
// is absent here, callers already know which album they asked about.
type albumTrackItem struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	DurationMS int         `json:"duration_ms"`
	PreviewURL string      `json:"preview_url"`
	Artists    []artistRef `json:"artists"`
}

// profileObject is the current user's profile.
type profileObject struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Images      []image `json:"images"`
}

// ----- domain shapes -----

// Playlist is the domain view of one playlist in a player's library.
type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerName  string `json:"ownerName,omitempty"`
	TrackCount int    `json:"trackCount"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// Album is the domain view of one saved album.
type Album struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist,omitempty"`
	TrackCount int    `json:"trackCount"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// Track is the domain view of a playable track. Album fields are empty on
// tracks coming from an album listing.
type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	DurationMS int    `json:"durationMs,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// Profile identifies the player behind an access token.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

func firstImage(images []image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func joinArtists(artists []artistRef) string {
	names := ""
	for i, a := range artists {
		if i > 0 {
			names += ", "
		}
		names += a.Name
	}
	return names
}

func (t trackObject) toTrack() Track {
	return Track{
		ID:         t.ID,
		Title:      t.Name,
		Artist:     joinArtists(t.Artists),
		Album:      t.Album.Name,
		DurationMS: t.DurationMS,
		PreviewURL: t.PreviewURL,
		ArtworkURL: firstImage(t.Album.Images),
	}
}
