package pool

// SourceKind says which part of a player's library a song came from.
type SourceKind string

const (
	SourceLikedSongs SourceKind = "liked-songs"
	SourcePlaylist   SourceKind = "playlist"
	SourceAlbum      SourceKind = "album"
)

// Source describes one library location, e.g. a specific playlist.
type Source struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	Name string     `json:"name,omitempty"`
}

// Owner ties a song to the player who contributed it and where in their
// library it was found. A song guessed correctly scores against every owner.
type Owner struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	Source      Source `json:"source"`
}

// Song is one guessable entry in the shared pool. ID is the upstream track
// identity and doubles as the dedup key.
type Song struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album,omitempty"`
	DurationMS int     `json:"durationMs,omitempty"`
	PreviewURL string  `json:"previewUrl,omitempty"`
	ArtworkURL string  `json:"artworkUrl,omitempty"`
	Owners     []Owner `json:"owners"`
}

// sameOwner compares identity and source, ignoring display names.
func sameOwner(a, b Owner) bool {
	return a.Identity == b.Identity && a.Source.Kind == b.Source.Kind && a.Source.ID == b.Source.ID
}
