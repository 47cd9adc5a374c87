package lavalink

import (
	"encoding/json"
	"fmt"
	"time"
)

// LoadType tags the result of a track query as reported by the node.
type LoadType string

const (
	LoadTypeNoMatches      LoadType = "NO_MATCHES"
	LoadTypeLoadFailed     LoadType = "LOAD_FAILED"
	LoadTypeUnknown        LoadType = "UNKNOWN"
	LoadTypeTrackLoaded    LoadType = "TRACK_LOADED"
	LoadTypePlaylistLoaded LoadType = "PLAYLIST_LOADED"
	LoadTypeSearchResult   LoadType = "SEARCH_RESULT"
)

// failed reports whether the load type describes a result with no usable tracks.
func (lt LoadType) failed() bool {
	return lt == LoadTypeNoMatches || lt == LoadTypeLoadFailed
}

// Track is an immutable descriptor of one playable item. Encoded is the opaque
// blob issued by the node and is passed back verbatim on play.
type Track struct {
	Encoded    string
	Title      string
	Author     string
	Identifier string
	URI        string
	Stream     bool
	Seekable   bool
	Duration   time.Duration

	// UserData is a free slot for the embedder (e.g. the requesting user).
	// The library never reads it.
	UserData any
}

// Playlist is the decoded result of a track query.
type Playlist struct {
	LoadType LoadType

	// Name is the playlist title; empty unless LoadType is PLAYLIST_LOADED.
	Name string

	// SelectedTrack is the index the user picked on the source platform,
	// or -1 when none was selected.
	SelectedTrack int

	Tracks []*Track
}

// IsPlaylist reports whether the result is a real multi-track playlist.
func (p *Playlist) IsPlaylist() bool {
	return p.LoadType == LoadTypePlaylistLoaded && len(p.Tracks) > 1
}

// IsEmpty reports whether the result holds nothing playable.
func (p *Playlist) IsEmpty() bool {
	return p.LoadType.failed() || len(p.Tracks) == 0
}

// ── REST response decoding ────────────────────────────────────────────────────

type loadResult struct {
	LoadType     LoadType         `json:"loadType"`
	PlaylistInfo loadPlaylistInfo `json:"playlistInfo"`
	Tracks       []loadedTrack    `json:"tracks"`
}

type loadPlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack *int   `json:"selectedTrack"`
}

type loadedTrack struct {
	Track string    `json:"track"`
	Info  trackInfo `json:"info"`
}

type trackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
}

// decodePlaylist parses a /loadtracks response body into a [Playlist].
func decodePlaylist(data []byte) (*Playlist, error) {
	var res loadResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("lavalink: decode loadtracks response: %w", err)
	}

	p := &Playlist{
		LoadType:      res.LoadType,
		Name:          res.PlaylistInfo.Name,
		SelectedTrack: -1,
		Tracks:        make([]*Track, 0, len(res.Tracks)),
	}
	if res.LoadType == "" {
		p.LoadType = LoadTypeUnknown
	}
	if res.PlaylistInfo.SelectedTrack != nil {
		p.SelectedTrack = *res.PlaylistInfo.SelectedTrack
	}
	for _, lt := range res.Tracks {
		p.Tracks = append(p.Tracks, &Track{
			Encoded:    lt.Track,
			Title:      lt.Info.Title,
			Author:     lt.Info.Author,
			Identifier: lt.Info.Identifier,
			URI:        lt.Info.URI,
			Stream:     lt.Info.IsStream,
			Seekable:   lt.Info.IsSeekable,
			Duration:   time.Duration(lt.Info.Length) * time.Millisecond,
		})
	}
	return p, nil
}

// emptyPlaylist is returned when a REST lookup fails and retry is disabled.
func emptyPlaylist() *Playlist {
	return &Playlist{LoadType: LoadTypeLoadFailed, SelectedTrack: -1}
}
