// Package episode defines the domain types shared by the tracker components
// and the title parser that turns noisy feed titles into episode identities.
package episode

import (
	"fmt"
	"strings"
	"time"
)

// Quality is the video quality of a show or of an episode file.
type Quality string

// Quality values
const (
	QualitySD  Quality = "SD"
	QualityHD  Quality = "HD"
	QualityFHD Quality = "FHD"
)

// ParseQuality accepts quality names (case-insensitive) and resolution tags.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sd", "480p":
		return QualitySD, nil
	case "hd", "720p":
		return QualityHD, nil
	case "fhd", "1080p":
		return QualityFHD, nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// Valid reports whether q is one of the known qualities.
func (q Quality) Valid() bool {
	return q == QualitySD || q == QualityHD || q == QualityFHD
}

// State is the lifecycle state of an episode. States are ordered and an
// episode only ever moves forward.
type State int

// Episode states. StateUnknown means the state was not loaded.
const (
	StateUnknown State = iota
	StateQueued
	StateDownloading
	StateDownloaded
)

var stateNames = map[State]string{
	StateUnknown:     "unknown",
	StateQueued:      "queued",
	StateDownloading: "downloading",
	StateDownloaded:  "downloaded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Valid reports whether s is a persistable state.
func (s State) Valid() bool {
	return s >= StateQueued && s <= StateDownloaded
}

// Before reports whether s comes strictly before other in the lifecycle.
func (s State) Before(other State) bool {
	return s < other
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown episode state %q", string(b))
}

// TVShow is a tracked show. ID is the reference used to look it up at the
// feed source.
type TVShow struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Quality Quality `json:"quality"`
}

// Key is the identity of an episode.
type Key struct {
	TVShowID string `json:"tvshow_id"`
	Season   int    `json:"season"`
	Number   int    `json:"number"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%dx%02d", k.TVShowID, k.Season, k.Number)
}

// Episode is a single episode of a tracked show.
type Episode struct {
	TVShow TVShow `json:"tvshow"`
	Title  string `json:"title"`
	Season int    `json:"season"`
	Number int    `json:"number"`
	State  State  `json:"state,omitempty"`
}

// Key returns the identity of the episode.
func (e Episode) Key() Key {
	return Key{TVShowID: e.TVShow.ID, Season: e.Season, Number: e.Number}
}

// File is a downloadable file for an episode as published by a feed source.
// DownloadedAt is set once the downloader reports completion.
type File struct {
	Title        string     `json:"title"`
	Link         string     `json:"link"`
	Quality      Quality    `json:"quality"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
}
