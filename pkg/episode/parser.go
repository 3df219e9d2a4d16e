package episode

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrParse is matched by every error returned from the title parser.
var ErrParse = errors.New("parse error")

// ParseError reports a title from which no episode identity could be
// determined.
type ParseError struct {
	Title  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse title %q: %s", e.Title, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// seasonEpisode matches a whole word such as 5x09 or 05x9.
var seasonEpisode = regexp.MustCompile(`^([0-9]+)x([0-9]+)$`)

// releaseTags are stripped from the end of an episode title.
var releaseTags = map[string]bool{
	"PROPER": true,
	"REPACK": true,
	"TBA":    true,
}

// Parse extracts the episode identity from a raw feed title. The words before
// the season/episode marker become the show name candidate.
//
//	Parse("Prison Break 5x09 Behind The Eyes", "#1")
//	=> TVShow{ID: "#1", Name: "Prison Break"}, season 5, number 9, title "Behind The Eyes"
func Parse(rawTitle, tvshowID string) (Episode, error) {
	name, season, number, title, err := split(rawTitle)
	if err != nil {
		return Episode{}, err
	}
	return Episode{
		TVShow: TVShow{ID: tvshowID, Name: name},
		Title:  title,
		Season: season,
		Number: number,
	}, nil
}

// ParseFile parses a file published for a tracked show. The episode belongs
// to show regardless of the name the feed used in the title.
func ParseFile(show TVShow, file File) (Episode, error) {
	_, season, number, title, err := split(file.Title)
	if err != nil {
		return Episode{}, err
	}
	return Episode{
		TVShow: show,
		Title:  title,
		Season: season,
		Number: number,
	}, nil
}

func split(rawTitle string) (name string, season, number int, title string, err error) {
	words := strings.Fields(rawTitle)

	for i, word := range words {
		m := seasonEpisode.FindStringSubmatch(word)
		if m == nil {
			continue
		}

		season, err = strconv.Atoi(m[1])
		if err != nil {
			return "", 0, 0, "", &ParseError{Title: rawTitle, Reason: "season out of range"}
		}
		number, err = strconv.Atoi(m[2])
		if err != nil {
			return "", 0, 0, "", &ParseError{Title: rawTitle, Reason: "episode number out of range"}
		}

		rest := words[i+1:]
		for len(rest) > 0 && releaseTags[rest[len(rest)-1]] {
			rest = rest[:len(rest)-1]
		}

		return strings.Join(words[:i], " "), season, number, strings.Join(rest, " "), nil
	}

	return "", 0, 0, "", &ParseError{Title: rawTitle, Reason: "no season/episode marker"}
}
