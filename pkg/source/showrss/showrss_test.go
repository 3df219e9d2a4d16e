package showrss

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/source"
)

const prisonBreakFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:tv="https://showrss.info">
<channel>
<description>showRSS show feed for Prison Break</description>
<item>
<title>Prison Break 5x09 720p</title>
<link>magnet_link1</link>
<pubDate>Wed, 31 May 2017 01:50:08 +0000</pubDate>
</item>
<item>
<title>Prison Break 5x10</title>
<link>magnet_link2</link>
<pubDate>Wed, 31 May 2017 01:50:08 +0000</pubDate>
</item>
</channel>
</rss>`

func TestParseFeed(t *testing.T) {
	tests := []struct {
		name string
		feed string
		want []episode.File
	}{
		{
			name: "empty channel",
			feed: `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel></channel></rss>`,
			want: []episode.File{},
		},
		{
			name: "two items",
			feed: prisonBreakFeed,
			want: []episode.File{
				{Title: "Prison Break 5x09", Link: "magnet_link1", Quality: episode.QualityHD},
				{Title: "Prison Break 5x10", Link: "magnet_link2", Quality: episode.QualitySD},
			},
		},
		{
			name: "latin1 encoding",
			feed: "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><rss><channel><item>" +
				"<title>Caf\xe9 1x01</title><link>l</link></item></channel></rss>",
			want: []episode.File{
				{Title: "Café 1x01", Link: "l", Quality: episode.QualitySD},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := ParseFeed([]byte(tt.feed))
			require.NoError(t, err)
			assert.Equal(t, tt.want, files)
		})
	}
}

func TestParseFeedMalformed(t *testing.T) {
	feeds := map[string]string{
		"empty": "",
		"missing channel": `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0">` +
			`<item><title>Prison Break 5x09 720p</title><link>magnet_link1</link></item></rss>`,
		"missing title": `<rss><channel><item><link>magnet_link1</link></item></channel></rss>`,
		"missing link":  `<rss><channel><item><title>Prison Break 5x09</title></item></channel></rss>`,
		"not rss":       `<html><body>nope</body></html>`,
		"truncated":     `<rss><channel><item><title>Prison`,
	}

	for name, feed := range feeds {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFeed([]byte(feed))
			assert.ErrorIs(t, err, source.ErrMalformedFeed)
		})
	}
}

func TestParseItem(t *testing.T) {
	tests := []struct {
		title   string
		want    string
		quality episode.Quality
	}{
		{"Prison Break 5x09", "Prison Break 5x09", episode.QualitySD},
		{"Prison Break 5x09 720", "Prison Break 5x09 720", episode.QualitySD},
		{"Prison Break 5x09 720p", "Prison Break 5x09", episode.QualityHD},
		{"Prison Break 5x09 1080", "Prison Break 5x09 1080", episode.QualitySD},
		{"Prison Break 5x09 1080p", "Prison Break 5x09", episode.QualityFHD},
		{"Prison Break 5x09 1080P", "Prison Break 5x09 1080P", episode.QualitySD},
		{"Prison Break 5x09 1080pA", "Prison Break 5x09 1080pA", episode.QualitySD},
		{"Prison Break 5x09 PROPER", "Prison Break 5x09 PROPER", episode.QualitySD},
		{"Prison Break 5x09 720p PROPER", "Prison Break 5x09 PROPER", episode.QualityHD},
		{"Prison Break 5x09 1080p PROPER", "Prison Break 5x09 PROPER", episode.QualityFHD},
		{"Prison Break 5x09 720p REPACK", "Prison Break 5x09 REPACK", episode.QualityHD},
		{"Prison Break 5x09 1080p REPACK", "Prison Break 5x09 REPACK", episode.QualityFHD},
		{"Prison Break 5x09 720p TBA", "Prison Break 5x09 TBA", episode.QualityHD},
		{"Prison Break 5x09 1080p TBA", "Prison Break 5x09 TBA", episode.QualityFHD},
		{"", "", episode.QualitySD},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			file := ParseItem(tt.title, "magnet://link")
			assert.Equal(t, episode.File{Title: tt.want, Link: "magnet://link", Quality: tt.quality}, file)
		})
	}
}

func TestFetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		switch r.URL.Path {
		case "/show/350.rss":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(prisonBreakFeed))
		case "/show/500.rss":
			w.WriteHeader(http.StatusInternalServerError)
		case "/show/bad.rss":
			_, _ = w.Write([]byte("<rss>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := New(srv.URL+"/show/", time.Second)
	ctx := context.Background()

	files, err := src.Fetch(ctx, "350")
	require.NoError(t, err)
	assert.Equal(t, "/show/350.rss", gotPath)
	assert.Len(t, files, 2)

	_, err = src.Fetch(ctx, "999")
	assert.ErrorIs(t, err, source.ErrNotFound)

	_, err = src.Fetch(ctx, "500")
	assert.ErrorIs(t, err, source.ErrConnection)

	_, err = src.Fetch(ctx, "bad")
	assert.ErrorIs(t, err, source.ErrMalformedFeed)
}

func TestFetchConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Fetch(context.Background(), "350")
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrConnection))
	assert.False(t, errors.Is(err, source.ErrNotFound))
}

func TestFetchHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL, 10*time.Second).Fetch(ctx, "350")
	assert.ErrorIs(t, err, source.ErrConnection)
}
