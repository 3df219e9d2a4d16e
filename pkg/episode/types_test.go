package episode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in   string
		want Quality
	}{
		{"SD", QualitySD},
		{"hd", QualityHD},
		{"FHD", QualityFHD},
		{"480p", QualitySD},
		{"720p", QualityHD},
		{" 1080p ", QualityFHD},
	}
	for _, tt := range tests {
		got, err := ParseQuality(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseQuality("4k")
	assert.Error(t, err)
}

func TestStateOrdering(t *testing.T) {
	assert.True(t, StateQueued.Before(StateDownloading))
	assert.True(t, StateDownloading.Before(StateDownloaded))
	assert.False(t, StateDownloaded.Before(StateQueued))
	assert.False(t, StateQueued.Before(StateQueued))

	assert.False(t, StateUnknown.Valid())
	assert.True(t, StateDownloaded.Valid())
	assert.False(t, State(7).Valid())
}

func TestEpisodeStateJSON(t *testing.T) {
	ep := Episode{TVShow: TVShow{ID: "#1"}, Season: 1, Number: 2, State: StateDownloading}

	data, err := json.Marshal(ep)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"downloading"`)

	var decoded Episode
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ep, decoded)

	data, err = json.Marshal(Episode{TVShow: TVShow{ID: "#1"}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "state")
}
