package xenocanto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaKindOf(t *testing.T) {
	tests := []struct {
		fileName string
		want     MediaKind
		wantErr  bool
	}{
		{"XC123-Turdus merula.mp3", MediaMP3, false},
		{"XC9.WAV", MediaWAV, false},
		{"recording.flac", "", true},
		{"mp3", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			got, err := MediaKindOf(tt.fileName)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedMedia)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMediaFileName(t *testing.T) {
	name, err := MediaFileName("x", Recording{ID: "815", FileName: "XC815-song.mp3"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "x-815-2-0.mp3", name)

	name, err = MediaFileName("x", Recording{ID: "7", FileName: "XC7.wav"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "x-7-0-0.wav", name)

	_, err = MediaFileName("x", Recording{ID: "8", FileName: "XC8.ogg"}, 0)
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "https://xeno-canto.org/1/download", fileURL("//xeno-canto.org/1/download"))
	assert.Equal(t, "http://127.0.0.1:80/a", fileURL("http://127.0.0.1:80/a"))
}
