package xenocanto

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// MediaKind is a supported audio container
type MediaKind string

const (
	MediaMP3 MediaKind = "mp3"
	MediaWAV MediaKind = "wav"
)

var ErrUnsupportedMedia = errors.New("xenocanto: unsupported media type")

// Suffix returns the canonical file suffix, including the dot
func (k MediaKind) Suffix() string {
	return "." + string(k)
}

// MediaKindOf derives the media kind from a declared file name
func MediaKindOf(fileName string) (MediaKind, error) {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".mp3":
		return MediaMP3, nil
	case ".wav":
		return MediaWAV, nil
	}
	return "", fmt.Errorf("%q: %w", fileName, ErrUnsupportedMedia)
}

// MediaFileName builds the canonical name {prefix}-{id}-{classID}-0.{ext}.
// The trailing 0 is the slice number; recordings are never split.
func MediaFileName(prefix string, r Recording, classID int) (string, error) {
	kind, err := MediaKindOf(r.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%d-0%s", prefix, r.ID, classID, kind.Suffix()), nil
}

// fileURL resolves protocol-relative links such as //xeno-canto.org/123/download
func fileURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}
