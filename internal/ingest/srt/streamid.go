package srt

import (
	"errors"
	"strings"

	"github.com/zsiec/framer/internal/codec"
)

// ErrEmptyStreamID is returned for connections without a stream id.
var ErrEmptyStreamID = errors.New("srt: empty stream id")

// defaultKey names streams whose id carries no key.
const defaultKey = "default"

// ParseStreamID splits a stream id of the form [/][live/]<format>/<key>.
// When the first path segment is not a known format the whole id is the key
// and defaultFormat applies.
func ParseStreamID(streamID, defaultFormat string) (key, format string, err error) {
	if streamID == "" {
		return "", "", ErrEmptyStreamID
	}
	id := strings.TrimPrefix(streamID, "/")
	id = strings.TrimPrefix(id, "live/")

	format = defaultFormat
	if head, rest, ok := strings.Cut(id, "/"); ok {
		if name := codec.Canonical(head); name != "" {
			format, id = name, rest
		}
	}
	if id == "" {
		id = defaultKey
	}
	return id, format, nil
}
