// Package codec maps format names to their parser.Format implementations.
package codec

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zsiec/framer/internal/codec/aac"
	"github.com/zsiec/framer/internal/codec/ac3"
	"github.com/zsiec/framer/internal/codec/dca"
	"github.com/zsiec/framer/internal/codec/evc"
	"github.com/zsiec/framer/internal/codec/gif"
	"github.com/zsiec/framer/internal/codec/h264"
	"github.com/zsiec/framer/internal/codec/hevc"
	"github.com/zsiec/framer/internal/codec/jpeg2000"
	"github.com/zsiec/framer/internal/codec/mpa"
	"github.com/zsiec/framer/internal/parser"
)

// ErrUnknownFormat is returned by New for names outside the supported set.
var ErrUnknownFormat = errors.New("codec: unknown format")

// Options carries the per-format settings.
type Options struct {
	// AC3CheckCRC enables CRC verification of AC-3 frames.
	AC3CheckCRC bool
	// EVCMaxUnitSize bounds EVC unit lengths; zero uses the default.
	EVCMaxUnitSize int
}

var constructors = map[string]func(Options) parser.Format{
	"aac":      func(Options) parser.Format { return aac.Format{} },
	"ac3":      func(o Options) parser.Format { return ac3.Format{CheckCRC: o.AC3CheckCRC} },
	"dca":      func(Options) parser.Format { return dca.Format{} },
	"evc":      func(o Options) parser.Format { return evc.Format{MaxUnitSize: o.EVCMaxUnitSize} },
	"gif":      func(Options) parser.Format { return gif.Format{} },
	"h264":     func(Options) parser.Format { return h264.Format{} },
	"hevc":     func(Options) parser.Format { return hevc.Format{} },
	"jpeg2000": func(Options) parser.Format { return jpeg2000.Format{} },
	"mpa":      func(Options) parser.Format { return mpa.Format{} },
}

var aliases = map[string]string{
	"adts": "aac",
	"eac3": "ac3",
	"dts":  "dca",
	"avc":  "h264",
	"h265": "hevc",
	"j2k":  "jpeg2000",
	"mp3":  "mpa",
}

// Canonical resolves aliases and case. It returns "" for unknown names.
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if _, ok := constructors[name]; !ok {
		return ""
	}
	return name
}

// New returns the format registered under name.
func New(name string, opts Options) (parser.Format, error) {
	canonical := Canonical(name)
	if canonical == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return constructors[canonical](opts), nil
}

// Names returns the canonical format names in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
