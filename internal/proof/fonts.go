package proof

import (
	"log/slog"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// DefaultFontPaths are tried in order when no font paths are configured.
var DefaultFontPaths = []string{
	"arial.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/msttcorefonts/Arial.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/Library/Fonts/Arial.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"C:/Windows/Fonts/arial.ttf",
}

// fontCandidate is one way of obtaining a font. It reports failure instead
// of falling through silently so the chain can log why it moved on.
type fontCandidate struct {
	name string
	load func() (*sfnt.Font, error)
}

func fileCandidate(path string) fontCandidate {
	return fontCandidate{
		name: path,
		load: func() (*sfnt.Font, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return opentype.Parse(data)
		},
	}
}

// fontChain resolves the first loadable TrueType font once and hands out
// faces backed by it. Faces hold per-face buffers, so each render gets its
// own. With no loadable font every face is the built-in 7x13 bitmap font.
type fontChain struct {
	candidates []fontCandidate
	size       float64
	logger     *slog.Logger

	once   sync.Once
	parsed *sfnt.Font
	source string
}

func newFontChain(paths []string, size float64, logger *slog.Logger) *fontChain {
	if len(paths) == 0 {
		paths = DefaultFontPaths
	}
	c := &fontChain{size: size, logger: logger}
	for _, p := range paths {
		c.candidates = append(c.candidates, fileCandidate(p))
	}
	return c
}

func (c *fontChain) resolve() {
	for _, cand := range c.candidates {
		f, err := cand.load()
		if err != nil {
			c.logger.Debug("font candidate rejected", "font", cand.name, "error", err)
			continue
		}
		c.parsed = f
		c.source = cand.name
		c.logger.Debug("font selected", "font", cand.name)
		return
	}
	c.logger.Warn("no TrueType font found, using built-in bitmap font")
}

// Face returns a fresh face and the name of the font it came from.
func (c *fontChain) Face() (font.Face, string) {
	c.once.Do(c.resolve)
	if c.parsed != nil {
		face, err := opentype.NewFace(c.parsed, &opentype.FaceOptions{
			Size:    c.size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return face, c.source
		}
		c.logger.Warn("building font face failed, using built-in bitmap font", "font", c.source, "error", err)
	}
	return basicfont.Face7x13, "basicfont"
}
