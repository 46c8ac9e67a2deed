package text

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/plan9font"
	"golang.org/x/image/math/fixed"
)

// Face measures and paints glyph coverage. Coordinates are relative to a
// pen whose top-left (ascent line, left edge) sits at the given point.
type Face interface {
	// Measure returns the ink bounding box of s for a pen at (0,0).
	Measure(s string) image.Rectangle
	// Draw paints glyph coverage for s into mask with the pen at at.
	Draw(mask *image.Alpha, s string, at image.Point)
}

// FontFace adapts an x/image font.Face.
type FontFace struct {
	face   font.Face
	ascent fixed.Int26_6
}

func NewFontFace(f font.Face) *FontFace {
	return &FontFace{face: f, ascent: f.Metrics().Ascent}
}

// DefaultFace is the built-in 7x13 bitmap font used when nothing else loads.
func DefaultFace() *FontFace { return NewFontFace(basicfont.Face7x13) }

func (f *FontFace) Measure(s string) image.Rectangle {
	if s == "" {
		return image.Rectangle{}
	}
	b, _ := font.BoundString(f.face, s)
	return image.Rect(
		b.Min.X.Floor(), (b.Min.Y + f.ascent).Floor(),
		b.Max.X.Ceil(), (b.Max.Y + f.ascent).Ceil(),
	)
}

func (f *FontFace) Draw(mask *image.Alpha, s string, at image.Point) {
	if s == "" {
		return
	}
	d := font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: f.face,
		Dot:  fixed.Point26_6{X: fixed.I(at.X), Y: fixed.I(at.Y) + f.ascent},
	}
	d.DrawString(s)
}

// LoadFace loads the font at path. Plan 9 bitmap fonts (".font") are
// preferred for crisp LED output; ".ttf"/".otf" go through opentype at the
// given pixel size. Any failure falls back to DefaultFace and is only
// logged.
func LoadFace(path string, size float64, logger zerolog.Logger) Face {
	if path == "" {
		logger.Debug().Msg("no font configured; falling back to default bitmap font")
		return DefaultFace()
	}
	f, err := loadFace(path, size)
	if err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("font load failed; falling back to default bitmap font")
		return DefaultFace()
	}
	logger.Debug().Str("path", path).Msg("font loaded")
	return NewFontFace(f)
}

func loadFace(path string, size float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".font":
		dir := filepath.Dir(path)
		return plan9font.ParseFont(data, func(rel string) ([]byte, error) {
			return os.ReadFile(filepath.Join(dir, rel))
		})
	default:
		ot, err := opentype.Parse(data)
		if err != nil {
			return nil, err
		}
		if size <= 0 {
			size = 12
		}
		return opentype.NewFace(ot, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	}
}
