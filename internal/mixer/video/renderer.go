package video

import (
	"strconv"

	"github.com/ascii-chat/ascii-chat/internal/mixer"
)

// Palette maps a quantized luminance bucket (0..len(Palette)-1) to the
// glyph rune drawn for it. The upper layer supplies a monotonic (dim to
// bright) sequence; glyph/Unicode generation itself is an external
// concern this package never decides.
type Palette []rune

// Luminance quantizes an RGB triplet (0-255 each) to a palette index
// using the standard Rec.601 luma coefficients.
func Luminance(r, g, b byte, paletteLen int) int {
	if paletteLen <= 0 {
		return 0
	}
	y := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	idx := int(y / 256.0 * float64(paletteLen))
	if idx >= paletteLen {
		idx = paletteLen - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// ansiColorEscape returns the color-setting prefix for one cell's RGB
// value at the given capability tier, or "" for ColorNone.
func ansiColorEscape(caps mixer.ColorCaps, r, g, b byte) string {
	switch caps {
	case mixer.ColorTrue:
		return sgrTrueColor(r, g, b)
	case mixer.Color256:
		return sgr256Color(r, g, b)
	case mixer.Color8:
		return sgr8Color(r, g, b)
	default:
		return ""
	}
}

func sgrTrueColor(r, g, b byte) string {
	return "\x1b[38;2;" + strconv.Itoa(int(r)) + ";" + strconv.Itoa(int(g)) + ";" + strconv.Itoa(int(b)) + "m"
}

// sgr256Color approximates RGB with the standard 6x6x6 color cube used by
// 256-color terminals (indices 16-231).
func sgr256Color(r, g, b byte) string {
	toIdx := func(c byte) int { return int(c) * 5 / 255 }
	idx := 16 + 36*toIdx(r) + 6*toIdx(g) + toIdx(b)
	return "\x1b[38;5;" + strconv.Itoa(idx) + "m"
}

// sgr8Color buckets RGB into the 8 basic ANSI colors by nearest corner of
// the color cube.
func sgr8Color(r, g, b byte) string {
	idx := 0
	if r >= 128 {
		idx |= 1
	}
	if g >= 128 {
		idx |= 2
	}
	if b >= 128 {
		idx |= 4
	}
	return "\x1b[3" + strconv.Itoa(idx) + "m"
}

const colorReset = "\x1b[0m"

// noSignalGlyph fills a tile when a source's latest frame decode failed.
const noSignalGlyph = '?'
