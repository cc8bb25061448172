package framecodec

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// RowSeparator joins encoded rows.
	RowSeparator = ';'

	// PixelWidth is the number of characters one encoded pixel occupies.
	PixelWidth = 6

	hexDigits = "0123456789ABCDEF"
)

// ErrFormat is matched by every error Decode returns.
var ErrFormat = errors.New("malformed frame payload")

// Pixel is one three-channel sample. Channel order is whatever the capture
// source produced; the codec never reorders.
type Pixel [3]uint8

// Grid is a frame as rows of pixels.
type Grid [][]Pixel

// Dims returns the number of rows and the width of the first row.
func (g Grid) Dims() (rows, cols int) {
	if len(g) == 0 {
		return 0, 0
	}
	return len(g), len(g[0])
}

// Uniform reports whether every row has the same width.
func (g Grid) Uniform() bool {
	for i := 1; i < len(g); i++ {
		if len(g[i]) != len(g[0]) {
			return false
		}
	}
	return true
}

// Equal reports whether two grids have identical shape and samples.
func (g Grid) Equal(other Grid) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if len(g[i]) != len(other[i]) {
			return false
		}
		for j := range g[i] {
			if g[i][j] != other[i][j] {
				return false
			}
		}
	}
	return true
}

// FormatError describes where a payload stopped being decodable.
type FormatError struct {
	Row    int
	Column int // character offset within the row, -1 when the whole row is at fault
	Reason string
}

func (e *FormatError) Error() string {
	if e.Column < 0 {
		return fmt.Sprintf("%v: row %d: %s", ErrFormat, e.Row, e.Reason)
	}
	return fmt.Sprintf("%v: row %d col %d: %s", ErrFormat, e.Row, e.Column, e.Reason)
}

// Is lets errors.Is(err, ErrFormat) match a *FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Encode renders g in wire form. Decode(Encode(g)) equals g for every grid
// except Grid{{}}: a single empty row and no rows both encode to "", which
// decodes to no rows.
func Encode(g Grid) string {
	if len(g) == 0 {
		return ""
	}

	size := len(g) - 1
	for _, row := range g {
		size += len(row) * PixelWidth
	}

	var b strings.Builder
	b.Grow(size)
	for i, row := range g {
		if i > 0 {
			b.WriteByte(RowSeparator)
		}
		for _, px := range row {
			for _, v := range px {
				b.WriteByte(hexDigits[v>>4])
				b.WriteByte(hexDigits[v&0x0F])
			}
		}
	}
	return b.String()
}

// Decode parses a wire payload back into a grid. Rows may differ in width;
// callers that need a rectangular frame check Uniform.
func Decode(s string) (Grid, error) {
	if s == "" {
		return Grid{}, nil
	}

	rows := strings.Split(s, string(RowSeparator))
	g := make(Grid, len(rows))
	for r, row := range rows {
		if len(row)%PixelWidth != 0 {
			return nil, &FormatError{
				Row:    r,
				Column: -1,
				Reason: fmt.Sprintf("length %d is not a multiple of %d", len(row), PixelWidth),
			}
		}

		pixels := make([]Pixel, len(row)/PixelWidth)
		for p := range pixels {
			base := p * PixelWidth
			for c := 0; c < 3; c++ {
				hi, ok := unhex(row[base+2*c])
				if !ok {
					return nil, invalidChar(r, base+2*c, row[base+2*c])
				}
				lo, ok := unhex(row[base+2*c+1])
				if !ok {
					return nil, invalidChar(r, base+2*c+1, row[base+2*c+1])
				}
				pixels[p][c] = hi<<4 | lo
			}
		}
		g[r] = pixels
	}
	return g, nil
}

func invalidChar(row, col int, c byte) error {
	return &FormatError{Row: row, Column: col, Reason: fmt.Sprintf("invalid character %q", c)}
}

// unhex accepts uppercase digits only so that accepted payloads re-encode
// to the same string.
func unhex(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Downscale keeps every factor-th pixel in both directions. A factor of 4
// turns a 640x480 capture into 160x120. Factors below 2 return g unchanged.
func Downscale(g Grid, factor int) Grid {
	if factor < 2 || len(g) == 0 {
		return g
	}

	out := make(Grid, 0, (len(g)+factor-1)/factor)
	for r := 0; r < len(g); r += factor {
		src := g[r]
		row := make([]Pixel, 0, (len(src)+factor-1)/factor)
		for c := 0; c < len(src); c += factor {
			row = append(row, src[c])
		}
		out = append(out, row)
	}
	return out
}
