package captcha

import (
	"crypto/rand"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math/big"
	mrand "math/rand/v2"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// noiseLines is the number of interference lines drawn behind the digits.
const noiseLines = 12

// Generator creates numeric codes and renders them as PNG images.
type Generator struct {
	length int
	width  int
	height int
}

// NewGenerator creates a generator for codes of length digits rendered at
// width x height pixels.
func NewGenerator(length, width, height int) *Generator {
	return &Generator{length: length, width: width, height: height}
}

// Code returns a random numeric code from crypto/rand.
func (g *Generator) Code() (string, error) {
	digits := make([]byte, g.length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generating challenge digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// WritePNG draws code on a noisy background and encodes it to w.
func (g *Generator) WritePNG(w io.Writer, code string) error {
	img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: randomColor(200, 250)}, image.Point{}, draw.Src)

	for i := 0; i < noiseLines; i++ {
		drawLine(img,
			mrand.IntN(g.width), mrand.IntN(g.height),
			mrand.IntN(g.width), mrand.IntN(g.height),
			randomColor(160, 200))
	}

	face := basicfont.Face7x13
	slot := g.width / max(len(code), 1)
	baseline := (g.height + face.Ascent - face.Descent) / 2
	for i, ch := range code {
		d := &font.Drawer{
			Dst:  img,
			Src:  &image.Uniform{C: randomColor(20, 130)},
			Face: face,
			Dot: fixed.P(
				i*slot+(slot-face.Advance)/2+mrand.IntN(3)-1,
				baseline+mrand.IntN(5)-2,
			),
		}
		d.DrawString(string(ch))
	}

	return png.Encode(w, img)
}

// randomColor returns an opaque color with channels in [lo, hi).
func randomColor(lo, hi int) color.RGBA {
	c := func() uint8 { return uint8(lo + mrand.IntN(hi-lo)) }
	return color.RGBA{R: c(), G: c(), B: c(), A: 0xff}
}

// drawLine draws a one-pixel line with Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
