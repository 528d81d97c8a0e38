// Package render paints a document's boxes and overlay layer into an
// image, back to front.
package render

import (
	"image"
	"image/color"
	"math"
)

// Canvas is a software RGBA surface.
type Canvas struct {
	Pixels []color.RGBA
	Width  int
	Height int
}

// NewCanvas creates a white canvas.
func NewCanvas(width, height int) *Canvas {
	c := &Canvas{
		Pixels: make([]color.RGBA, max(width, 0)*max(height, 0)),
		Width:  max(width, 0),
		Height: max(height, 0),
	}
	c.Clear(White)
	return c
}

// Clear fills the whole canvas with col.
func (c *Canvas) Clear(col color.RGBA) {
	for i := range c.Pixels {
		c.Pixels[i] = col
	}
}

// SetPixel sets a pixel; out-of-bounds writes are dropped.
func (c *Canvas) SetPixel(x, y int, col color.RGBA) {
	if x >= 0 && x < c.Width && y >= 0 && y < c.Height {
		c.Pixels[y*c.Width+x] = col
	}
}

// SetPixelBlend composites col over the pixel (source over).
func (c *Canvas) SetPixelBlend(x, y int, col color.RGBA) {
	if x < 0 || x >= c.Width || y < 0 || y >= c.Height {
		return
	}
	idx := y*c.Width + x
	dst := c.Pixels[idx]

	srcA := float64(col.A) / 255
	dstA := float64(dst.A) / 255
	outA := srcA + dstA*(1-srcA)
	if outA == 0 {
		c.Pixels[idx] = color.RGBA{}
		return
	}
	mix := func(s, d uint8) uint8 {
		return uint8(math.Round((float64(s)*srcA + float64(d)*dstA*(1-srcA)) / outA))
	}
	c.Pixels[idx] = color.RGBA{
		R: mix(col.R, dst.R),
		G: mix(col.G, dst.G),
		B: mix(col.B, dst.B),
		A: uint8(math.Round(outA * 255)),
	}
}

// GetPixel returns the pixel at (x, y), transparent when out of bounds.
func (c *Canvas) GetPixel(x, y int) color.RGBA {
	if x < 0 || x >= c.Width || y < 0 || y >= c.Height {
		return color.RGBA{}
	}
	return c.Pixels[y*c.Width+x]
}

// FillRect fills a rectangle clipped to the canvas, blending when col is
// translucent.
func (c *Canvas) FillRect(x, y, width, height int, col color.RGBA) {
	x1, y1 := max(x, 0), max(y, 0)
	x2, y2 := min(x+width, c.Width), min(y+height, c.Height)
	for py := y1; py < y2; py++ {
		for px := x1; px < x2; px++ {
			if col.A < 255 {
				c.SetPixelBlend(px, py, col)
			} else {
				c.Pixels[py*c.Width+px] = col
			}
		}
	}
}

// StrokeRect draws a rectangle outline of the given thickness inside the
// rectangle.
func (c *Canvas) StrokeRect(x, y, width, height, thickness int, col color.RGBA) {
	if thickness <= 0 || width <= 0 || height <= 0 {
		return
	}
	thickness = min(thickness, width/2+1, height/2+1)
	c.FillRect(x, y, width, thickness, col)
	c.FillRect(x, y+height-thickness, width, thickness, col)
	c.FillRect(x, y+thickness, thickness, height-2*thickness, col)
	c.FillRect(x+width-thickness, y+thickness, thickness, height-2*thickness, col)
}

// ToImage copies the canvas into an image.RGBA.
func (c *Canvas) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			img.SetRGBA(x, y, c.Pixels[y*c.Width+x])
		}
	}
	return img
}
