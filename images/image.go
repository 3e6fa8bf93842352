// Package images - Image shape definitions for coordinate recovery.
package images

import "fmt"

// Shape is the pixel size of an image.
type Shape struct {
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Validate checks that both dimensions are positive.
func (s Shape) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid image dimensions: %dx%d", s.Width, s.Height)
	}
	return nil
}

// ScaleTo returns the per-axis factors that map coordinates in s onto dst.
func (s Shape) ScaleTo(dst Shape) (sx, sy float32) {
	return float32(dst.Width) / float32(s.Width), float32(dst.Height) / float32(s.Height)
}

// RecoverBox maps a box from the network input frame (from) back to the
// original recorded image (to) and clips it to the original bounds.
func RecoverBox(r Rect, from, to Shape) Rect {
	sx, sy := from.ScaleTo(to)
	return r.Scale(sx, sy).Clip(float32(to.Width), float32(to.Height))
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
