package images

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// DefaultMaskThreshold binarizes pasted soft masks.
const DefaultMaskThreshold = 0.5

// SoftMask is a small square matrix of per-pixel foreground probabilities
// (e.g. 14x14) predicted for one box, stored row-major.
type SoftMask struct {
	Size int       `json:"size" yaml:"size"`
	Data []float32 `json:"data" yaml:"data"`
}

// NewSoftMask wraps data as a size x size mask.
func NewSoftMask(size int, data []float32) (*SoftMask, error) {
	if size <= 0 || len(data) != size*size {
		return nil, errors.Errorf("soft mask needs %d values for size %d, got %d", size*size, size, len(data))
	}
	return &SoftMask{Size: size, Data: data}, nil
}

// Validate checks that Data holds Size x Size values.
func (m *SoftMask) Validate() error {
	if m.Size <= 0 || len(m.Data) != m.Size*m.Size {
		return errors.Errorf("soft mask of size %d needs %d values, got %d", m.Size, m.Size*m.Size, len(m.Data))
	}
	return nil
}

// At returns the probability at column x, row y.
func (m *SoftMask) At(x, y int) float32 {
	return m.Data[y*m.Size+x]
}

// toGray16 converts the probabilities to a 16-bit grayscale image so the
// resampler keeps sub-8-bit precision around the threshold.
func (m *SoftMask) toGray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, m.Size, m.Size))
	for y := 0; y < m.Size; y++ {
		for x := 0; x < m.Size; x++ {
			v := clamp(m.At(x, y), 0, 1)
			img.SetGray16(x, y, color.Gray16{Y: uint16(math32.Round(v * 0xffff))})
		}
	}
	return img
}

// PasteMask resizes a soft mask to the footprint of box and writes it into a
// full-resolution binary mask of the given shape.
//
// Pixels whose resampled probability is >= threshold are set to 255, all
// others stay 0. Parts of the box outside the image are cut off. A degenerate
// box yields an all-zero mask.
//
// Arguments:
//   - m: The soft mask predicted for the box.
//   - box: The box in original image coordinates.
//   - shape: The original image shape.
//   - threshold: Binarization threshold in [0, 1].
//
// Returns:
//   - *image.Gray: A shape-sized binary mask.
//   - error: If the shape or the mask is invalid.
func PasteMask(m *SoftMask, box Rect, shape Shape, threshold float32) (*image.Gray, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "paste mask")
	}
	out := image.NewGray(image.Rect(0, 0, shape.Width, shape.Height))
	if m == nil || box.Empty() {
		return out, nil
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "paste mask")
	}

	x0 := int(math32.Floor(box.X1))
	y0 := int(math32.Floor(box.Y1))
	x1 := int(math32.Ceil(box.X2))
	y1 := int(math32.Ceil(box.Y2))
	w, h := x1-x0, y1-y0
	if w <= 0 || h <= 0 {
		return out, nil
	}

	resized := resize.Resize(uint(w), uint(h), m.toGray16(), resize.Bilinear)
	cut := uint32(math32.Round(threshold * 0xffff))

	for y := 0; y < h; y++ {
		py := y0 + y
		if py < 0 || py >= shape.Height {
			continue
		}
		for x := 0; x < w; x++ {
			px := x0 + x
			if px < 0 || px >= shape.Width {
				continue
			}
			g := color.Gray16Model.Convert(resized.At(resized.Bounds().Min.X+x, resized.Bounds().Min.Y+y)).(color.Gray16)
			if uint32(g.Y) >= cut {
				out.SetGray(px, py, color.Gray{Y: 255})
			}
		}
	}
	return out, nil
}
