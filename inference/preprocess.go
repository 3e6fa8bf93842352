package inference

import (
	"image"
	"image/draw"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion/images"
)

// CropBounds converts a float box to the integer pixel rectangle covering
// it, cut to the image bounds. The result may be empty.
func CropBounds(box images.Rect, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math32.Floor(box.X1)), int(math32.Floor(box.Y1)),
		int(math32.Ceil(box.X2)), int(math32.Ceil(box.Y2)),
	)
	return r.Intersect(bounds)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// PrepareCrop cuts box out of img, resizes it to size x size and writes it
// into dst as planar RGB scaled to [0, 1].
//
// Arguments:
//   - img: The original frame.
//   - box: The detection in original image coordinates.
//   - size: Side of the square network input.
//   - dst: Destination holding at least 3*size*size floats.
//
// Returns:
//   - bool: False when the box does not cover any pixel. dst is untouched.
//   - error: If dst is too small.
func PrepareCrop(img image.Image, box images.Rect, size int, dst []float32) (bool, error) {
	channelSize := size * size
	if len(dst) < channelSize*3 {
		return false, errors.Errorf("destination holds %d floats, needs %d", len(dst), channelSize*3)
	}

	r := CropBounds(box, img.Bounds())
	if r.Empty() {
		return false, nil
	}

	patch := resize.Resize(uint(size), uint(size), crop(img, r), resize.Bilinear)
	origin := patch.Bounds().Min

	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := patch.At(origin.X+x, origin.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}
	return true, nil
}
