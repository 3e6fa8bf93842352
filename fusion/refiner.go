package fusion

import (
	"context"

	"github.com/nvr-ai/go-fusion/images"
)

// MaskRefiner produces one soft mask per assembled detection. Boxes are in
// original image pixels. A nil entry means the detection gets no mask.
type MaskRefiner interface {
	Refine(ctx context.Context, frame *Frame, dets []FusedDetection) ([]*images.SoftMask, error)
}

// NoMasks is the refiner for pipelines without a mask branch.
type NoMasks struct{}

// Refine returns no masks.
func (NoMasks) Refine(context.Context, *Frame, []FusedDetection) ([]*images.SoftMask, error) {
	return nil, nil
}

// CarriedMasks reuses the masks the image detector already predicted.
// Detections without a 2D origin get none.
type CarriedMasks struct{}

// Refine looks up each detection's 2D mask.
func (CarriedMasks) Refine(_ context.Context, frame *Frame, dets []FusedDetection) ([]*images.SoftMask, error) {
	if len(frame.Dets2D.Masks) == 0 {
		return nil, nil
	}
	out := make([]*images.SoftMask, len(dets))
	for i, d := range dets {
		if d.Index2D >= 0 && d.Index2D < len(frame.Dets2D.Masks) {
			out[i] = frame.Dets2D.Masks[d.Index2D]
		}
	}
	return out, nil
}
