package inference

import (
	"context"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-fusion/fusion"
	"github.com/nvr-ai/go-fusion/images"
)

// MaskHeadConfig configures the ONNX mask-refinement network. The graph
// takes one [1, 3, S, S] crop and returns a [1, 1, S, S] probability map.
type MaskHeadConfig struct {
	ModelPath   string
	LibraryPath string
	InputSize   int
	InputName   string
	OutputName  string
}

// MaskHead predicts a soft mask for every fused detection by running the
// network on the frame image cropped to the detection's box.
type MaskHead struct {
	session *Session
	size    int
}

var _ fusion.MaskRefiner = (*MaskHead)(nil)

// NewMaskHead loads the mask network.
func NewMaskHead(cfg MaskHeadConfig) (*MaskHead, error) {
	if cfg.InputSize <= 0 {
		return nil, errors.Errorf("mask head input size must be positive, got %d", cfg.InputSize)
	}
	s := int64(cfg.InputSize)
	session, err := NewSession(SessionConfig{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.LibraryPath,
		InputName:   cfg.InputName,
		OutputName:  cfg.OutputName,
		InputShape:  ort.NewShape(1, 3, s, s),
		OutputShape: ort.NewShape(1, 1, s, s),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load mask head")
	}
	return &MaskHead{session: session, size: cfg.InputSize}, nil
}

// Refine implements fusion.MaskRefiner. Frames without an image, and boxes
// that miss the image, get no mask.
func (h *MaskHead) Refine(ctx context.Context, frame *fusion.Frame, dets []fusion.FusedDetection) ([]*images.SoftMask, error) {
	masks := make([]*images.SoftMask, len(dets))
	if frame.Image == nil {
		return masks, nil
	}

	for i, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if CropBounds(d.Box2D, frame.Image.Bounds()).Empty() {
			continue
		}
		err := h.session.Run(
			func(in []float32) error {
				_, err := PrepareCrop(frame.Image, d.Box2D, h.size, in)
				return err
			},
			func(out []float32) error {
				m, err := images.NewSoftMask(h.size, append([]float32(nil), out[:h.size*h.size]...))
				masks[i] = m
				return err
			},
		)
		if err != nil {
			return nil, errors.Wrapf(err, "mask for detection %d", i)
		}
	}
	return masks, nil
}

// Close releases the native session.
func (h *MaskHead) Close() {
	h.session.Close()
}
