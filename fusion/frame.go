package fusion

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
)

// Detections2D is the raw output of the image detector for one frame, one
// entry per box across all slices. Boxes are in network-input pixels.
type Detections2D struct {
	Boxes  []images.Rect      `json:"boxes"`
	Scores []float32          `json:"scores"`
	Labels []int              `json:"labels"`
	Masks  []*images.SoftMask `json:"masks,omitempty"`
}

// Len returns the number of boxes.
func (d Detections2D) Len() int { return len(d.Boxes) }

// Validate checks that all columns have the same length and that every mask
// is well formed. Masks may be absent.
func (d Detections2D) Validate() error {
	n := len(d.Boxes)
	if len(d.Scores) != n || len(d.Labels) != n {
		return errors.Wrapf(ErrInputShape, "2d detections: %d boxes, %d scores, %d labels", n, len(d.Scores), len(d.Labels))
	}
	if d.Masks != nil && len(d.Masks) != n {
		return errors.Wrapf(ErrInputShape, "2d detections: %d boxes, %d masks", n, len(d.Masks))
	}
	for i, m := range d.Masks {
		if m == nil {
			continue
		}
		if err := m.Validate(); err != nil {
			return errors.Wrapf(ErrInputShape, "2d detection %d: %v", i, err)
		}
	}
	return nil
}

// Detections3D is the raw output of the point-cloud detector for one frame.
type Detections3D struct {
	Boxes  []geometry.Box3D `json:"boxes"`
	Scores []float32        `json:"scores"`
	Labels []int            `json:"labels"`
}

// Len returns the number of boxes.
func (d Detections3D) Len() int { return len(d.Boxes) }

// Validate checks that all columns have the same length.
func (d Detections3D) Validate() error {
	n := len(d.Boxes)
	if len(d.Scores) != n || len(d.Labels) != n {
		return errors.Wrapf(ErrInputShape, "3d detections: %d boxes, %d scores, %d labels", n, len(d.Scores), len(d.Labels))
	}
	return nil
}

// IndexPair links a 2D and a 3D detection produced from the same region
// proposal. Such pairs are matched before the IoU search runs.
type IndexPair struct {
	Index2D int `json:"index_2d"`
	Index3D int `json:"index_3d"`
}

// Frame is everything the pipeline needs to fuse one scene.
type Frame struct {
	ID string

	Dets2D Detections2D
	Dets3D Detections3D

	Calib      *geometry.Calibration
	ValidRange images.ValidRange

	// InputShape is the network input size the 2D boxes refer to and
	// OriginalShape the recorded image size results are reported in.
	InputShape    images.Shape
	OriginalShape images.Shape

	// Image is the original picture. Only mask refiners that run a network
	// need it.
	Image image.Image

	SharedIndices []IndexPair
}

// Validate checks the frame before any processing starts.
func (f *Frame) Validate() error {
	if err := f.Dets2D.Validate(); err != nil {
		return err
	}
	if err := f.Dets3D.Validate(); err != nil {
		return err
	}
	if f.Dets3D.Len() > 0 && f.Calib == nil {
		return errors.New("3d detections without calibration")
	}
	if err := f.InputShape.Validate(); err != nil {
		return errors.Wrap(err, "input shape")
	}
	if err := f.OriginalShape.Validate(); err != nil {
		return errors.Wrap(err, "original shape")
	}
	if err := f.ValidRange.Validate(); err != nil {
		return err
	}
	for _, p := range f.SharedIndices {
		if p.Index2D < 0 || p.Index2D >= f.Dets2D.Len() || p.Index3D < 0 || p.Index3D >= f.Dets3D.Len() {
			return errors.Wrapf(ErrInputShape, "shared index pair %d/%d out of range", p.Index2D, p.Index3D)
		}
	}
	return nil
}

// rows returns the row count and row-major float32 data of an N x width
// tensor, with width checked against minWidth.
func rows(t *tensor.Dense, minWidth int, name string) (int, int, []float32, error) {
	shape := t.Shape()
	if len(shape) != 2 || shape[1] < minWidth {
		return 0, 0, nil, errors.Wrapf(ErrInputShape, "%s tensor must be N x %d or wider, got %v", name, minWidth, shape)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return 0, 0, nil, errors.Errorf("%s tensor must hold float32, got %v", name, t.Dtype())
	}
	return shape[0], shape[1], data, nil
}

// Detections2DFromTensor reads an N x 4 box tensor (x1, y1, x2, y2) and its
// score and label columns.
func Detections2DFromTensor(boxes *tensor.Dense, scores []float32, labels []int) (Detections2D, error) {
	n, width, data, err := rows(boxes, 4, "2d box")
	if err != nil {
		return Detections2D{}, err
	}
	d := Detections2D{Boxes: make([]images.Rect, n), Scores: scores, Labels: labels}
	for i := 0; i < n; i++ {
		r := data[i*width:]
		d.Boxes[i] = images.Rect{X1: r[0], Y1: r[1], X2: r[2], Y2: r[3]}
	}
	return d, d.Validate()
}

// Detections3DFromTensor reads an N x 7 box tensor
// (x, y, z, dx, dy, dz, heading) and its score and label columns. Extra
// columns such as velocities are ignored.
func Detections3DFromTensor(boxes *tensor.Dense, scores []float32, labels []int) (Detections3D, error) {
	n, width, data, err := rows(boxes, 7, "3d box")
	if err != nil {
		return Detections3D{}, err
	}
	d := Detections3D{Boxes: make([]geometry.Box3D, n), Scores: scores, Labels: labels}
	for i := 0; i < n; i++ {
		b, err := geometry.Box3DFromSlice(data[i*width : (i+1)*width])
		if err != nil {
			return Detections3D{}, errors.Wrapf(err, "row %d", i)
		}
		d.Boxes[i] = b
	}
	return d, d.Validate()
}
