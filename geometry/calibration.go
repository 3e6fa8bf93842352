package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minDepth is the closest camera-frame depth (metres) at which a point is
// still considered in front of the image plane.
const minDepth = 1e-3

// ErrCalibration marks calibration matrices that cannot describe a projection.
var ErrCalibration = errors.New("invalid calibration")

// Calibration holds the KITTI-style projection chain for one frame:
//
//	lidar --V2C--> camera --R0--> rectified camera --P2--> image pixels
//
// It is read-only after construction and safe to share between goroutines.
type Calibration struct {
	// P2 is the 3x4 rectified camera projection matrix.
	P2 *mat.Dense
	// R0 is the 3x3 rectifying rotation.
	R0 *mat.Dense
	// V2C is the 3x4 LiDAR-to-camera rigid transform.
	V2C *mat.Dense
}

// NewCalibration builds a Calibration from row-major matrix values.
//
// Arguments:
//   - p2: 12 values of the 3x4 projection matrix.
//   - r0: 9 values of the 3x3 rectification matrix.
//   - v2c: 12 values of the 3x4 LiDAR-to-camera transform.
//
// Returns:
//   - *Calibration: The calibration.
//   - error: ErrCalibration if a matrix has the wrong size, R0 is singular or
//     the projection has no focal length.
func NewCalibration(p2, r0, v2c []float64) (*Calibration, error) {
	if len(p2) != 12 || len(r0) != 9 || len(v2c) != 12 {
		return nil, errors.Wrapf(ErrCalibration, "expected 12/9/12 values, got %d/%d/%d", len(p2), len(r0), len(v2c))
	}
	c := &Calibration{
		P2:  mat.NewDense(3, 4, append([]float64(nil), p2...)),
		R0:  mat.NewDense(3, 3, append([]float64(nil), r0...)),
		V2C: mat.NewDense(3, 4, append([]float64(nil), v2c...)),
	}
	if det := mat.Det(c.R0); math.Abs(det) < 1e-9 {
		return nil, errors.Wrapf(ErrCalibration, "rectification matrix is singular (det=%g)", det)
	}
	if c.P2.At(0, 0) == 0 || c.P2.At(1, 1) == 0 {
		return nil, errors.Wrap(ErrCalibration, "projection matrix has zero focal length")
	}
	return c, nil
}

// homogeneous packs points into an N x 4 matrix with a trailing column of ones.
func homogeneous(points []r3.Vector) *mat.Dense {
	data := make([]float64, 0, len(points)*4)
	for _, p := range points {
		data = append(data, p.X, p.Y, p.Z, 1)
	}
	return mat.NewDense(len(points), 4, data)
}

// LidarToRect transforms LiDAR-frame points into the rectified camera frame.
func (c *Calibration) LidarToRect(points []r3.Vector) []r3.Vector {
	if len(points) == 0 {
		return nil
	}
	var cam, rect mat.Dense
	cam.Mul(homogeneous(points), c.V2C.T())
	rect.Mul(&cam, c.R0.T())

	out := make([]r3.Vector, len(points))
	for i := range out {
		out[i] = r3.Vector{X: rect.At(i, 0), Y: rect.At(i, 1), Z: rect.At(i, 2)}
	}
	return out
}

// ImagePoint is a projected pixel together with its camera depth.
type ImagePoint struct {
	U, V  float64
	Depth float64
}

// Visible reports whether the point lies in front of the camera.
func (p ImagePoint) Visible() bool {
	return p.Depth > minDepth
}

// RectToImage projects rectified camera points to pixels.
func (c *Calibration) RectToImage(points []r3.Vector) []ImagePoint {
	if len(points) == 0 {
		return nil
	}
	var proj mat.Dense
	proj.Mul(homogeneous(points), c.P2.T())

	out := make([]ImagePoint, len(points))
	for i := range out {
		w := proj.At(i, 2)
		depth := w - c.P2.At(2, 3)
		// No pixel exists on the camera plane; the zero point is not Visible.
		if math.Abs(w) < minDepth {
			out[i] = ImagePoint{}
			continue
		}
		out[i] = ImagePoint{U: proj.At(i, 0) / w, V: proj.At(i, 1) / w, Depth: depth}
	}
	return out
}

// LidarToImage chains LidarToRect and RectToImage.
func (c *Calibration) LidarToImage(points []r3.Vector) []ImagePoint {
	return c.RectToImage(c.LidarToRect(points))
}
