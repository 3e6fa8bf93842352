// Package images - Image-plane geometry for detection boxes.
package images

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Rect is an axis-aligned box in pixel coordinates.
//
// Coordinates are float32 because they come straight out of a detector head
// (or a projected 3D box) and are only rounded when drawn. A Rect with
// X2 <= X1 or Y2 <= Y1 is degenerate: it has zero area and its IoU with
// anything is 0.
type Rect struct {
	X1 float32 `json:"x1" yaml:"x1"`
	Y1 float32 `json:"y1" yaml:"y1"`
	X2 float32 `json:"x2" yaml:"x2"`
	Y2 float32 `json:"y2" yaml:"y2"`
}

// Width returns the horizontal extent of r, or 0 for an inverted box.
func (r Rect) Width() float32 {
	return math32.Max(0, r.X2-r.X1)
}

// Height returns the vertical extent of r, or 0 for an inverted box.
func (r Rect) Height() float32 {
	return math32.Max(0, r.Y2-r.Y1)
}

// Area returns the area of r in square pixels.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Empty reports whether r has zero area.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
func (r Rect) Scale(sx, sy float32) Rect {
	return Rect{X1: r.X1 * sx, Y1: r.Y1 * sy, X2: r.X2 * sx, Y2: r.Y2 * sy}
}

// Clip limits every coordinate of r to [0, width] x [0, height].
func (r Rect) Clip(width, height float32) Rect {
	return Rect{
		X1: clamp(r.X1, 0, width),
		Y1: clamp(r.Y1, 0, height),
		X2: clamp(r.X2, 0, width),
		Y2: clamp(r.Y2, 0, height),
	}
}

// Within reports whether r lies inside [0, width] x [0, height].
func (r Rect) Within(width, height float32) bool {
	return r.X1 >= 0 && r.Y1 >= 0 && r.X2 <= width && r.Y2 <= height &&
		r.X1 <= r.X2 && r.Y1 <= r.Y2
}

func (r Rect) String() string {
	return fmt.Sprintf("[%.2f, %.2f, %.2f, %.2f]", r.X1, r.Y1, r.X2, r.Y2)
}

// ValidRange is the sub-rectangle of the network input image that the sensor
// actually covers, [XMin, YMin, XMax, YMax]. Upstream cropping and
// letterboxing decide it; here it is only used to clamp projected boxes.
type ValidRange struct {
	XMin float32 `json:"x_min" yaml:"x_min"`
	YMin float32 `json:"y_min" yaml:"y_min"`
	XMax float32 `json:"x_max" yaml:"x_max"`
	YMax float32 `json:"y_max" yaml:"y_max"`
}

// FullRange returns the ValidRange covering a whole width x height image.
func FullRange(width, height int) ValidRange {
	return ValidRange{XMax: float32(width), YMax: float32(height)}
}

// Validate checks that the range spans at least one pixel in each direction.
func (v ValidRange) Validate() error {
	if v.XMax-1 < v.XMin || v.YMax-1 < v.YMin {
		return fmt.Errorf("invalid valid range [%v, %v, %v, %v]", v.XMin, v.YMin, v.XMax, v.YMax)
	}
	return nil
}

// Clamp limits the coordinates of r component-wise so that
// x1, x2 are in [XMin, XMax-1] and y1, y2 are in [YMin, YMax-1].
//
// A box that lies completely outside the range collapses onto the nearest
// border and becomes degenerate, which is exactly what the matcher expects.
// Inverted input stays inverted-or-flat, never more inverted than it was.
func (v ValidRange) Clamp(r Rect) Rect {
	return Rect{
		X1: clamp(r.X1, v.XMin, v.XMax-1),
		Y1: clamp(r.Y1, v.YMin, v.YMax-1),
		X2: clamp(r.X2, v.XMin, v.XMax-1),
		Y2: clamp(r.Y2, v.YMin, v.YMax-1),
	}
}

func clamp(value, lo, hi float32) float32 {
	return math32.Min(math32.Max(value, lo), hi)
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
// IoU is a number between 0.0 and 1.0 that answers "how much do these two
// boxes overlap?":
//
//	IoU = Area of Intersection / Area of Union
//
//	- 1.0 means the boxes are identical.
//	- 0.0 means they do not overlap at all (touching edges count as 0).
//
// **How it is calculated**
//
//  1. The intersection's top-left corner is the maximum of the two top-left
//     corners, and its bottom-right corner is the minimum of the two
//     bottom-right corners. If the resulting width or height is zero or
//     negative the boxes are disjoint and we return 0 immediately.
//  2. The union follows the principle of inclusion-exclusion:
//     Area(A) + Area(B) - Area(A ∩ B).
//  3. A degenerate (zero-area) box on either side can only intersect in a
//     zero-area region, so it always yields 0 and never divides by zero.
//
// Arguments:
//   - r: The first box.
//   - o: The second box.
//
// Returns:
//   - float32: A value in [0.0, 1.0].
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 1, Y1: 1, X2: 9, Y2: 9}
//
//	iou := CalculateIoU(a, b) // intersection 64, union 100, IoU 0.64
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return math32.Min(interArea/unionArea, 1)
}
