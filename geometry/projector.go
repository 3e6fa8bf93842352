package geometry

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/nvr-ai/go-fusion/images"
)

// CornerMode selects which corners of a 3D box are projected.
type CornerMode string

const (
	// CornersBox projects all eight corners.
	CornersBox CornerMode = "box"
	// CornersFootprint projects only the four ground corners, giving a
	// tighter box for tall objects close to the camera.
	CornersFootprint CornerMode = "footprint"
)

// Projector turns 3D boxes into clamped axis-aligned image boxes.
type Projector struct {
	Calib *Calibration
	Range images.ValidRange
	Mode  CornerMode
}

// NewProjector creates a projector that clamps into vr.
func NewProjector(calib *Calibration, vr images.ValidRange, mode CornerMode) *Projector {
	if mode == "" {
		mode = CornersBox
	}
	return &Projector{Calib: calib, Range: vr, Mode: mode}
}

func (p *Projector) corners(b Box3D) []r3.Vector {
	if p.Mode == CornersFootprint {
		fp := b.FootprintCorners()
		return fp[:]
	}
	c := b.Corners()
	return c[:]
}

// ProjectOne projects a single box.
//
// Corners behind the camera are ignored. If no corner is visible the result
// is the degenerate box at the clamp origin. The returned box is always
// clamped to the valid range, so x1 <= x2 and y1 <= y2 hold whenever the
// unclamped min/max did.
func (p *Projector) ProjectOne(b Box3D) images.Rect {
	origin := p.Range.Clamp(images.Rect{X1: p.Range.XMin, Y1: p.Range.YMin, X2: p.Range.XMin, Y2: p.Range.YMin})

	pts := p.Calib.LidarToImage(p.corners(b))
	minU, minV := math.Inf(1), math.Inf(1)
	maxU, maxV := math.Inf(-1), math.Inf(-1)
	visible := 0
	for _, pt := range pts {
		if !pt.Visible() {
			continue
		}
		visible++
		minU, maxU = math.Min(minU, pt.U), math.Max(maxU, pt.U)
		minV, maxV = math.Min(minV, pt.V), math.Max(maxV, pt.V)
	}
	if visible == 0 {
		return origin
	}

	return p.Range.Clamp(images.Rect{
		X1: float32(minU),
		Y1: float32(minV),
		X2: float32(maxU),
		Y2: float32(maxV),
	})
}

// Project returns one clamped image box per input box, in input order.
func (p *Projector) Project(boxes []Box3D) []images.Rect {
	out := make([]images.Rect, len(boxes))
	for i, b := range boxes {
		out[i] = p.ProjectOne(b)
	}
	return out
}
