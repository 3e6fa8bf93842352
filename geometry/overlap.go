package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// OverlapMode selects how two 3D boxes are compared during suppression.
type OverlapMode string

const (
	// OverlapIoU3D compares full volumes (BEV intersection x height overlap).
	OverlapIoU3D OverlapMode = "iou3d"
	// OverlapBEV compares the heading-aware ground-plane footprints only.
	OverlapBEV OverlapMode = "bev"
)

const areaEpsilon = 1e-9

// ringArea is the absolute area of a closed ring.
func ringArea(r orb.Ring) float64 {
	if len(r) < 4 {
		return 0
	}
	return math.Abs(planar.Area(r))
}

// cross is the z component of (b-a) x (p-a); positive when p is left of a->b.
func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

func lineIntersection(p1, p2, a, b orb.Point) orb.Point {
	d1 := cross(a, b, p1)
	d2 := cross(a, b, p2)
	t := d1 / (d1 - d2)
	return orb.Point{p1[0] + t*(p2[0]-p1[0]), p1[1] + t*(p2[1]-p1[1])}
}

// clipConvex clips subject by the convex, counter-clockwise ring clip
// (Sutherland-Hodgman). Both rings are closed; the result is closed, or nil
// when nothing is left.
func clipConvex(subject, clip orb.Ring) orb.Ring {
	output := []orb.Point(subject[:len(subject)-1])
	for i := 0; i < len(clip)-1 && len(output) > 0; i++ {
		a, b := clip[i], clip[i+1]
		input := output
		output = make([]orb.Point, 0, len(input)+2)
		for j := range input {
			cur := input[j]
			prev := input[(j+len(input)-1)%len(input)]
			curIn := cross(a, b, cur) >= 0
			prevIn := cross(a, b, prev) >= 0
			switch {
			case curIn && prevIn:
				output = append(output, cur)
			case curIn && !prevIn:
				output = append(output, lineIntersection(prev, cur, a, b), cur)
			case !curIn && prevIn:
				output = append(output, lineIntersection(prev, cur, a, b))
			}
		}
	}
	if len(output) < 3 {
		return nil
	}
	return append(orb.Ring(output), output[0])
}

// BEVIntersection returns the area shared by the footprints of a and b,
// taking both headings into account.
func BEVIntersection(a, b Box3D) float64 {
	ra, rb := a.BEV(), b.BEV()
	if ringArea(ra) < areaEpsilon || ringArea(rb) < areaEpsilon {
		return 0
	}
	if !ra.Bound().Intersects(rb.Bound()) {
		return 0
	}
	return ringArea(clipConvex(ra, rb))
}

// BEVIoU is the rotated ground-plane IoU of a and b.
func BEVIoU(a, b Box3D) float32 {
	inter := BEVIntersection(a, b)
	if inter <= 0 {
		return 0
	}
	union := float64(a.DX)*float64(a.DY) + float64(b.DX)*float64(b.DY) - inter
	if union <= areaEpsilon {
		return 0
	}
	return float32(math.Min(inter/union, 1))
}

// IoU3D is the rotated volumetric IoU of a and b.
func IoU3D(a, b Box3D) float32 {
	overlapH := math.Min(a.Top(), b.Top()) - math.Max(a.Bottom(), b.Bottom())
	if overlapH <= 0 {
		return 0
	}
	inter := BEVIntersection(a, b) * overlapH
	if inter <= 0 {
		return 0
	}
	union := a.Volume() + b.Volume() - inter
	if union <= areaEpsilon {
		return 0
	}
	return float32(math.Min(inter/union, 1))
}

// Overlap dispatches to IoU3D or BEVIoU.
func Overlap(mode OverlapMode, a, b Box3D) float32 {
	if mode == OverlapBEV {
		return BEVIoU(a, b)
	}
	return IoU3D(a, b)
}
