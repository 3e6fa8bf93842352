// Package geometry - 3D boxes, rotated overlap and camera projection.
package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// Box3D is a 7-DOF box in the LiDAR reference frame.
//
// Parameters:
//   - X/Y/Z: Box centre (metres). Z is the volumetric centre, not the floor.
//   - DX/DY/DZ: Full extents along the box's own x (heading), y and z axes.
//   - Heading: Yaw around +Z (radians).
type Box3D struct {
	X       float32 `json:"x" yaml:"x"`
	Y       float32 `json:"y" yaml:"y"`
	Z       float32 `json:"z" yaml:"z"`
	DX      float32 `json:"dx" yaml:"dx"`
	DY      float32 `json:"dy" yaml:"dy"`
	DZ      float32 `json:"dz" yaml:"dz"`
	Heading float32 `json:"heading" yaml:"heading"`
}

// Box3DFromSlice reads the first seven values of v as
// [x, y, z, dx, dy, dz, heading]. Extra trailing values (velocities etc.)
// are ignored.
func Box3DFromSlice(v []float32) (Box3D, error) {
	if len(v) < 7 {
		return Box3D{}, errors.Errorf("3d box needs at least 7 values, got %d", len(v))
	}
	return Box3D{X: v[0], Y: v[1], Z: v[2], DX: v[3], DY: v[4], DZ: v[5], Heading: v[6]}, nil
}

// Volume returns DX*DY*DZ.
func (b Box3D) Volume() float64 {
	return float64(b.DX) * float64(b.DY) * float64(b.DZ)
}

// Bottom and Top return the z range of the box.
func (b Box3D) Bottom() float64 { return float64(b.Z) - float64(b.DZ)/2 }
func (b Box3D) Top() float64    { return float64(b.Z) + float64(b.DZ)/2 }

// corner sign template: bottom face counter-clockwise, then top face.
var cornerSigns = [8][3]float64{
	{1, -1, -1}, {1, 1, -1}, {-1, 1, -1}, {-1, -1, -1},
	{1, -1, 1}, {1, 1, 1}, {-1, 1, 1}, {-1, -1, 1},
}

// Corners returns the eight box corners in the reference frame, the four
// bottom corners first.
func (b Box3D) Corners() [8]r3.Vector {
	cos, sin := math.Cos(float64(b.Heading)), math.Sin(float64(b.Heading))
	centre := r3.Vector{X: float64(b.X), Y: float64(b.Y), Z: float64(b.Z)}
	half := r3.Vector{X: float64(b.DX) / 2, Y: float64(b.DY) / 2, Z: float64(b.DZ) / 2}

	var out [8]r3.Vector
	for i, s := range cornerSigns {
		lx, ly, lz := s[0]*half.X, s[1]*half.Y, s[2]*half.Z
		out[i] = centre.Add(r3.Vector{
			X: lx*cos - ly*sin,
			Y: lx*sin + ly*cos,
			Z: lz,
		})
	}
	return out
}

// FootprintCorners returns the four bottom corners only.
func (b Box3D) FootprintCorners() [4]r3.Vector {
	c := b.Corners()
	return [4]r3.Vector{c[0], c[1], c[2], c[3]}
}

// BEV returns the closed, counter-clockwise ground-plane outline of the box.
func (b Box3D) BEV() orb.Ring {
	fp := b.FootprintCorners()
	ring := make(orb.Ring, 0, 5)
	for _, c := range fp {
		ring = append(ring, orb.Point{c.X, c.Y})
	}
	return append(ring, ring[0])
}
