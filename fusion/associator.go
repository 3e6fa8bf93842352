package fusion

import (
	"sort"

	"github.com/nvr-ai/go-fusion/images"
)

// AssociatorConfig holds the matching and salvage thresholds.
type AssociatorConfig struct {
	// IoUThreshold is the smallest IoU (inclusive) at which a pair matches.
	IoUThreshold float32
	// ClsThresh2D keeps an unmatched 2D detection when score >= ClsThresh2D.
	ClsThresh2D float32
	// ClsThresh3D keeps an unmatched 3D detection when score > ClsThresh3D.
	ClsThresh3D float32
	// LabelMap translates 2D labels before matching. Optional.
	LabelMap *ClassLabelMap
}

// Associator pairs image detections with projected point-cloud detections
// by greedy maximum IoU and salvages confident leftovers.
type Associator struct {
	config AssociatorConfig
}

// NewAssociator creates an Associator.
func NewAssociator(config AssociatorConfig) *Associator {
	return &Associator{config: config}
}

// Config returns the thresholds in use.
func (a *Associator) Config() AssociatorConfig {
	return a.config
}

// Associate runs the association for one frame.
//
// The steps are:
//
//  1. With a label map, 2D candidates whose label has no mapping are
//     dropped and the rest are relabelled into the 3D label space.
//  2. Shared pairs (both detectors ran on the same proposal) are committed
//     first, whatever their IoU.
//  3. The open pair with the largest IoU is committed while that IoU is at
//     least IoUThreshold. The first failure ends the search; no weaker pair
//     is looked at.
//  4. Unmatched 2D candidates survive with score >= ClsThresh2D and
//     unmatched 3D candidates with score > ClsThresh3D. Everything else is
//     dropped.
//
// Rows and columns are ordered by candidate index, so ties resolve to the
// lowest index. Empty inputs are fine and give empty groups.
//
// Arguments:
//   - set2D: Image candidates after suppression.
//   - set3D: Point-cloud candidates after suppression, with footprints.
//   - shared: Optional pre-paired indices.
//
// Returns:
//   - *AssociationResult: The partition and the fused detections.
func (a *Associator) Associate(set2D []Candidate2D, set3D []Candidate3D, shared []IndexPair) *AssociationResult {
	res := &AssociationResult{
		Matched:   []Match{},
		Only2D:    []int{},
		Only3D:    []int{},
		Dropped2D: []int{},
		Dropped3D: []int{},
	}

	rows := make([]Candidate2D, 0, len(set2D))
	for _, c := range sortedCandidates2D(set2D) {
		mapped, ok := a.config.LabelMap.Map(c.Label)
		if !ok {
			res.Dropped2D = append(res.Dropped2D, c.Index)
			continue
		}
		c.Label = mapped
		rows = append(rows, c)
	}
	cols := sortedCandidates3D(set3D)

	boxes := make([]images.Rect, len(rows))
	for r, c := range rows {
		boxes[r] = c.Box
	}
	footprints := make([]images.Rect, len(cols))
	for c, cand := range cols {
		footprints[c] = cand.Footprint
	}
	matrix := NewIoUMatrix(boxes, footprints)

	rowOpen := make([]bool, len(rows))
	for r := range rowOpen {
		rowOpen[r] = true
	}
	colOpen := make([]bool, len(cols))
	for c := range colOpen {
		colOpen[c] = true
	}

	commit := func(r, c int, iou float32) {
		rowOpen[r], colOpen[c] = false, false
		d2, d3 := rows[r], cols[c]
		res.Matched = append(res.Matched, Match{Index2D: d2.Index, Index3D: d3.Index, IoU: iou})
		box3D := d3.Box
		res.Detections = append(res.Detections, FusedDetection{
			Source:  SourceMatched,
			Index2D: d2.Index,
			Index3D: d3.Index,
			Box2D:   d2.Box,
			Box3D:   &box3D,
			Score2D: d2.Score,
			Label2D: d2.Label,
			Score3D: d3.Score,
			Label3D: d3.Label,
			IoU:     iou,
			BestIoU: matrix.RowMax(r),
		})
	}

	if !matrix.Empty() {
		if len(shared) > 0 {
			rowOf := make(map[int]int, len(rows))
			for r, c := range rows {
				rowOf[c.Index] = r
			}
			colOf := make(map[int]int, len(cols))
			for c, cand := range cols {
				colOf[cand.Index] = c
			}
			for _, p := range shared {
				r, okR := rowOf[p.Index2D]
				c, okC := colOf[p.Index3D]
				if !okR || !okC || !rowOpen[r] || !colOpen[c] {
					continue
				}
				commit(r, c, matrix.At(r, c))
			}
		}

		for {
			r, c, iou, ok := matrix.Max(rowOpen, colOpen)
			if !ok || iou < a.config.IoUThreshold {
				break
			}
			commit(r, c, iou)
		}
	}

	for r, d2 := range rows {
		if !rowOpen[r] {
			continue
		}
		if d2.Score < a.config.ClsThresh2D {
			res.Dropped2D = append(res.Dropped2D, d2.Index)
			continue
		}
		res.Only2D = append(res.Only2D, d2.Index)
		res.Detections = append(res.Detections, FusedDetection{
			Source:  SourceOnly2D,
			Index2D: d2.Index,
			Index3D: -1,
			Box2D:   d2.Box,
			Score2D: d2.Score,
			Label2D: d2.Label,
			IoU:     NoIoU,
			BestIoU: matrix.RowMax(r),
		})
	}

	for c, d3 := range cols {
		if !colOpen[c] {
			continue
		}
		if d3.Score <= a.config.ClsThresh3D {
			res.Dropped3D = append(res.Dropped3D, d3.Index)
			continue
		}
		res.Only3D = append(res.Only3D, d3.Index)
		box3D := d3.Box
		res.Detections = append(res.Detections, FusedDetection{
			Source:  SourceOnly3D,
			Index2D: -1,
			Index3D: d3.Index,
			Box2D:   d3.Footprint,
			Box3D:   &box3D,
			Score2D: d3.Score,
			Label2D: d3.Label,
			Score3D: d3.Score,
			Label3D: d3.Label,
			IoU:     NoIoU,
			BestIoU: matrix.ColMax(c),
		})
	}

	sort.Ints(res.Dropped2D)
	return res
}

func sortedCandidates2D(in []Candidate2D) []Candidate2D {
	out := append([]Candidate2D(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func sortedCandidates3D(in []Candidate3D) []Candidate3D {
	out := append([]Candidate3D(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
