// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
)

// ErrLengthMismatch is returned when boxes and scores disagree in length.
var ErrLengthMismatch = errors.New("boxes and scores differ in length")

// parallelMinimum is the number of pending comparisons below which an anchor
// round runs on the calling goroutine.
const parallelMinimum = 64

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold   float32 // Overlap above which a lower-ranked box is suppressed.
	ScoreThreshold float32 // Kept boxes scoring below this are dropped afterwards.
	NumWorkers     int     // Number of goroutines for parallel IoU computation.
}

// OverlapFunc returns the IoU of candidates i and j.
type OverlapFunc func(i, j int) float32

// Suppress runs class-agnostic greedy Non-Maximum Suppression.
//
// Candidates are visited by descending score (ties by ascending index). Each
// visited candidate that is still alive is kept and suppresses every later
// candidate whose overlap with it is strictly greater than IoUThreshold.
// Kept candidates scoring below ScoreThreshold are removed at the end; they
// still suppress their neighbours before that.
//
// Arguments:
//   - scores: One score per candidate.
//   - overlap: Pairwise IoU between candidates, addressed by original index.
//   - config: NMS configuration.
//
// Returns:
//   - Original indices of the surviving candidates in selection order.
func Suppress(scores []float32, overlap OverlapFunc, config NMSConfig) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}

	order := Rank(scores)
	suppressed := make([]bool, n)
	kept := make([]int, 0, n)

	for pos, i := range order {
		if suppressed[pos] {
			continue
		}
		kept = append(kept, i)

		pending := make([]int, 0, n-pos-1)
		for q := pos + 1; q < n; q++ {
			if !suppressed[q] {
				pending = append(pending, q)
			}
		}
		suppressRound(i, pending, order, suppressed, overlap, config)
	}

	filtered := kept[:0]
	for _, i := range kept {
		if scores[i] >= config.ScoreThreshold {
			filtered = append(filtered, i)
		}
	}
	return filtered
}

// suppressRound marks every pending position overlapping anchor. Workers own
// disjoint slices of pending, so no two goroutines write the same flag.
func suppressRound(anchor int, pending, order []int, suppressed []bool, overlap OverlapFunc, config NMSConfig) {
	check := func(part []int) {
		for _, q := range part {
			if overlap(anchor, order[q]) > config.IoUThreshold {
				suppressed[q] = true
			}
		}
	}

	workers := config.NumWorkers
	if workers <= 1 || len(pending) < parallelMinimum {
		check(pending)
		return
	}

	chunk := (len(pending) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(pending); start += chunk {
		end := min(start+chunk, len(pending))
		wg.Add(1)
		go func(part []int) {
			defer wg.Done()
			check(part)
		}(pending[start:end])
	}
	wg.Wait()
}

// SuppressRects runs Suppress over axis-aligned image boxes.
func SuppressRects(boxes []images.Rect, scores []float32, config NMSConfig) ([]int, error) {
	if len(boxes) != len(scores) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d boxes, %d scores", len(boxes), len(scores))
	}
	return Suppress(scores, func(i, j int) float32 {
		return images.CalculateIoU(boxes[i], boxes[j])
	}, config), nil
}

// SuppressBoxes3D runs Suppress over heading-aware 3D boxes, comparing them by
// volumetric or bird's-eye-view IoU.
func SuppressBoxes3D(boxes []geometry.Box3D, scores []float32, mode geometry.OverlapMode, config NMSConfig) ([]int, error) {
	if len(boxes) != len(scores) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d boxes, %d scores", len(boxes), len(scores))
	}
	return Suppress(scores, func(i, j int) float32 {
		return geometry.Overlap(mode, boxes[i], boxes[j])
	}, config), nil
}

// Suppressor holds the per-modality NMS settings of a pipeline.
type Suppressor struct {
	Config2D NMSConfig
	Config3D NMSConfig
	Mode3D   geometry.OverlapMode
}

// Suppress2D applies 2D suppression.
func (s *Suppressor) Suppress2D(boxes []images.Rect, scores []float32) ([]int, error) {
	return SuppressRects(boxes, scores, s.Config2D)
}

// Suppress3D applies 3D suppression.
func (s *Suppressor) Suppress3D(boxes []geometry.Box3D, scores []float32) ([]int, error) {
	return SuppressBoxes3D(boxes, scores, s.Mode3D, s.Config3D)
}
