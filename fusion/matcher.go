package fusion

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fusion/images"
)

// IoUMatrix holds the pairwise IoU of M image-detector boxes (rows) and K
// projected point-cloud boxes (columns).
//
// A matrix with M = 0 or K = 0 is empty: it has no backing tensor and no
// entries, and callers must check Empty before looking for a maximum.
type IoUMatrix struct {
	rows, cols int
	data       []float32
	dense      *tensor.Dense
}

// NewIoUMatrix computes the IoU of every (boxes2D[r], projected[c]) pair.
//
// Only pairs whose bounds touch are evaluated; a flatbush index over the
// projected boxes finds them. Every other entry is 0.
func NewIoUMatrix(boxes2D, projected []images.Rect) *IoUMatrix {
	m := &IoUMatrix{rows: len(boxes2D), cols: len(projected)}
	if m.Empty() {
		return m
	}
	m.data = make([]float32, m.rows*m.cols)
	m.dense = tensor.New(tensor.WithShape(m.rows, m.cols), tensor.WithBacking(m.data))

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(projected))
	for _, b := range projected {
		x1, y1, x2, y2 := gridBounds(b)
		fb.Add(x1, y1, x2, y2)
	}
	fb.Finish()

	nearby := []int{}
	for r, a := range boxes2D {
		if a.Empty() {
			continue
		}
		x1, y1, x2, y2 := gridBounds(a)
		nearby = fb.SearchFast(x1, y1, x2, y2, nearby)
		for _, c := range nearby {
			m.data[r*m.cols+c] = images.CalculateIoU(a, projected[c])
		}
	}
	return m
}

// gridBounds widens a box to whole pixels so that the integer index never
// misses a pair that overlaps by a fraction of a pixel.
func gridBounds(r images.Rect) (x1, y1, x2, y2 int32) {
	x1 = int32(math32.Floor(math32.Min(r.X1, r.X2)))
	y1 = int32(math32.Floor(math32.Min(r.Y1, r.Y2)))
	x2 = int32(math32.Ceil(math32.Max(r.X1, r.X2)))
	y2 = int32(math32.Ceil(math32.Max(r.Y1, r.Y2)))
	return
}

// Rows returns M.
func (m *IoUMatrix) Rows() int { return m.rows }

// Cols returns K.
func (m *IoUMatrix) Cols() int { return m.cols }

// Empty reports whether either side has no boxes.
func (m *IoUMatrix) Empty() bool { return m.rows == 0 || m.cols == 0 }

// At returns the IoU of row r and column c.
func (m *IoUMatrix) At(r, c int) float32 {
	return m.data[r*m.cols+c]
}

// Tensor exposes the matrix as an M x K tensor, or nil when it is empty.
func (m *IoUMatrix) Tensor() *tensor.Dense {
	return m.dense
}

// RowMax returns the largest IoU in row r, or 0 when there are no columns.
func (m *IoUMatrix) RowMax(r int) float32 {
	var best float32
	for c := 0; c < m.cols; c++ {
		best = math32.Max(best, m.At(r, c))
	}
	return best
}

// ColMax returns the largest IoU in column c, or 0 when there are no rows.
func (m *IoUMatrix) ColMax(c int) float32 {
	var best float32
	for r := 0; r < m.rows; r++ {
		best = math32.Max(best, m.At(r, c))
	}
	return best
}

// Max returns the position and value of the largest entry whose row and
// column are both still open. Ties go to the lowest row, then the lowest
// column. ok is false when no open pair exists.
func (m *IoUMatrix) Max(rowOpen, colOpen []bool) (row, col int, iou float32, ok bool) {
	row, col, iou = -1, -1, -1
	for r := 0; r < m.rows; r++ {
		if !rowOpen[r] {
			continue
		}
		for c := 0; c < m.cols; c++ {
			if !colOpen[c] {
				continue
			}
			if v := m.At(r, c); v > iou {
				row, col, iou = r, c, v
			}
		}
	}
	return row, col, iou, row >= 0
}
