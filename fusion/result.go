package fusion

import (
	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
)

// NoIoU is the IoU recorded for detections that were not matched.
const NoIoU float32 = -1

// Source tells which modalities a fused detection came from.
type Source int

const (
	SourceMatched Source = iota
	SourceOnly2D
	SourceOnly3D
)

func (s Source) String() string {
	switch s {
	case SourceMatched:
		return "matched"
	case SourceOnly2D:
		return "only_2d"
	case SourceOnly3D:
		return "only_3d"
	}
	return "unknown"
}

// MarshalText encodes the source by name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Candidate2D is an image detection that survived suppression.
type Candidate2D struct {
	Index int
	Box   images.Rect
	Score float32
	// Label is the image detector's own label.
	Label int
}

// Candidate3D is a point-cloud detection that survived suppression, with its
// clamped image footprint.
type Candidate3D struct {
	Index     int
	Box       geometry.Box3D
	Footprint images.Rect
	Score     float32
	Label     int
}

// Match is one committed 2D/3D pair, by original detector index.
type Match struct {
	Index2D int     `json:"index_2d"`
	Index3D int     `json:"index_3d"`
	IoU     float32 `json:"iou"`
}

// FusedDetection is one surviving object.
//
// Index2D and Index3D are -1 for the missing modality. Label2D is in the 3D
// label space when a ClassLabelMap was applied. Only-3D detections
// carry their footprint and 3D score/label as surrogate 2D values; only-2D
// detections have no 3D box and zero 3D score/label.
type FusedDetection struct {
	Source  Source          `json:"source"`
	Index2D int             `json:"index_2d"`
	Index3D int             `json:"index_3d"`
	Box2D   images.Rect     `json:"box_2d"`
	Box3D   *geometry.Box3D `json:"box_3d,omitempty"`
	Score2D float32         `json:"score_2d"`
	Label2D int             `json:"label_2d"`
	Score3D float32         `json:"score_3d"`
	Label3D int             `json:"label_3d"`
	// IoU is the matched IoU, or NoIoU.
	IoU float32 `json:"iou"`
	// BestIoU is the highest IoU against any candidate of the other modality.
	BestIoU float32 `json:"best_iou"`
}

// Score returns the resolved score: the 3D score whenever a 3D detection is
// involved, the 2D score otherwise.
func (d FusedDetection) Score() float32 {
	if d.Source == SourceOnly2D {
		return d.Score2D
	}
	return d.Score3D
}

// Label returns the resolved label, chosen like Score.
func (d FusedDetection) Label() int {
	if d.Source == SourceOnly2D {
		return d.Label2D
	}
	return d.Label3D
}

// AssociationResult is the outcome of associating one frame.
//
// Every candidate index lands in exactly one group: Matched, Only2D or
// Dropped2D for the image side and Matched, Only3D or Dropped3D for the
// point-cloud side. Detections lists matched entries in commit order, then
// only-2D and only-3D entries by ascending index.
type AssociationResult struct {
	Matched   []Match `json:"matched"`
	Only2D    []int   `json:"only_2d"`
	Only3D    []int   `json:"only_3d"`
	Dropped2D []int   `json:"dropped_2d"`
	Dropped3D []int   `json:"dropped_3d"`

	Detections []FusedDetection `json:"detections"`
}

// Counts returns the sizes of the three surviving groups.
func (r *AssociationResult) Counts() (matched, only2D, only3D int) {
	return len(r.Matched), len(r.Only2D), len(r.Only3D)
}
