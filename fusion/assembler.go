package fusion

import (
	"context"
	"image"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
)

// Detection is one fused object in original image coordinates.
type Detection struct {
	Source  Source          `json:"source"`
	Index2D int             `json:"index_2d"`
	Index3D int             `json:"index_3d"`
	Box     images.Rect     `json:"box"`
	Box3D   *geometry.Box3D `json:"box_3d,omitempty"`
	Score   float32         `json:"score"`
	Label   int             `json:"label"`
	// Label2D is reported in the image detector's label space, or 0 when a
	// label map is set and the 3D label has no 2D counterpart.
	Score2D float32 `json:"score_2d"`
	Label2D int     `json:"label_2d"`
	Score3D float32 `json:"score_3d"`
	Label3D int     `json:"label_3d"`
	IoU     float32 `json:"iou"`
	BestIoU float32 `json:"best_iou"`

	// Mask is a binary mask of the original image size, when refined.
	Mask *image.Gray `json:"-"`
}

// FrameRecord is the final output for one frame.
type FrameRecord struct {
	RunID   uuid.UUID `json:"run_id"`
	FrameID string    `json:"frame_id"`

	Detections []Detection `json:"detections"`

	MatchedCount int `json:"matched_count"`
	Only2DCount  int `json:"only_2d_count"`
	Only3DCount  int `json:"only_3d_count"`
	DroppedCount int `json:"dropped_count"`

	BothIoUs   []float32 `json:"both_ious"`
	Only2DIoUs []float32 `json:"only_2d_ious"`
	Only3DIoUs []float32 `json:"only_3d_ious"`
}

// Assembler turns an AssociationResult into a FrameRecord.
type Assembler struct {
	RunID         uuid.UUID
	Refiner       MaskRefiner
	MaskThreshold float32
	LabelMap      *ClassLabelMap
}

// NewAssembler creates an Assembler. A nil refiner means NoMasks.
func NewAssembler(runID uuid.UUID, refiner MaskRefiner, maskThreshold float32, labelMap *ClassLabelMap) *Assembler {
	if refiner == nil {
		refiner = NoMasks{}
	}
	return &Assembler{RunID: runID, Refiner: refiner, MaskThreshold: maskThreshold, LabelMap: labelMap}
}

// Assemble rescales every box from the network input to the original image,
// runs the mask refiner on the rescaled boxes and gathers the counters.
//
// Arguments:
//   - ctx: Passed to the refiner.
//   - frame: The frame the result belongs to.
//   - res: The association result.
//
// Returns:
//   - *FrameRecord: The record.
//   - error: If the refiner fails or returns the wrong number of masks.
func (a *Assembler) Assemble(ctx context.Context, frame *Frame, res *AssociationResult) (*FrameRecord, error) {
	rec := &FrameRecord{
		RunID:      a.RunID,
		FrameID:    frame.ID,
		Detections: make([]Detection, 0, len(res.Detections)),
		BothIoUs:   []float32{},
		Only2DIoUs: []float32{},
		Only3DIoUs: []float32{},
	}
	rec.MatchedCount, rec.Only2DCount, rec.Only3DCount = res.Counts()
	rec.DroppedCount = len(res.Dropped2D) + len(res.Dropped3D)

	scaled := make([]FusedDetection, len(res.Detections))
	for i, d := range res.Detections {
		d.Box2D = images.RecoverBox(d.Box2D, frame.InputShape, frame.OriginalShape)
		scaled[i] = d

		label2D, _ := a.LabelMap.Inverse(d.Label2D)
		rec.Detections = append(rec.Detections, Detection{
			Source:  d.Source,
			Index2D: d.Index2D,
			Index3D: d.Index3D,
			Box:     d.Box2D,
			Box3D:   d.Box3D,
			Score:   d.Score(),
			Label:   d.Label(),
			Score2D: d.Score2D,
			Label2D: label2D,
			Score3D: d.Score3D,
			Label3D: d.Label3D,
			IoU:     d.IoU,
			BestIoU: d.BestIoU,
		})

		switch d.Source {
		case SourceMatched:
			rec.BothIoUs = append(rec.BothIoUs, d.IoU)
		case SourceOnly2D:
			rec.Only2DIoUs = append(rec.Only2DIoUs, d.BestIoU)
		case SourceOnly3D:
			rec.Only3DIoUs = append(rec.Only3DIoUs, d.BestIoU)
		}
	}

	if len(scaled) == 0 {
		return rec, nil
	}
	masks, err := a.Refiner.Refine(ctx, frame, scaled)
	if err != nil {
		return nil, errors.Wrap(err, "refine masks")
	}
	if masks == nil {
		return rec, nil
	}
	if len(masks) != len(scaled) {
		return nil, errors.Errorf("mask refiner returned %d masks for %d detections", len(masks), len(scaled))
	}
	for i, m := range masks {
		if m == nil {
			continue
		}
		pasted, err := images.PasteMask(m, rec.Detections[i].Box, frame.OriginalShape, a.MaskThreshold)
		if err != nil {
			return nil, errors.Wrapf(err, "detection %d", i)
		}
		rec.Detections[i].Mask = pasted
	}
	return rec, nil
}
