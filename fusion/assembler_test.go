package fusion

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
)

type fixedRefiner struct {
	masks []*images.SoftMask
	err   error
	seen  []FusedDetection
}

func (f *fixedRefiner) Refine(_ context.Context, _ *Frame, dets []FusedDetection) ([]*images.SoftMask, error) {
	f.seen = dets
	return f.masks, f.err
}

func assemblyFrame() *Frame {
	return &Frame{
		ID:            "000042",
		InputShape:    images.Shape{Width: 100, Height: 50},
		OriginalShape: images.Shape{Width: 200, Height: 100},
		ValidRange:    images.FullRange(100, 50),
	}
}

func assemblyResult() *AssociationResult {
	box3D := geometry.Box3D{X: 10, DX: 4, DY: 2, DZ: 1.5}
	return &AssociationResult{
		Matched:   []Match{{Index2D: 0, Index3D: 1, IoU: 0.8}},
		Only2D:    []int{2},
		Only3D:    []int{3},
		Dropped2D: []int{5},
		Dropped3D: []int{},
		Detections: []FusedDetection{
			{Source: SourceMatched, Index2D: 0, Index3D: 1, Box2D: images.Rect{X1: 10, Y1: 10, X2: 20, Y2: 20}, Box3D: &box3D,
				Score2D: 0.9, Label2D: 2, Score3D: 0.7, Label3D: 2, IoU: 0.8, BestIoU: 0.8},
			{Source: SourceOnly2D, Index2D: 2, Index3D: -1, Box2D: images.Rect{X1: 90, Y1: 40, X2: 120, Y2: 60},
				Score2D: 0.6, Label2D: 1, IoU: NoIoU, BestIoU: 0.1},
			{Source: SourceOnly3D, Index2D: -1, Index3D: 3, Box2D: images.Rect{X1: 0, Y1: 0, X2: 5, Y2: 5}, Box3D: &box3D,
				Score2D: 0.55, Label2D: 2, Score3D: 0.55, Label3D: 2, IoU: NoIoU, BestIoU: 0.2},
		},
	}
}

func TestAssembler_Assemble(t *testing.T) {
	labels, err := NewClassLabelMap(map[int]int{7: 2, 8: 1})
	require.NoError(t, err)
	runID := uuid.New()

	a := NewAssembler(runID, nil, images.DefaultMaskThreshold, labels)
	rec, err := a.Assemble(context.Background(), assemblyFrame(), assemblyResult())
	require.NoError(t, err)

	assert.Equal(t, runID, rec.RunID)
	assert.Equal(t, "000042", rec.FrameID)
	assert.Equal(t, 1, rec.MatchedCount)
	assert.Equal(t, 1, rec.Only2DCount)
	assert.Equal(t, 1, rec.Only3DCount)
	assert.Equal(t, 1, rec.DroppedCount)
	assert.Equal(t, []float32{0.8}, rec.BothIoUs)
	assert.Equal(t, []float32{0.1}, rec.Only2DIoUs)
	assert.Equal(t, []float32{0.2}, rec.Only3DIoUs)

	require.Len(t, rec.Detections, 3)
	assert.Equal(t, images.Rect{X1: 20, Y1: 20, X2: 40, Y2: 40}, rec.Detections[0].Box)
	// Scaled to (180, 80, 240, 120) and clipped to the 200x100 original.
	assert.Equal(t, images.Rect{X1: 180, Y1: 80, X2: 200, Y2: 100}, rec.Detections[1].Box)
	for _, d := range rec.Detections {
		assert.True(t, d.Box.Within(200, 100), "box %v escapes the image", d.Box)
		assert.Nil(t, d.Mask)
	}

	// 2D labels go back to the image detector's label space.
	assert.Equal(t, 7, rec.Detections[0].Label2D)
	assert.Equal(t, 2, rec.Detections[0].Label)
	assert.Equal(t, float32(0.7), rec.Detections[0].Score)
	assert.Equal(t, 8, rec.Detections[1].Label2D)
	assert.Equal(t, 1, rec.Detections[1].Label)
	assert.Equal(t, float32(0.6), rec.Detections[1].Score)
	assert.Equal(t, 7, rec.Detections[2].Label2D)
}

func TestAssembler_UnmappedLabel2D(t *testing.T) {
	res := assemblyResult()
	res.Detections[2].Label2D = 5
	res.Detections[2].Label3D = 5

	labels, err := NewClassLabelMap(map[int]int{7: 2, 8: 1})
	require.NoError(t, err)
	rec, err := NewAssembler(uuid.Nil, nil, images.DefaultMaskThreshold, labels).
		Assemble(context.Background(), assemblyFrame(), res)
	require.NoError(t, err)
	require.Len(t, rec.Detections, 3)
	assert.Equal(t, 0, rec.Detections[2].Label2D)
	assert.Equal(t, 5, rec.Detections[2].Label3D)
	assert.Equal(t, 5, rec.Detections[2].Label)

	// Without a map both detectors share labels and nothing is rewritten.
	rec, err = NewAssembler(uuid.Nil, nil, images.DefaultMaskThreshold, nil).
		Assemble(context.Background(), assemblyFrame(), res)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Detections[2].Label2D)
}

func TestAssembler_Masks(t *testing.T) {
	full, err := images.NewSoftMask(2, []float32{1, 1, 1, 1})
	require.NoError(t, err)

	refiner := &fixedRefiner{masks: []*images.SoftMask{full, nil, nil}}
	a := NewAssembler(uuid.Nil, refiner, images.DefaultMaskThreshold, nil)
	rec, err := a.Assemble(context.Background(), assemblyFrame(), assemblyResult())
	require.NoError(t, err)

	// The refiner sees boxes in original image coordinates.
	require.Len(t, refiner.seen, 3)
	assert.Equal(t, images.Rect{X1: 20, Y1: 20, X2: 40, Y2: 40}, refiner.seen[0].Box2D)

	mask := rec.Detections[0].Mask
	require.NotNil(t, mask)
	assert.Equal(t, 200, mask.Bounds().Dx())
	set := 0
	for _, v := range mask.Pix {
		if v == 255 {
			set++
		}
	}
	assert.Equal(t, 400, set)
	assert.Nil(t, rec.Detections[1].Mask)
}

func TestAssembler_RefinerErrors(t *testing.T) {
	a := NewAssembler(uuid.Nil, &fixedRefiner{masks: make([]*images.SoftMask, 1)}, 0.5, nil)
	_, err := a.Assemble(context.Background(), assemblyFrame(), assemblyResult())
	assert.ErrorContains(t, err, "returned 1 masks for 3 detections")

	boom := errors.New("boom")
	a = NewAssembler(uuid.Nil, &fixedRefiner{err: boom}, 0.5, nil)
	_, err = a.Assemble(context.Background(), assemblyFrame(), assemblyResult())
	assert.ErrorIs(t, err, boom)
}

func TestCarriedMasks(t *testing.T) {
	m, err := images.NewSoftMask(1, []float32{1})
	require.NoError(t, err)

	frame := &Frame{Dets2D: Detections2D{Masks: []*images.SoftMask{nil, nil, m}}}
	got, err := CarriedMasks{}.Refine(context.Background(), frame, assemblyResult().Detections)
	require.NoError(t, err)
	assert.Equal(t, []*images.SoftMask{nil, m, nil}, got)

	got, err = NoMasks{}.Refine(context.Background(), frame, assemblyResult().Detections)
	require.NoError(t, err)
	assert.Nil(t, got)
}
