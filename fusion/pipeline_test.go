package fusion

import (
	"context"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
	"github.com/nvr-ai/go-fusion/models/postprocess"
)

// forwardCamera looks down the LiDAR x axis with focal length 100 and the
// principal point at (50, 50).
func forwardCamera(t *testing.T) *geometry.Calibration {
	t.Helper()
	c, err := geometry.NewCalibration(
		[]float64{100, 0, 50, 0, 0, 100, 50, 0, 0, 0, 1, 0},
		[]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		[]float64{0, -1, 0, 0, 0, 0, -1, 0, 1, 0, 0, 0},
	)
	require.NoError(t, err)
	return c
}

type countingRecorder struct {
	mu      sync.Mutex
	ops     map[string]int
	metrics map[string][]float64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{ops: map[string]int{}, metrics: map[string][]float64{}}
}

func (r *countingRecorder) StartOperation(name string) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ops[name]++
	}
}

func (r *countingRecorder) RecordMetric(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = append(r.metrics[name], value)
}

func testPipeline(t *testing.T, log logs.Log, recorder Recorder) *Pipeline {
	return NewPipeline(
		log,
		&postprocess.Suppressor{
			Config2D: postprocess.NMSConfig{IoUThreshold: 0.5, ScoreThreshold: 0.1},
			Config3D: postprocess.NMSConfig{IoUThreshold: 0.5, ScoreThreshold: 0.1},
			Mode3D:   geometry.OverlapIoU3D,
		},
		NewAssociator(AssociatorConfig{IoUThreshold: 0.5, ClsThresh2D: 0.5, ClsThresh3D: 0.5}),
		NewAssembler(uuid.New(), CarriedMasks{}, images.DefaultMaskThreshold, nil),
		geometry.CornersBox,
		recorder,
	)
}

// sceneFrame holds a car 10 m ahead, seen by both detectors, a duplicate
// 2D box, a 2D-only pedestrian and a 3D box behind the camera.
func sceneFrame(t *testing.T, id string) *Frame {
	return &Frame{
		ID: id,
		Dets2D: Detections2D{
			Boxes: []images.Rect{
				{X1: 39, Y1: 39, X2: 61, Y2: 61},
				{X1: 39.5, Y1: 39, X2: 61, Y2: 61},
				{X1: 150, Y1: 20, X2: 170, Y2: 80},
			},
			Scores: []float32{0.9, 0.85, 0.6},
			Labels: []int{1, 1, 2},
		},
		Dets3D: Detections3D{
			Boxes: []geometry.Box3D{
				{X: 10, DX: 2, DY: 2, DZ: 2},
				{X: -10, DX: 2, DY: 2, DZ: 2},
			},
			Scores: []float32{0.8, 0.4},
			Labels: []int{1, 1},
		},
		Calib:         forwardCamera(t),
		ValidRange:    images.FullRange(200, 100),
		InputShape:    images.Shape{Width: 200, Height: 100},
		OriginalShape: images.Shape{Width: 400, Height: 200},
	}
}

func TestPipeline_ProcessFrame(t *testing.T) {
	recorder := newCountingRecorder()
	p := testPipeline(t, logs.NewTestingLog(t), recorder)

	rec, err := p.ProcessFrame(context.Background(), sceneFrame(t, "000007"))
	require.NoError(t, err)

	assert.Equal(t, "000007", rec.FrameID)
	assert.Equal(t, 1, rec.MatchedCount)
	assert.Equal(t, 1, rec.Only2DCount)
	assert.Equal(t, 0, rec.Only3DCount)
	// The duplicate is suppressed before association; only the box behind
	// the camera reaches the dropped group.
	assert.Equal(t, 1, rec.DroppedCount)

	require.Len(t, rec.Detections, 2)
	car := rec.Detections[0]
	assert.Equal(t, SourceMatched, car.Source)
	assert.Equal(t, 0, car.Index2D)
	assert.Equal(t, 0, car.Index3D)
	assert.Greater(t, car.IoU, float32(0.9))
	assert.Equal(t, images.Rect{X1: 78, Y1: 78, X2: 122, Y2: 122}, car.Box)

	ped := rec.Detections[1]
	assert.Equal(t, SourceOnly2D, ped.Source)
	assert.Equal(t, 2, ped.Index2D)
	assert.Equal(t, images.Rect{X1: 300, Y1: 40, X2: 340, Y2: 160}, ped.Box)

	assert.Equal(t, 1, recorder.ops[StageNMS+"_2d"])
	assert.Equal(t, 1, recorder.ops[StageNMS+"_3d"])
	assert.Equal(t, 1, recorder.ops[StageProject])
	assert.Equal(t, 1, recorder.ops[StageAssociate])
	assert.Equal(t, 1, recorder.ops[StageAssemble])
	assert.Equal(t, []float64{1}, recorder.metrics["matched_count"])
}

func TestPipeline_EmptyFrame(t *testing.T) {
	p := testPipeline(t, logs.NewTestingLog(t), nil)
	frame := &Frame{
		ID:            "empty",
		ValidRange:    images.FullRange(10, 10),
		InputShape:    images.Shape{Width: 10, Height: 10},
		OriginalShape: images.Shape{Width: 10, Height: 10},
	}
	rec, err := p.ProcessFrame(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, rec.Detections)
	assert.Zero(t, rec.MatchedCount+rec.Only2DCount+rec.Only3DCount+rec.DroppedCount)
}

func TestPipeline_ShapeErrorNamesFrame(t *testing.T) {
	p := testPipeline(t, logs.NewTestingLog(t), nil)
	frame := sceneFrame(t, "000013")
	frame.Dets3D.Labels = frame.Dets3D.Labels[:1]

	_, err := p.ProcessFrame(context.Background(), frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputShape)
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "000013", fe.FrameID)
	assert.Contains(t, err.Error(), "frame 000013")
}

func TestPipeline_ProcessBatch(t *testing.T) {
	p := testPipeline(t, logs.NewTestingLog(t), newCountingRecorder())

	frames := make([]*Frame, 12)
	for i := range frames {
		frames[i] = sceneFrame(t, uuid.NewString())
	}
	frames[4].Dets2D.Scores = frames[4].Dets2D.Scores[:2]
	frames[9].Dets3D.Boxes = nil

	out, err := p.ProcessBatch(context.Background(), frames, 3)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Succeeded())
	require.Len(t, out.Errors, 2)
	assert.Equal(t, frames[4].ID, out.Errors[0].FrameID)
	assert.Equal(t, frames[9].ID, out.Errors[1].FrameID)
	assert.Nil(t, out.Records[4])
	assert.Nil(t, out.Records[9])

	for i, rec := range out.Records {
		if rec == nil {
			continue
		}
		assert.Equal(t, frames[i].ID, rec.FrameID)
		assert.Equal(t, 1, rec.MatchedCount)
	}
}

func TestPipeline_ProcessBatchCancelled(t *testing.T) {
	p := testPipeline(t, logs.NewTestingLog(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := p.ProcessBatch(ctx, []*Frame{sceneFrame(t, "a"), sceneFrame(t, "b")}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Succeeded())
}

func TestPipeline_ProcessBatchMalformedMask(t *testing.T) {
	p := testPipeline(t, logs.NewTestingLog(t), nil)
	bad := sceneFrame(t, "000021")
	bad.Dets2D.Masks = []*images.SoftMask{{Size: 14, Data: []float32{0.7}}, nil, nil}
	good := sceneFrame(t, "000022")

	var out *BatchResult
	var err error
	require.NotPanics(t, func() {
		out, err = p.ProcessBatch(context.Background(), []*Frame{bad, good}, 2)
	})
	require.NoError(t, err)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "000021", out.Errors[0].FrameID)
	assert.ErrorIs(t, out.Errors[0], ErrInputShape)
	assert.Equal(t, 1, out.Succeeded())
	assert.Nil(t, out.Records[0])
	require.NotNil(t, out.Records[1])
	assert.Equal(t, "000022", out.Records[1].FrameID)
}
