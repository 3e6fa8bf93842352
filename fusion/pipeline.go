package fusion

import (
	"context"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
	"github.com/nvr-ai/go-fusion/models/postprocess"
)

// Stage names reported to the Recorder.
const (
	StageNMS       = "nms"
	StageProject   = "project"
	StageAssociate = "associate"
	StageAssemble  = "assemble"
)

// Recorder receives stage timings and per-frame counters.
type Recorder interface {
	StartOperation(name string) func()
	RecordMetric(name string, value float64)
}

type nopRecorder struct{}

func (nopRecorder) StartOperation(string) func() { return func() {} }
func (nopRecorder) RecordMetric(string, float64) {}

// Pipeline fuses frames. It holds only read-only settings and can process
// any number of frames concurrently.
type Pipeline struct {
	Log        logs.Log
	Suppressor *postprocess.Suppressor
	Associator *Associator
	Assembler  *Assembler
	Corners    geometry.CornerMode
	Recorder   Recorder
}

// NewPipeline wires a pipeline. A nil recorder disables profiling.
func NewPipeline(log logs.Log, suppressor *postprocess.Suppressor, associator *Associator, assembler *Assembler, corners geometry.CornerMode, recorder Recorder) *Pipeline {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pipeline{
		Log:        log,
		Suppressor: suppressor,
		Associator: associator,
		Assembler:  assembler,
		Corners:    corners,
		Recorder:   recorder,
	}
}

// ProcessFrame runs suppression, projection, association and assembly for
// one frame. Suppression of the two modalities and projection of the 3D
// survivors run concurrently; everything after is sequential.
//
// Every failure is returned as a *FrameError naming the frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame *Frame) (*FrameRecord, error) {
	if err := frame.Validate(); err != nil {
		return nil, frameError(frame.ID, err)
	}

	var (
		set2D []Candidate2D
		set3D []Candidate3D
	)
	var g errgroup.Group
	g.Go(func() error {
		done := p.Recorder.StartOperation(StageNMS + "_2d")
		defer done()
		keep, err := p.Suppressor.Suppress2D(frame.Dets2D.Boxes, frame.Dets2D.Scores)
		if err != nil {
			return errors.Wrap(err, "2d suppression")
		}
		set2D = make([]Candidate2D, len(keep))
		for k, i := range keep {
			set2D[k] = Candidate2D{
				Index: i,
				Box:   frame.Dets2D.Boxes[i],
				Score: frame.Dets2D.Scores[i],
				Label: frame.Dets2D.Labels[i],
			}
		}
		return nil
	})
	g.Go(func() error {
		done := p.Recorder.StartOperation(StageNMS + "_3d")
		keep, err := p.Suppressor.Suppress3D(frame.Dets3D.Boxes, frame.Dets3D.Scores)
		done()
		if err != nil {
			return errors.Wrap(err, "3d suppression")
		}
		if len(keep) == 0 {
			return nil
		}

		done = p.Recorder.StartOperation(StageProject)
		defer done()
		boxes := make([]geometry.Box3D, len(keep))
		for k, i := range keep {
			boxes[k] = frame.Dets3D.Boxes[i]
		}
		footprints := geometry.NewProjector(frame.Calib, frame.ValidRange, p.Corners).Project(boxes)
		set3D = make([]Candidate3D, len(keep))
		for k, i := range keep {
			set3D[k] = Candidate3D{
				Index:     i,
				Box:       boxes[k],
				Footprint: footprints[k],
				Score:     frame.Dets3D.Scores[i],
				Label:     frame.Dets3D.Labels[i],
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, frameError(frame.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, frameError(frame.ID, err)
	}

	done := p.Recorder.StartOperation(StageAssociate)
	res := p.Associator.Associate(set2D, set3D, frame.SharedIndices)
	done()

	done = p.Recorder.StartOperation(StageAssemble)
	rec, err := p.Assembler.Assemble(ctx, frame, res)
	done()
	if err != nil {
		return nil, frameError(frame.ID, err)
	}

	p.Recorder.RecordMetric("matched_count", float64(rec.MatchedCount))
	p.Recorder.RecordMetric("only_2d_count", float64(rec.Only2DCount))
	p.Recorder.RecordMetric("only_3d_count", float64(rec.Only3DCount))
	return rec, nil
}

// Footprints projects 3D boxes the way ProcessFrame does. It is used by
// tools that draw the projected boxes.
func (p *Pipeline) Footprints(frame *Frame) []images.Rect {
	if frame.Calib == nil {
		return nil
	}
	return geometry.NewProjector(frame.Calib, frame.ValidRange, p.Corners).Project(frame.Dets3D.Boxes)
}
