package fusion

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BatchResult holds the outcome of a batch. Records[i] belongs to frames[i]
// and is nil when that frame failed.
type BatchResult struct {
	Records []*FrameRecord
	Errors  []*FrameError
}

// Succeeded returns the number of frames that produced a record.
func (b *BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Records {
		if r != nil {
			n++
		}
	}
	return n
}

// ProcessBatch fuses frames on up to workers goroutines (GOMAXPROCS when
// workers <= 0).
//
// A frame that fails is logged and reported in BatchResult.Errors; the other
// frames carry on. The only error returned is the context's, when the caller
// cancels or the deadline passes, together with whatever finished before.
func (p *Pipeline) ProcessBatch(ctx context.Context, frames []*Frame, workers int) (*BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := &BatchResult{Records: make([]*FrameRecord, len(frames))}
	failures := make([]*FrameError, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, frame := range frames {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := p.ProcessFrame(gctx, frame)
			if err == nil {
				out.Records[i] = rec
				return nil
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var fe *FrameError
			if !errors.As(err, &fe) {
				fe = frameError(frame.ID, err)
			}
			failures[i] = fe
			if p.Log != nil {
				p.Log.Warnf("Skipping frame %s: %v", frame.ID, fe.Err)
			}
			return nil
		})
	}
	err := g.Wait()

	for _, fe := range failures {
		if fe != nil {
			out.Errors = append(out.Errors, fe)
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return out, err
}
