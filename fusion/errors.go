// Package fusion - Cross-modal association of 2D image and 3D point-cloud detections.
package fusion

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInputShape marks a frame whose per-modality arrays disagree in length.
var ErrInputShape = errors.New("input shape mismatch")

// FrameError is a failure confined to a single frame. The batch that
// produced it carries on with the remaining frames.
type FrameError struct {
	FrameID string
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s: %v", e.FrameID, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

func frameError(id string, err error) *FrameError {
	return &FrameError{FrameID: id, Err: err}
}
