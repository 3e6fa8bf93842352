// Package util - Loading fusion frames from disk.
package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fusion/fusion"
	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
)

// FrameFile is the on-disk form of one frame: detector outputs, camera
// calibration and image geometry.
type FrameFile struct {
	// ID defaults to the frame number from the file name.
	ID string `json:"id"`
	// Image is an optional frame image, relative to the file's directory.
	Image string `json:"image,omitempty"`

	InputShape    images.Shape       `json:"input_shape"`
	OriginalShape images.Shape       `json:"original_shape"`
	ValidRange    *images.ValidRange `json:"valid_range,omitempty"`

	Calib *CalibrationFile `json:"calib,omitempty"`

	Dets2D struct {
		Boxes  [][]float32        `json:"boxes"`
		Scores []float32          `json:"scores"`
		Labels []int              `json:"labels"`
		Masks  []*images.SoftMask `json:"masks,omitempty"`
	} `json:"dets_2d"`

	Dets3D struct {
		Boxes  [][]float32 `json:"boxes"`
		Scores []float32   `json:"scores"`
		Labels []int       `json:"labels"`
	} `json:"dets_3d"`

	// SharedIndices lists [index_2d, index_3d] pairs known to be the same
	// object.
	SharedIndices [][2]int `json:"shared_indices,omitempty"`
}

// CalibrationFile holds the row-major KITTI matrices.
type CalibrationFile struct {
	P2  []float64 `json:"p2"`
	R0  []float64 `json:"r0"`
	V2C []float64 `json:"v2c"`
}

// frameNumber parses "frame-<n>.json".
func frameNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, "frame-") || filepath.Ext(name) != ".json" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame-"), ".json"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// LoadFrameFiles reads every frame-<n>.json in dir, ordered by n.
//
// Arguments:
//   - dir: Directory holding frame files.
//
// Returns:
//   - []*fusion.Frame: Frames that parsed, in frame order.
//   - []*fusion.FrameError: Files whose contents are malformed. These do not
//     stop the rest of the directory from loading.
//   - error: If the directory cannot be read.
func LoadFrameFiles(dir string) ([]*fusion.Frame, []*fusion.FrameError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read frame directory %s", dir)
	}

	type numbered struct {
		n    int
		name string
	}
	var files []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := frameNumber(e.Name()); ok {
			files = append(files, numbered{n: n, name: e.Name()})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].n < files[j].n
	})

	var (
		frames []*fusion.Frame
		failed []*fusion.FrameError
	)
	for _, f := range files {
		id := strconv.Itoa(f.n)
		frame, err := LoadFrameFile(filepath.Join(dir, f.name), id)
		if err != nil {
			failed = append(failed, &fusion.FrameError{FrameID: id, Err: err})
			continue
		}
		frames = append(frames, frame)
	}
	return frames, failed, nil
}

// LoadFrameFile reads one frame file. defaultID is used when the file does
// not name its frame.
func LoadFrameFile(path, defaultID string) (*fusion.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var ff FrameFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if ff.ID == "" {
		ff.ID = defaultID
	}
	return ff.Frame(filepath.Dir(path))
}

// boxTensor packs rows of equal width into an N x width tensor.
func boxTensor(rows [][]float32, width int, name string) (*tensor.Dense, error) {
	backing := make([]float32, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, errors.Wrapf(fusion.ErrInputShape, "%s box %d has %d values, want %d", name, i, len(r), width)
		}
		backing = append(backing, r...)
	}
	return tensor.New(tensor.WithShape(len(rows), width), tensor.WithBacking(backing)), nil
}

// Frame converts the file to a pipeline frame. Image paths resolve
// against dir.
func (ff *FrameFile) Frame(dir string) (*fusion.Frame, error) {
	frame := &fusion.Frame{
		ID:            ff.ID,
		InputShape:    ff.InputShape,
		OriginalShape: ff.OriginalShape,
	}
	if ff.ValidRange != nil {
		frame.ValidRange = *ff.ValidRange
	} else {
		frame.ValidRange = images.FullRange(ff.InputShape.Width, ff.InputShape.Height)
	}

	if len(ff.Dets2D.Boxes) > 0 {
		t, err := boxTensor(ff.Dets2D.Boxes, 4, "2d")
		if err != nil {
			return nil, err
		}
		d, err := fusion.Detections2DFromTensor(t, ff.Dets2D.Scores, ff.Dets2D.Labels)
		if err != nil {
			return nil, err
		}
		frame.Dets2D = d
	} else {
		frame.Dets2D = fusion.Detections2D{Scores: ff.Dets2D.Scores, Labels: ff.Dets2D.Labels}
	}
	frame.Dets2D.Masks = ff.Dets2D.Masks

	if len(ff.Dets3D.Boxes) > 0 {
		t, err := boxTensor(ff.Dets3D.Boxes, 7, "3d")
		if err != nil {
			return nil, err
		}
		d, err := fusion.Detections3DFromTensor(t, ff.Dets3D.Scores, ff.Dets3D.Labels)
		if err != nil {
			return nil, err
		}
		frame.Dets3D = d
	} else {
		frame.Dets3D = fusion.Detections3D{Scores: ff.Dets3D.Scores, Labels: ff.Dets3D.Labels}
	}

	if ff.Calib != nil {
		calib, err := geometry.NewCalibration(ff.Calib.P2, ff.Calib.R0, ff.Calib.V2C)
		if err != nil {
			return nil, err
		}
		frame.Calib = calib
	}

	for _, p := range ff.SharedIndices {
		frame.SharedIndices = append(frame.SharedIndices, fusion.IndexPair{Index2D: p[0], Index3D: p[1]})
	}

	if ff.Image != "" {
		path := ff.Image
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		format, err := images.FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read frame image")
		}
		img, err := images.Decode(data, format)
		if err != nil {
			return nil, err
		}
		frame.Image = img
	}

	return frame, nil
}
