// Package config - Process-wide fusion settings loaded once at startup.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-fusion/fusion"
	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/models/postprocess"
)

// ErrConfiguration marks a missing or invalid setting. It is fatal.
var ErrConfiguration = errors.New("invalid configuration")

// maxFileSize bounds the config file we are willing to read.
const maxFileSize = 1 * 1024 * 1024

// Mask refiner kinds.
const (
	MasksNone    = "none"
	MasksCarried = "carried"
	MasksONNX    = "onnx"
)

// MaskHeadConfig configures the ONNX mask-refinement network.
type MaskHeadConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath is the onnxruntime shared library. Empty uses the default.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputSize is the square crop size fed to the network.
	InputSize int `json:"input_size" yaml:"input_size"`
	// InputName and OutputName are the graph's tensor names.
	InputName  string `json:"input_name" yaml:"input_name"`
	OutputName string `json:"output_name" yaml:"output_name"`
}

// FusionConfig holds every threshold of the fusion pipeline.
//
// The values are read-only once loaded and shared by all frame workers.
type FusionConfig struct {
	// NMSIoU3D and NMSIoU2D are the per-modality suppression thresholds.
	NMSIoU3D float32 `json:"nms_iou_3d" yaml:"nms_iou_3d"`
	NMSIoU2D float32 `json:"nms_iou_2d" yaml:"nms_iou_2d"`

	// ScoreThresh3DNMS and ScoreThresh2DNMS drop weak boxes after suppression.
	ScoreThresh3DNMS float32 `json:"score_thresh_3d_nms" yaml:"score_thresh_3d_nms"`
	ScoreThresh2DNMS float32 `json:"score_thresh_2d_nms" yaml:"score_thresh_2d_nms"`

	// IoUThresh is the inclusive matching threshold.
	IoUThresh float32 `json:"iou_thresh" yaml:"iou_thresh"`

	// ClsThresh2D keeps unmatched 2D detections scoring at least this much.
	ClsThresh2D float32 `json:"cls_thresh_2d" yaml:"cls_thresh_2d"`
	// ClsThresh3D keeps unmatched 3D detections scoring strictly more.
	ClsThresh3D float32 `json:"cls_thresh_3d" yaml:"cls_thresh_3d"`

	// ClassLabelMap maps 2D labels to 3D labels. Empty means shared labels.
	ClassLabelMap map[int]int `json:"class_label_map,omitempty" yaml:"class_label_map,omitempty"`

	NMS3DMode         geometry.OverlapMode `json:"nms_3d_mode" yaml:"nms_3d_mode"`
	ProjectionCorners geometry.CornerMode  `json:"projection_corners" yaml:"projection_corners"`

	// Workers bounds concurrent frames; 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
	// NMSWorkers parallelizes the overlap checks inside one suppression.
	NMSWorkers int `json:"nms_workers" yaml:"nms_workers"`

	Masks         string         `json:"masks" yaml:"masks"`
	MaskThreshold float32        `json:"mask_threshold" yaml:"mask_threshold"`
	MaskHead      MaskHeadConfig `json:"mask_head" yaml:"mask_head"`
}

// requiredKeys are the thresholds every config file must set explicitly.
// Load never fills them in from DefaultConfig.
var requiredKeys = []string{
	"nms_iou_3d",
	"nms_iou_2d",
	"score_thresh_3d_nms",
	"score_thresh_2d_nms",
	"iou_thresh",
	"cls_thresh_2d",
	"cls_thresh_3d",
}

// DefaultConfig returns the base a config file is decoded onto. Its
// thresholds are reference values only; Load requires the file to set them.
//
// Returns:
//   - FusionConfig: Defaults for a KITTI-style car/pedestrian/cyclist setup.
func DefaultConfig() FusionConfig {
	return FusionConfig{
		NMSIoU3D:          0.1,
		NMSIoU2D:          0.5,
		ScoreThresh3DNMS:  0.1,
		ScoreThresh2DNMS:  0.05,
		IoUThresh:         0.5,
		ClsThresh2D:       0.5,
		ClsThresh3D:       0.5,
		NMS3DMode:         geometry.OverlapIoU3D,
		ProjectionCorners: geometry.CornersBox,
		Masks:             MasksCarried,
		MaskThreshold:     0.5,
		MaskHead: MaskHeadConfig{
			InputSize:  28,
			InputName:  "input",
			OutputName: "masks",
		},
	}
}

// Load reads a .yaml, .yml or .json file on top of DefaultConfig and
// validates the result. Every threshold in requiredKeys must be present in
// the file.
func Load(path string) (*FusionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, errors.Wrapf(ErrConfiguration, "config file must be .yaml, .yml or .json, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat config file")
	}
	if info.Size() > maxFileSize {
		return nil, errors.Wrapf(ErrConfiguration, "config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	unmarshal := yaml.Unmarshal
	if ext == ".json" {
		unmarshal = json.Unmarshal
	}

	var raw map[string]any
	if err := unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "failed to parse %s: %v", cleanPath, err)
	}
	for _, key := range requiredKeys {
		if v, ok := raw[key]; !ok || v == nil {
			return nil, errors.Wrapf(ErrConfiguration, "missing required setting %q in %s", key, cleanPath)
		}
	}

	cfg := DefaultConfig()
	if err := unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "failed to parse %s: %v", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unitInterval(name string, v float32) error {
	if math32.IsNaN(v) || v < 0 || v > 1 {
		return errors.Wrapf(ErrConfiguration, "%s must be in [0, 1], got %v", name, v)
	}
	return nil
}

// Validate checks every field. All errors wrap ErrConfiguration.
func (c *FusionConfig) Validate() error {
	for _, f := range []struct {
		name  string
		value float32
	}{
		{"nms_iou_3d", c.NMSIoU3D},
		{"nms_iou_2d", c.NMSIoU2D},
		{"score_thresh_3d_nms", c.ScoreThresh3DNMS},
		{"score_thresh_2d_nms", c.ScoreThresh2DNMS},
		{"iou_thresh", c.IoUThresh},
		{"cls_thresh_2d", c.ClsThresh2D},
		{"cls_thresh_3d", c.ClsThresh3D},
		{"mask_threshold", c.MaskThreshold},
	} {
		if err := unitInterval(f.name, f.value); err != nil {
			return err
		}
	}
	// Zero would pair boxes that do not overlap at all.
	if c.IoUThresh == 0 {
		return errors.Wrap(ErrConfiguration, "iou_thresh must be greater than 0")
	}

	switch c.NMS3DMode {
	case geometry.OverlapIoU3D, geometry.OverlapBEV:
	default:
		return errors.Wrapf(ErrConfiguration, "nms_3d_mode must be %q or %q, got %q", geometry.OverlapIoU3D, geometry.OverlapBEV, c.NMS3DMode)
	}
	switch c.ProjectionCorners {
	case geometry.CornersBox, geometry.CornersFootprint:
	default:
		return errors.Wrapf(ErrConfiguration, "projection_corners must be %q or %q, got %q", geometry.CornersBox, geometry.CornersFootprint, c.ProjectionCorners)
	}

	if c.Workers < 0 || c.NMSWorkers < 0 {
		return errors.Wrap(ErrConfiguration, "worker counts cannot be negative")
	}

	switch c.Masks {
	case MasksNone, MasksCarried:
	case MasksONNX:
		if c.MaskHead.ModelPath == "" {
			return errors.Wrap(ErrConfiguration, "mask_head.model_path is required when masks is \"onnx\"")
		}
		if c.MaskHead.InputSize <= 0 {
			return errors.Wrap(ErrConfiguration, "mask_head.input_size must be positive")
		}
	default:
		return errors.Wrapf(ErrConfiguration, "masks must be one of none, carried, onnx, got %q", c.Masks)
	}

	if _, err := c.LabelMap(); err != nil {
		return err
	}
	return nil
}

// LabelMap builds the ClassLabelMap, or nil when none is configured.
func (c *FusionConfig) LabelMap() (*fusion.ClassLabelMap, error) {
	if len(c.ClassLabelMap) == 0 {
		return nil, nil
	}
	m, err := fusion.NewClassLabelMap(c.ClassLabelMap)
	if err != nil {
		return nil, errors.Wrap(ErrConfiguration, err.Error())
	}
	return m, nil
}

// Suppressor builds the per-modality NMS settings.
func (c *FusionConfig) Suppressor() *postprocess.Suppressor {
	return &postprocess.Suppressor{
		Config2D: postprocess.NMSConfig{
			IoUThreshold:   c.NMSIoU2D,
			ScoreThreshold: c.ScoreThresh2DNMS,
			NumWorkers:     c.NMSWorkers,
		},
		Config3D: postprocess.NMSConfig{
			IoUThreshold:   c.NMSIoU3D,
			ScoreThreshold: c.ScoreThresh3DNMS,
			NumWorkers:     c.NMSWorkers,
		},
		Mode3D: c.NMS3DMode,
	}
}

// Associator builds the association thresholds around labels.
func (c *FusionConfig) Associator(labels *fusion.ClassLabelMap) fusion.AssociatorConfig {
	return fusion.AssociatorConfig{
		IoUThreshold: c.IoUThresh,
		ClsThresh2D:  c.ClsThresh2D,
		ClsThresh3D:  c.ClsThresh3D,
		LabelMap:     labels,
	}
}
