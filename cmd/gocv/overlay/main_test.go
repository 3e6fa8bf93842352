package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion/config"
	"github.com/nvr-ai/go-fusion/fusion"
)

const testConfig = `
nms_iou_3d: 0.1
nms_iou_2d: 0.5
score_thresh_3d_nms: 0.1
score_thresh_2d_nms: 0.05
iou_thresh: 0.5
cls_thresh_2d: 0.5
cls_thresh_3d: 0.5
`

const emptyFrame = `{"input_shape": {"width": 10, "height": 10}, "original_shape": {"width": 10, "height": 10}}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_Failures(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "fusion.yaml", testConfig)
	frame := writeFile(t, dir, "frame-1.json", emptyFrame)
	badFrame := writeFile(t, dir, "frame-2.json", `{"dets_2d": {"boxes": [[1, 2, 3]], "scores": [0.5], "labels": [1]}}`)
	noThresholds := writeFile(t, dir, "defaults.yaml", "workers: 2\n")
	missingImage := filepath.Join(dir, "missing.png")
	out := filepath.Join(dir, "overlay.jpg")

	t.Run("missing config", func(t *testing.T) {
		err := run(logs.NewTestingLog(t), filepath.Join(dir, "missing.yaml"), frame, missingImage, out, false)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("config without thresholds", func(t *testing.T) {
		err := run(logs.NewTestingLog(t), noThresholds, frame, missingImage, out, false)
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})
	t.Run("malformed frame", func(t *testing.T) {
		err := run(logs.NewTestingLog(t), cfg, badFrame, missingImage, out, false)
		assert.ErrorIs(t, err, fusion.ErrInputShape)
	})
	t.Run("missing image", func(t *testing.T) {
		err := run(logs.NewTestingLog(t), cfg, frame, missingImage, out, false)
		assert.ErrorContains(t, err, "failed to read image")
		assert.NoFileExists(t, out)
	})
}
