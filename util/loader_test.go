package util

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion/fusion"
	"github.com/nvr-ai/go-fusion/geometry"
	"github.com/nvr-ai/go-fusion/images"
)

const sceneJSON = `{
  "id": "000007",
  "image": "000007.png",
  "input_shape": {"width": 200, "height": 100},
  "original_shape": {"width": 400, "height": 200},
  "calib": {
    "p2": [100, 0, 50, 0, 0, 100, 50, 0, 0, 0, 1, 0],
    "r0": [1, 0, 0, 0, 1, 0, 0, 0, 1],
    "v2c": [0, -1, 0, 0, 0, 0, -1, 0, 1, 0, 0, 0]
  },
  "dets_2d": {
    "boxes": [[39, 39, 61, 61], [150, 20, 170, 80]],
    "scores": [0.9, 0.6],
    "labels": [1, 2]
  },
  "dets_3d": {
    "boxes": [[10, 0, 0, 2, 2, 2, 0]],
    "scores": [0.8],
    "labels": [1]
  },
  "shared_indices": [[0, 0]]
}`

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func TestLoadFrameFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 400, 200))))
	writeFile(t, dir, "000007.png", buf.Bytes())
	writeFile(t, dir, "frame-7.json", []byte(sceneJSON))

	frame, err := LoadFrameFile(filepath.Join(dir, "frame-7.json"), "7")
	require.NoError(t, err)
	require.NoError(t, frame.Validate())

	assert.Equal(t, "000007", frame.ID)
	assert.Equal(t, images.FullRange(200, 100), frame.ValidRange)
	assert.Equal(t, []images.Rect{{X1: 39, Y1: 39, X2: 61, Y2: 61}, {X1: 150, Y1: 20, X2: 170, Y2: 80}}, frame.Dets2D.Boxes)
	assert.Equal(t, []geometry.Box3D{{X: 10, DX: 2, DY: 2, DZ: 2}}, frame.Dets3D.Boxes)
	assert.Equal(t, []fusion.IndexPair{{Index2D: 0, Index3D: 0}}, frame.SharedIndices)
	require.NotNil(t, frame.Calib)
	require.NotNil(t, frame.Image)
	assert.Equal(t, 400, frame.Image.Bounds().Dx())
}

func TestLoadFrameFiles(t *testing.T) {
	dir := t.TempDir()
	empty := []byte(`{"input_shape": {"width": 10, "height": 10}, "original_shape": {"width": 10, "height": 10}}`)
	writeFile(t, dir, "frame-10.json", empty)
	writeFile(t, dir, "frame-2.json", empty)
	writeFile(t, dir, "frame-3.json", []byte(`{"dets_2d": {"boxes": [[1, 2, 3]], "scores": [0.5], "labels": [1]}}`))
	writeFile(t, dir, "frame-4.json", []byte(`{not json`))
	writeFile(t, dir, "notes.txt", []byte("ignored"))
	writeFile(t, dir, "frame-x.json", []byte("ignored"))

	frames, failed, err := LoadFrameFiles(dir)
	require.NoError(t, err)

	require.Len(t, frames, 2)
	assert.Equal(t, "2", frames[0].ID)
	assert.Equal(t, "10", frames[1].ID)

	require.Len(t, failed, 2)
	assert.Equal(t, "3", failed[0].FrameID)
	assert.True(t, errors.Is(failed[0], fusion.ErrInputShape))
	assert.Equal(t, "4", failed[1].FrameID)

	_, _, err = LoadFrameFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
