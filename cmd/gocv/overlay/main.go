// Command overlay draws the fused detections of one frame onto its image.
package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-fusion/config"
	"github.com/nvr-ai/go-fusion/fusion"
	"github.com/nvr-ai/go-fusion/images"
	"github.com/nvr-ai/go-fusion/util"
)

var sourceColors = map[fusion.Source]color.RGBA{
	fusion.SourceMatched: {0, 255, 0, 0},
	fusion.SourceOnly2D:  {0, 0, 255, 0},
	fusion.SourceOnly3D:  {255, 0, 0, 0},
}

func main() {
	parser := argparse.NewParser("overlay", "Draw fused detections onto a frame image")
	frameFile := parser.String("f", "frame", &argparse.Options{Help: "frame-<n>.json file", Required: true})
	imagePath := parser.String("i", "image", &argparse.Options{Help: "Original frame image", Required: true})
	outputPath := parser.String("o", "output", &argparse.Options{Help: "Where to write the annotated image", Default: "overlay.jpg"})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Fusion config (.yaml, .yml or .json)", Required: true})
	projections := parser.Flag("p", "projections", &argparse.Options{Help: "Also draw every projected 3D box", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(logger, *configFile, *frameFile, *imagePath, *outputPath, *projections); err != nil {
		logger.Criticalf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func run(logger logs.Log, configFile, frameFile, imagePath, outputPath string, projections bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	labels, err := cfg.LabelMap()
	if err != nil {
		return err
	}

	frame, err := util.LoadFrameFile(frameFile, filepath.Base(frameFile))
	if err != nil {
		return err
	}

	pipeline := fusion.NewPipeline(
		logger,
		cfg.Suppressor(),
		fusion.NewAssociator(cfg.Associator(labels)),
		fusion.NewAssembler(uuid.New(), fusion.CarriedMasks{}, cfg.MaskThreshold, labels),
		cfg.ProjectionCorners,
		nil,
	)
	rec, err := pipeline.ProcessFrame(context.Background(), frame)
	if err != nil {
		return err
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return errors.Errorf("failed to read image %s", imagePath)
	}
	defer img.Close()

	if projections {
		for _, r := range pipeline.Footprints(frame) {
			r = images.RecoverBox(r, frame.InputShape, frame.OriginalShape)
			gocv.Rectangle(&img, toRectangle(r), color.RGBA{255, 255, 0, 0}, 1)
		}
	}

	for _, d := range rec.Detections {
		c := sourceColors[d.Source]
		if d.Mask != nil {
			tint(&img, d.Mask, c)
		}
		box := toRectangle(d.Box)
		gocv.Rectangle(&img, box, c, 2)
		text := fmt.Sprintf("%s %d %.2f", d.Source, d.Label, d.Score)
		gocv.PutText(&img, text, box.Min, gocv.FontHersheyPlain, 0.8, c, 1)
	}

	if !gocv.IMWrite(outputPath, img) {
		return errors.Errorf("failed to write %s", outputPath)
	}
	logger.Infof("✅ Frame %s: %d matched, %d image-only, %d cloud-only -> %s",
		rec.FrameID, rec.MatchedCount, rec.Only2DCount, rec.Only3DCount, outputPath)
	return nil
}

func toRectangle(r images.Rect) image.Rectangle {
	return image.Rect(int(r.X1), int(r.Y1), int(r.X2), int(r.Y2))
}

// tint blends c into every mask pixel. The mask must be the image size.
func tint(img *gocv.Mat, mask *image.Gray, c color.RGBA) {
	b := mask.Bounds()
	if b.Dx() != img.Cols() || b.Dy() != img.Rows() {
		return
	}
	// Mats are BGR.
	bgr := [3]uint8{c.B, c.G, c.R}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.GrayAt(x, y).Y == 0 {
				continue
			}
			for ch := 0; ch < 3; ch++ {
				v := img.GetUCharAt(y, x*3+ch)
				img.SetUCharAt(y, x*3+ch, uint8((int(v)+int(bgr[ch]))/2))
			}
		}
	}
}
