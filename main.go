package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"

	"github.com/nvr-ai/go-fusion/config"
	"github.com/nvr-ai/go-fusion/fusion"
	"github.com/nvr-ai/go-fusion/inference"
	"github.com/nvr-ai/go-fusion/profiler"
	"github.com/nvr-ai/go-fusion/util"
)

func main() {
	parser := argparse.NewParser("fusion", "Fuse 2D image and 3D point-cloud detections frame by frame")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Fusion config (.yaml, .yml or .json)", Required: true})
	framesDir := parser.String("f", "frames", &argparse.Options{Help: "Directory of frame-<n>.json files", Required: true})
	outputFile := parser.String("o", "output", &argparse.Options{Help: "Write one JSON record per frame here instead of stdout", Default: ""})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Frames processed concurrently (overrides config)", Default: -1})
	profile := parser.Flag("", "profile", &argparse.Options{Help: "Log per-stage timings while running", Default: false})
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

	if err := run(logger, *configFile, *framesDir, *outputFile, *workers, *profile); err != nil {
		logger.Criticalf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func run(logger logs.Log, configFile, framesDir, outputFile string, workers int, profile bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if workers >= 0 {
		cfg.Workers = workers
	}

	labels, err := cfg.LabelMap()
	if err != nil {
		return err
	}

	var refiner fusion.MaskRefiner
	switch cfg.Masks {
	case config.MasksNone:
		refiner = fusion.NoMasks{}
	case config.MasksCarried:
		refiner = fusion.CarriedMasks{}
	case config.MasksONNX:
		head, err := inference.NewMaskHead(inference.MaskHeadConfig{
			ModelPath:   cfg.MaskHead.ModelPath,
			LibraryPath: cfg.MaskHead.LibraryPath,
			InputSize:   cfg.MaskHead.InputSize,
			InputName:   cfg.MaskHead.InputName,
			OutputName:  cfg.MaskHead.OutputName,
		})
		if err != nil {
			return err
		}
		defer head.Close()
		refiner = head
		logger.Infof("✅ Mask head loaded: %s", cfg.MaskHead.ModelPath)
	}

	prof := profiler.NewRuntimeProfiler(logger, profiler.ProfilingOptions{})
	if profile {
		prof.Start()
		defer prof.Stop()
	}

	runID := uuid.New()
	pipeline := fusion.NewPipeline(
		logger,
		cfg.Suppressor(),
		fusion.NewAssociator(cfg.Associator(labels)),
		fusion.NewAssembler(runID, refiner, cfg.MaskThreshold, labels),
		cfg.ProjectionCorners,
		prof,
	)

	frames, failed, err := util.LoadFrameFiles(framesDir)
	if err != nil {
		return err
	}
	for _, fe := range failed {
		logger.Warnf("⚠️  Skipping unreadable frame: %v", fe)
	}
	logger.Infof("Run %s: fusing %d frames from %s", runID, len(frames), framesDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := pipeline.ProcessBatch(ctx, frames, cfg.Workers)
	if err != nil {
		return err
	}

	out := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	for _, rec := range result.Records {
		if rec == nil {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}

	if profile {
		prof.Report()
	}
	logger.Infof("✅ Fused %d of %d frames (%d failed, %d unreadable)",
		result.Succeeded(), len(frames), len(result.Errors), len(failed))
	return nil
}
