package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"posekde/internal/logging"
	"posekde/pkg/collection"
	"posekde/pkg/config"
	"posekde/pkg/observation"
	"posekde/pkg/pose"
	"posekde/pkg/visualization"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Parse command line arguments
	objectFile := flag.String("object", "", "Object model file (x y z [nx ny nz | qw qx qy qz] per line)")
	sceneFile := flag.String("scene", "", "Scene file, same format as the object")
	configPath := flag.String("config", "posekde.yaml", "YAML configuration file; defaults are used if it does not exist")
	createConfig := flag.Bool("create-config", false, "Write the default configuration to -config and exit")
	alignedFile := flag.String("aligned", "", "File to write the object model transformed by the estimated pose")
	bestFile := flag.String("best-transfo", "", "File to write the estimated pose")
	axial := flag.Bool("axial", false, "Treat normals as axes (n and -n are equivalent)")
	nPoints := flag.Int("n", 0, "Object points scored per round (overrides config)")
	locH := flag.Float64("loc-h", 0, "Location kernel width (overrides config)")
	oriH := flag.Float64("ori-h", 0, "Orientation kernel width in radians (overrides config)")
	chains := flag.Int("chains", 0, "Number of annealing chains (overrides config)")
	seed := flag.Uint64("seed", 0, "Random seed (overrides config)")
	light := flag.Bool("light", false, "Limit the scene to the configured light limit, for speed")
	accurate := flag.Bool("accurate-score", false, "Recompute the score of the result on every object point")
	renderDir := flag.String("render", "", "Directory to write z slices of the scene and aligned object densities")
	renderSlices := flag.Int("render-slices", 10, "Number of slices written per density with -render")
	renderRes := flag.Float64("render-res", 0, "Slice pixel size in world units (default: object size / 50)")
	timeout := flag.Duration("timeout", 0, "Abort estimation after this duration (0 means no limit)")
	flag.Parse()

	if *createConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return nil
	}

	// Validate inputs
	if *objectFile == "" || *sceneFile == "" {
		flag.Usage()
		return errors.New("both -object and -scene are required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Explicit flags take precedence over the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.Estimator.Points = *nPoints
		case "loc-h":
			cfg.Kernel.LocH = *locH
		case "ori-h":
			cfg.Kernel.OriH = *oriH
		case "chains":
			cfg.Estimator.Chains = *chains
		case "seed":
			cfg.Estimator.Seed = *seed
		case "light":
			cfg.Estimator.Light = *light
		case "accurate-score":
			cfg.Estimator.AccurateScore = *accurate
		}
	})

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	estimatorCfg, err := cfg.EstimatorConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var readOpts []observation.ReadOption
	if *axial {
		readOpts = append(readOpts, observation.WithAxialNormals())
	}
	object, err := observation.ReadFile(*objectFile, readOpts...)
	if err != nil {
		return fmt.Errorf("failed to read object model: %w", err)
	}
	scene, err := observation.ReadFile(*sceneFile, readOpts...)
	if err != nil {
		return fmt.Errorf("failed to read scene: %w", err)
	}
	logger.Info("evidence loaded", "object_points", object.Len(), "scene_points", scene.Len())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	estimator, err := pose.NewEstimator(object, scene, estimatorCfg, pose.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to prepare evidence: %w", err)
	}
	if estimator.SceneSize() > pose.DefaultLightLimit {
		logger.Warn("scene has many points, consider -light", "scene_points", estimator.SceneSize())
	}

	startTime := time.Now()
	result, err := estimator.Estimate(ctx)
	if err != nil {
		return fmt.Errorf("pose estimation failed: %w", err)
	}
	elapsed := time.Since(startTime)

	fmt.Printf("Pose estimation completed in %.2f seconds (run %s, seed %d)\n",
		elapsed.Seconds(), result.RunID, result.Seed)
	fmt.Printf("Score: %g\n", result.Score)
	if err := observation.WriteKernel(os.Stdout, result.Pose); err != nil {
		return fmt.Errorf("failed to print pose: %w", err)
	}

	if *bestFile != "" {
		f, err := os.Create(*bestFile)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *bestFile, err)
		}
		if err := observation.WriteKernel(f, result.Pose); err != nil {
			f.Close()
			return fmt.Errorf("failed to write pose: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write pose: %w", err)
		}
	}

	if *alignedFile != "" {
		aligned, err := estimator.AlignedObject(result.Pose)
		if err != nil {
			return fmt.Errorf("failed to align object model: %w", err)
		}
		if err := observation.WriteFile(*alignedFile, aligned); err != nil {
			return fmt.Errorf("failed to write aligned object model: %w", err)
		}
		fmt.Printf("Aligned object model saved to: %s\n", *alignedFile)
	}

	if *renderDir != "" {
		res := *renderRes
		if res <= 0 {
			res = estimator.ObjectSize() / 50
		}
		aligned, err := estimator.AlignedObject(result.Pose)
		if err != nil {
			return fmt.Errorf("failed to align object model: %w", err)
		}
		for name, c := range map[string]*collection.Collection{"scene": estimator.Scene(), "aligned": aligned} {
			viewer, err := visualization.NewViewer(c, res, estimatorCfg.Runner)
			if err != nil {
				return fmt.Errorf("failed to prepare %s density: %w", name, err)
			}
			dir := filepath.Join(*renderDir, name)
			if err := viewer.SaveSliceSequence(ctx, "z", *renderSlices, dir); err != nil {
				return fmt.Errorf("failed to render %s density: %w", name, err)
			}
			logger.Info("density slices written", "density", name, "dir", dir, "resolution", res)
		}
		fmt.Printf("Density slices saved to: %s\n", *renderDir)
	}
	return nil
}
