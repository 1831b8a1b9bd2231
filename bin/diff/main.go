package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"visual-regression/internal/baseline"
	"visual-regression/internal/compare"
	"visual-regression/internal/config"
	diffimage "visual-regression/internal/diff/image"
	"visual-regression/internal/logging"
	"visual-regression/internal/raster"
	"visual-regression/internal/retry"
	"visual-regression/internal/storage"
)

func main() {
	if err := config.LoadEnvFile(""); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	var storageBackend string
	var directory string
	var bucket string
	var threshold float64
	var maxDiffPixels int
	var highlightedKey string
	var compositeKey string
	var differenceKey string
	var maxPixels int64
	var debug bool
	flag.StringVar(&storageBackend, "storage-backend", config.EnvOrDefault("STORAGE_BACKEND", "file"), "Storage backend (file, s3 or memory)")
	flag.StringVar(&directory, "directory", config.EnvOrDefault("DIRECTORY", "/tmp"), "Storage directory for the file backend")
	flag.StringVar(&bucket, "bucket", config.EnvOrDefault("S3_BUCKET", ""), "Bucket for the s3 backend")
	flag.Float64Var(&threshold, "threshold", config.EnvOrDefault("THRESHOLD", diffimage.DefaultThreshold), "Largest RGBA distance still counted as a match")
	flag.IntVar(&maxDiffPixels, "max-diff-pixels", config.EnvOrDefault("MAX_DIFF_PIXELS", 0), "Mismatched pixels tolerated before the comparison fails")
	flag.StringVar(&highlightedKey, "highlighted-key", config.EnvOrDefault("HIGHLIGHTED_KEY", ""), "Storage key of the highlighted diff (default diff/<key>/highlighted.png)")
	flag.StringVar(&compositeKey, "composite-key", config.EnvOrDefault("COMPOSITE_KEY", ""), "Storage key of the composite diff (default diff/<key>/composite.png)")
	flag.StringVar(&differenceKey, "difference-key", config.EnvOrDefault("DIFFERENCE_KEY", ""), "Storage key of the per-channel difference (default diff/<key>/difference.png)")
	flag.Int64Var(&maxPixels, "max-pixels", config.EnvOrDefault("MAX_PIXELS", raster.DefaultMaxPixels), "Largest width*height accepted when decoding an image")
	flag.BoolVar(&debug, "debug", config.EnvOrDefault("DEBUG", false), "Human readable debug logging")

	flag.Parse()
	raster.SetMaxPixels(maxPixels)

	args := flag.Args()
	if len(args) != 2 {
		log.Fatalf("usage: diff [flags] <key> <actual>")
	}

	logger, err := logging.New(os.Stderr, debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()
	s, err := storage.New(ctx, storage.Config{
		Backend:   storageBackend,
		Directory: directory,
		Bucket:    bucket,
	})
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	comparator, err := compare.NewComparator(baseline.NewManager(s, logger), s, compare.Config{
		Tolerance: diffimage.Tolerance{
			Threshold:     threshold,
			MaxDiffPixels: maxDiffPixels,
		},
		RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("Failed to create comparator: %v", err)
	}

	result, err := comparator.Compare(ctx, compare.Request{
		Key:            args[0],
		ActualPath:     args[1],
		HighlightedKey: highlightedKey,
		CompositeKey:   compositeKey,
		DifferenceKey:  differenceKey,
	})
	if err != nil {
		log.Fatalf("Failed to compare: %v", err)
	}

	if err := compare.EncodeJSON(os.Stdout, result); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}

	if !result.Matches {
		os.Exit(1)
	}
}
