package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"visual-regression/internal/baseline"
	"visual-regression/internal/capture"
	"visual-regression/internal/compare"
	"visual-regression/internal/config"
	diffimage "visual-regression/internal/diff/image"
	"visual-regression/internal/logging"
	"visual-regression/internal/raster"
	"visual-regression/internal/retry"
	"visual-regression/internal/storage"

	"github.com/playwright-community/playwright-go"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type Scenario struct {
	Name string
	URL  string
}

func parseScenarios(args []string) ([]Scenario, error) {
	scenarios := make([]Scenario, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		name, url, ok := strings.Cut(arg, "=")
		if !ok || name == "" || url == "" {
			return nil, xerrors.Errorf("invalid scenario %q, expected name=url", arg)
		}
		if _, err := baseline.StorageKey(name); err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, xerrors.Errorf("duplicate scenario %q", name)
		}
		seen[name] = true
		scenarios = append(scenarios, Scenario{Name: name, URL: url})
	}
	return scenarios, nil
}

type ScenarioResult struct {
	Name   string          `json:"name"`
	URL    string          `json:"url"`
	Result *compare.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type WorkerOutput struct {
	StartedAt time.Time        `json:"startedAt"`
	Passed    bool             `json:"passed"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

type Worker struct {
	Capturer    capture.Capturer
	Comparator  *compare.Comparator
	Options     capture.Options
	Concurrency int
	Logger      *slog.Logger
}

// Run captures every scenario and compares it against its baseline. A failing scenario never stops the others.
func (w *Worker) Run(ctx context.Context, scenarios []Scenario) *WorkerOutput {
	output := &WorkerOutput{
		StartedAt: time.Now(),
		Passed:    true,
		Scenarios: make([]ScenarioResult, len(scenarios)),
	}

	eg, ctx := errgroup.WithContext(ctx)
	if w.Concurrency > 0 {
		eg.SetLimit(w.Concurrency)
	}
	for i, scenario := range scenarios {
		eg.Go(func() error {
			result, err := w.runScenario(ctx, scenario)
			output.Scenarios[i] = ScenarioResult{
				Name:   scenario.Name,
				URL:    scenario.URL,
				Result: result,
			}
			if err != nil {
				w.Logger.Error("scenario failed", "scenario", scenario.Name, "error", err)
				output.Scenarios[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, s := range output.Scenarios {
		if s.Error != "" || s.Result == nil || !s.Result.Matches {
			output.Passed = false
		}
	}
	return output
}

func (w *Worker) runScenario(ctx context.Context, scenario Scenario) (*compare.Result, error) {
	captured, err := w.Capturer.Capture(ctx, scenario.URL, w.Options)
	if err != nil {
		return nil, xerrors.Errorf("failed to capture %s: %w", scenario.URL, err)
	}

	f, err := os.CreateTemp("", "actual-*.png")
	if err != nil {
		return nil, xerrors.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(captured.Screenshot); err != nil {
		f.Close()
		return nil, xerrors.Errorf("failed to write capture: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, xerrors.Errorf("failed to write capture: %w", err)
	}

	result, err := w.Comparator.Compare(ctx, compare.Request{
		Key:        scenario.Name,
		ActualPath: f.Name(),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to compare %s: %w", scenario.Name, err)
	}
	return result, nil
}

var errLossyFormat = errors.New("baselines are stored as png")

// captureConfig builds the browser settings. Captures must be png to match the stored baselines.
func captureConfig(format string, chromeDevtoolsProtocolURL string) (capture.PlaywrightConfig, error) {
	c := capture.DefaultPlaywrightConfig()
	if format != "" && format != "png" {
		return c, xerrors.Errorf("screenshot format %q: %w", format, errLossyFormat)
	}
	c.Format = "png"
	c.ChromeDevtoolsProtocolURL = chromeDevtoolsProtocolURL
	return c, nil
}

func main() {
	if err := config.LoadEnvFile(""); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}

	var screenshotFormat string
	var chromeDevtoolsProtocolURL string
	var selector string
	var maskSelectors string
	var storageBackend string
	var directory string
	var bucket string
	var threshold float64
	var maxDiffPixels int
	var maxPixels int64
	var concurrency int
	var schedule string
	var callbackURL string
	var callbackRetryOn string
	var installBrowsers bool
	var debug bool
	flag.StringVar(&screenshotFormat, "screenshot-format", config.EnvOrDefault("SCREENSHOT_FORMAT", "png"), "Screenshot format; only png is supported")
	flag.StringVar(&chromeDevtoolsProtocolURL, "chrome-devtools-protocol-url", config.EnvOrDefault("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	flag.StringVar(&selector, "selector", config.EnvOrDefault("SELECTOR", ""), "CSS selector of the element to capture instead of the viewport")
	flag.StringVar(&maskSelectors, "mask-selectors", config.EnvOrDefault("MASK_SELECTORS", ""), "Comma-separated list of CSS selectors to mask during capture")
	flag.StringVar(&storageBackend, "storage-backend", config.EnvOrDefault("STORAGE_BACKEND", "file"), "Storage backend (file, s3 or memory)")
	flag.StringVar(&directory, "directory", config.EnvOrDefault("DIRECTORY", "/tmp"), "Storage directory for the file backend")
	flag.StringVar(&bucket, "bucket", config.EnvOrDefault("S3_BUCKET", ""), "Bucket for the s3 backend")
	flag.Float64Var(&threshold, "threshold", config.EnvOrDefault("THRESHOLD", diffimage.DefaultThreshold), "Largest RGBA distance still counted as a match")
	flag.IntVar(&maxDiffPixels, "max-diff-pixels", config.EnvOrDefault("MAX_DIFF_PIXELS", 0), "Mismatched pixels tolerated before a scenario fails")
	flag.Int64Var(&maxPixels, "max-pixels", config.EnvOrDefault("MAX_PIXELS", raster.DefaultMaxPixels), "Largest width*height accepted when decoding a capture")
	flag.IntVar(&concurrency, "concurrency", config.EnvOrDefault("CONCURRENCY", 4), "Scenarios captured at once")
	flag.StringVar(&schedule, "schedule", config.EnvOrDefault("SCHEDULE", ""), "Cron schedule (minute hour dom month dow); empty runs once")
	flag.StringVar(&callbackURL, "callback-url", config.EnvOrDefault("CALLBACK_URL", ""), "Callback URL to send results to")
	flag.StringVar(&callbackRetryOn, "callback-retry-on", config.EnvOrDefault("CALLBACK_RETRY_ON", "gateway-error,connect-failure,retriable-4xx"), "Comma-separated envoy-style rules for retrying the callback (5xx, gateway-error, connect-failure, retriable-4xx or a status code)")
	flag.BoolVar(&installBrowsers, "install-browsers", config.EnvOrDefault("INSTALL_BROWSERS", true), "Install the chromium browser before the first run")
	flag.BoolVar(&debug, "debug", config.EnvOrDefault("DEBUG", false), "Human readable debug logging")

	flag.Parse()
	raster.SetMaxPixels(maxPixels)

	scenarios, err := parseScenarios(flag.Args())
	if err != nil {
		log.Fatalf("failed to parse scenarios: %v", err)
	}
	if len(scenarios) == 0 {
		log.Fatalf("usage: worker [flags] <name=url>...")
	}

	logger, err := logging.New(os.Stderr, debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	retryOn, err := retry.NewRetryOnFromString(callbackRetryOn)
	if err != nil {
		log.Fatalf("failed to parse callback retry rules: %v", err)
	}

	ctx := context.Background()

	c, err := captureConfig(screenshotFormat, chromeDevtoolsProtocolURL)
	if err != nil {
		log.Fatalf("invalid capture settings: %v", err)
	}

	if installBrowsers && chromeDevtoolsProtocolURL == "" {
		if err := playwright.Install(&playwright.RunOptions{
			Browsers: []string{"chromium"},
		}); err != nil {
			log.Fatalf("failed to install playwright browsers: %v", err)
		}
	}

	capturer, err := capture.NewPlaywrightCapturer(ctx, c)
	if err != nil {
		log.Fatalf("failed to initialize capturer: %v", err)
	}

	s, err := storage.New(ctx, storage.Config{
		Backend:   storageBackend,
		Directory: directory,
		Bucket:    bucket,
	})
	if err != nil {
		log.Fatalf("failed to create storage backend: %v", err)
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
		log.Fatalf("failed to create comparator: %v", err)
	}

	worker := &Worker{
		Capturer:   capturer,
		Comparator: comparator,
		Options: capture.Options{
			MaskSelectors: capture.SplitSelectors(maskSelectors),
			Selector:      selector,
		},
		Concurrency: concurrency,
		Logger:      logger,
	}

	runOnce := func(ctx context.Context) bool {
		output := worker.Run(ctx, scenarios)
		if err := report(ctx, callbackURL, retryOn, output); err != nil {
			logger.Error("failed to report results", "error", err)
		}
		return output.Passed
	}

	if schedule == "" {
		if !runOnce(ctx) {
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)))
	if _, err := scheduler.AddFunc(schedule, func() {
		runOnce(ctx)
	}); err != nil {
		log.Fatalf("failed to parse schedule %q: %v", schedule, err)
	}
	scheduler.Start()
	logger.Info("worker scheduled", "schedule", schedule, "scenarios", len(scenarios))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, os.Interrupt)
	<-quit

	<-scheduler.Stop().Done()
}

func report(ctx context.Context, callbackURL string, retryOn *retry.On, output *WorkerOutput) error {
	j, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal result: %w", err)
	}

	if callbackURL == "" {
		_, err := os.Stdout.Write(append(j, '\n'))
		return err
	}
	return callback(ctx, callbackURL, j, http.DefaultTransport, retryOn)
}

func callback(ctx context.Context, callbackURL string, data []byte, base http.RoundTripper, retryOn *retry.On) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(data))
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 5 * time.Second, // retry.Transport does not have perTryTimeout
		Transport: &retry.Transport{
			Base:          base,
			RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
			RetryOn:       retryOn,
		},
	}

	response, err := client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return xerrors.Errorf("callback returned %s", response.Status)
	}
	return nil
}
