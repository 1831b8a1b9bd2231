// Package compare drives one visual comparison from a key and a freshly captured raster to a verdict.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"visual-regression/internal/baseline"
	diffimage "visual-regression/internal/diff/image"
	"visual-regression/internal/raster"
	"visual-regression/internal/retry"
	"visual-regression/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const instrumentationName = "visual-regression/internal/compare"

type State string

const (
	StateInit          State = "init"
	StateBootstrapping State = "bootstrapping"
	StateComparing     State = "comparing"
	StateDone          State = "done"
)

type Request struct {
	Key        string
	ActualPath string

	// HighlightedKey, CompositeKey and DifferenceKey name the artifact locations; empty means the ArtifactKeys defaults.
	HighlightedKey string
	CompositeKey   string
	DifferenceKey  string

	// Tolerance overrides the comparator default for this request.
	Tolerance *diffimage.Tolerance
}

type Result struct {
	Key            string                `json:"key"`
	Bootstrapped   bool                  `json:"bootstrapped"`
	Matches        bool                  `json:"matches"`
	MismatchCount  int                   `json:"mismatchCount"`
	ShapeMismatch  bool                  `json:"shapeMismatch"`
	Regions        []diffimage.Rectangle `json:"regions,omitempty"`
	BaselineURL    string                `json:"baselineUrl"`
	HighlightedURL string                `json:"highlightedUrl,omitempty"`
	CompositeURL   string                `json:"compositeUrl,omitempty"`
	DifferenceURL  string                `json:"differenceUrl,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
	Artifacts      *diffimage.Artifacts  `json:"-"`
}

// EncodeJSON writes result as a single JSON line.
func EncodeJSON(w io.Writer, result *Result) error {
	if err := json.NewEncoder(w).Encode(result); err != nil {
		return xerrors.Errorf("failed to encode result: %w", err)
	}
	return nil
}

type Config struct {
	// Tolerance is the default for requests without their own. The zero value demands exact equality.
	Tolerance     diffimage.Tolerance
	// RetryStrategy governs artifact writes. Nil writes once.
	RetryStrategy retry.Strategy
	Logger        *slog.Logger

	// MeterProvider and TracerProvider default to the otel globals.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

type Comparator struct {
	baselines     *baseline.Manager
	artifacts     storage.Storage
	tolerance     diffimage.Tolerance
	retryStrategy retry.Strategy
	logger        *slog.Logger
	tracer        trace.Tracer

	comparisonsTotal               metric.Int64Counter
	comparisonDurationMicroSeconds metric.Int64Histogram
}

func NewComparator(baselines *baseline.Manager, artifacts storage.Storage, c Config) (*Comparator, error) {
	if err := c.Tolerance.Validate(); err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meterProvider := c.MeterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	tracerProvider := c.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	meter := meterProvider.Meter(instrumentationName)
	comparisonsTotal, err := meter.Int64Counter("comparisons_total")
	if err != nil {
		return nil, xerrors.Errorf("failed to create counter: %w", err)
	}
	comparisonDurationMicroSeconds, err := meter.Int64Histogram("comparison_duration_micro_seconds")
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}

	return &Comparator{
		baselines:                      baselines,
		artifacts:                      artifacts,
		tolerance:                      c.Tolerance,
		retryStrategy:                  c.RetryStrategy,
		logger:                         logger,
		tracer:                         tracerProvider.Tracer(instrumentationName),
		comparisonsTotal:               comparisonsTotal,
		comparisonDurationMicroSeconds: comparisonDurationMicroSeconds,
	}, nil
}

// Compare judges the raster at request.ActualPath against the baseline for request.Key.
// The first run for a key adopts the actual raster as its baseline and matches trivially.
func (c *Comparator) Compare(ctx context.Context, request Request) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "Compare", trace.WithAttributes(attribute.String("key", request.Key)))
	defer span.End()

	now := time.Now()
	logger := c.logger.With("key", request.Key)

	tolerance := c.tolerance
	if request.Tolerance != nil {
		if err := request.Tolerance.Validate(); err != nil {
			return nil, c.fail(span, err)
		}
		tolerance = *request.Tolerance
	}

	c.transition(logger, StateInit)
	outcome, err := c.baselines.Resolve(ctx, request.Key, request.ActualPath)
	if err != nil {
		return nil, c.fail(span, err)
	}

	result := &Result{
		Key:         request.Key,
		BaselineURL: outcome.URL,
	}

	if outcome.Kind == baseline.Bootstrapped {
		c.transition(logger, StateBootstrapping)
		result.Bootstrapped = true
		result.Matches = true
		c.transition(logger, StateDone)
		c.record(ctx, result, now)
		return result, nil
	}

	c.transition(logger, StateComparing)
	actual, err := raster.Load(request.ActualPath)
	if err != nil {
		return nil, c.fail(span, err)
	}
	base, err := c.baselines.Load(ctx, outcome.URL)
	if err != nil {
		return nil, c.fail(span, err)
	}

	diff := diffimage.NewPixelDiff(tolerance).Compare(base, actual)
	result.Matches = diff.Matches
	result.MismatchCount = diff.MismatchCount
	result.ShapeMismatch = diff.ShapeMismatch
	result.Regions = diff.Regions

	if !diff.Matches && !diff.ShapeMismatch {
		artifacts, err := diffimage.Render(base, actual, diff.Mask)
		if err != nil {
			return nil, c.fail(span, err)
		}
		result.Artifacts = artifacts
		c.persist(ctx, logger, request, result)
	}

	c.transition(logger, StateDone)
	c.record(ctx, result, now)
	return result, nil
}

// ArtifactKeys returns the default storage keys of the highlighted, composite and difference artifacts for key.
func ArtifactKeys(key string) (highlighted string, composite string, difference string) {
	prefix := fmt.Sprintf("diff/%s/", key)
	return prefix + "highlighted.png", prefix + "composite.png", prefix + "difference.png"
}

// persist stores the artifacts concurrently. Failures become warnings and never change the verdict.
func (c *Comparator) persist(ctx context.Context, logger *slog.Logger, request Request, result *Result) {
	ctx, span := c.tracer.Start(ctx, "PersistArtifacts")
	defer span.End()

	highlightedKey, compositeKey, differenceKey := ArtifactKeys(request.Key)
	if request.HighlightedKey != "" {
		highlightedKey = request.HighlightedKey
	}
	if request.CompositeKey != "" {
		compositeKey = request.CompositeKey
	}
	if request.DifferenceKey != "" {
		differenceKey = request.DifferenceKey
	}

	type artifact struct {
		key    string
		raster *raster.Raster
		url    *string
	}
	artifacts := []artifact{
		{highlightedKey, result.Artifacts.Highlighted, &result.HighlightedURL},
		{compositeKey, result.Artifacts.Composite, &result.CompositeURL},
		{differenceKey, result.Artifacts.Difference, &result.DifferenceURL},
	}
	warnings := make([]string, len(artifacts))

	var eg errgroup.Group
	for i, a := range artifacts {
		eg.Go(func() error {
			url, err := c.put(ctx, a.key, a.raster)
			if err != nil {
				logger.Warn("failed to persist artifact", "artifact", a.key, "error", err)
				warnings[i] = fmt.Sprintf("failed to persist %s: %v", a.key, err)
				return nil
			}
			*a.url = url
			return nil
		})
	}
	_ = eg.Wait()

	for _, w := range warnings {
		if w != "" {
			result.Warnings = append(result.Warnings, w)
		}
	}
}

func (c *Comparator) put(ctx context.Context, key string, r *raster.Raster) (string, error) {
	data, err := raster.EncodeToBytes(r)
	if err != nil {
		return "", err
	}

	return retry.Do(ctx, c.retryStrategy, func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}, func(ctx context.Context) (string, error) {
		return c.artifacts.Put(ctx, key, data)
	})
}

func (c *Comparator) transition(logger *slog.Logger, state State) {
	logger.Debug("comparison state", "state", string(state))
}

func (c *Comparator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Comparator) record(ctx context.Context, result *Result, start time.Time) {
	verdict := "match"
	switch {
	case result.Bootstrapped:
		verdict = "bootstrapped"
	case result.ShapeMismatch:
		verdict = "shape_mismatch"
	case !result.Matches:
		verdict = "mismatch"
	}

	attrs := metric.WithAttributes(attribute.String("verdict", verdict))
	c.comparisonsTotal.Add(ctx, 1, attrs)
	c.comparisonDurationMicroSeconds.Record(ctx, time.Since(start).Microseconds(), attrs)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("verdict", verdict),
		attribute.Int("mismatch_count", result.MismatchCount),
	)
}
