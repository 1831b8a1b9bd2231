package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"visual-regression/internal/capture"
	"visual-regression/internal/config"
	"visual-regression/internal/raster"

	"golang.org/x/xerrors"
)

type CaptureOutput struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type headers []string

func (h *headers) String() string {
	return strings.Join(*h, ", ")
}

func (h *headers) Set(value string) error {
	*h = append(*h, value)
	return nil
}

func main() {
	if err := config.LoadEnvFile(""); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	var output string
	var format string
	var selector string
	var maskSelectors string
	var delay time.Duration
	var viewportWidth int
	var viewportHeight int
	var fullPage bool
	var userAgent string
	var chromeDevtoolsProtocolURL string
	var headers headers
	flag.StringVar(&output, "output", config.EnvOrDefault("OUTPUT", "actual.png"), "File the screenshot is written to")
	flag.StringVar(&format, "format", config.EnvOrDefault("FORMAT", "png"), "Output format (png or jpeg)")
	flag.StringVar(&selector, "selector", config.EnvOrDefault("SELECTOR", ""), "CSS selector of the element to capture instead of the viewport")
	flag.StringVar(&maskSelectors, "mask-selectors", config.EnvOrDefault("MASK_SELECTORS", ""), "Comma-separated list of CSS selectors to mask during capture")
	flag.DurationVar(&delay, "delay", config.EnvOrDefault("DELAY", 1*time.Second), "Delay before capturing")
	flag.IntVar(&viewportWidth, "viewport-width", config.EnvOrDefault("VIEWPORT_WIDTH", 1280), "Viewport width in pixels")
	flag.IntVar(&viewportHeight, "viewport-height", config.EnvOrDefault("VIEWPORT_HEIGHT", 720), "Viewport height in pixels")
	flag.BoolVar(&fullPage, "full-page", config.EnvOrDefault("FULL_PAGE", false), "Capture the full scrollable page")
	flag.StringVar(&userAgent, "user-agent", config.EnvOrDefault("USER_AGENT", ""), "User-Agent string to use for requests")
	flag.StringVar(&chromeDevtoolsProtocolURL, "chrome-devtools-protocol-url", config.EnvOrDefault("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	flag.Var(&headers, "H", "Add HTTP header (can be used multiple times, e.g., -H 'Accept: text/html' -H 'Authorization: Bearer token')")

	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		log.Fatalf("url not specified")
	}
	url := args[0]

	ctx := context.Background()

	c := capture.DefaultPlaywrightConfig()
	c.Format = format
	c.Delay = delay
	c.ViewportWidth = viewportWidth
	c.ViewportHeight = viewportHeight
	c.FullPage = fullPage
	c.UserAgent = userAgent
	c.ChromeDevtoolsProtocolURL = chromeDevtoolsProtocolURL
	if display := os.Getenv("DISPLAY"); display != "" {
		c.Headless = false
	}

	capturer, err := capture.NewPlaywrightCapturer(ctx, c)
	if err != nil {
		log.Fatalf("Failed to create capturer: %v", err)
	}

	result, err := capturer.Capture(ctx, url, capture.Options{
		Headers:       capture.ParseHeaders(headers),
		MaskSelectors: capture.SplitSelectors(maskSelectors),
		Selector:      selector,
	})
	if err != nil {
		log.Fatalf("Failed to capture screenshot: %v", err)
	}

	out, err := writeCapture(output, result.Screenshot)
	if err != nil {
		log.Fatalf("Failed to write capture: %v", err)
	}

	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}

func writeCapture(path string, data []byte) (*CaptureOutput, error) {
	r, err := raster.Decode(data)
	if err != nil {
		return nil, xerrors.Errorf("browser returned an undecodable screenshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, xerrors.Errorf("failed to write %s: %w", path, err)
	}
	return &CaptureOutput{
		Path:   path,
		Width:  r.Width,
		Height: r.Height,
	}, nil
}
