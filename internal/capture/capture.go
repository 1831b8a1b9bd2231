// Package capture renders a URL in a browser and returns the screenshot that becomes the actual raster.
package capture

import (
	"context"
	"strings"
)

type Options struct {
	Headers map[string]string
	// MaskSelectors are painted black before capture so volatile content never reaches the comparison.
	MaskSelectors []string
	// Selector limits the screenshot to the first matching element.
	Selector string
}

type Result struct {
	Screenshot []byte
}

type Capturer interface {
	Capture(ctx context.Context, url string, options Options) (*Result, error)
}

// ParseHeaders turns "Name: value" lines into a header map, skipping malformed ones.
func ParseHeaders(lines []string) map[string]string {
	if len(lines) == 0 {
		return nil
	}
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers
}

// SplitSelectors splits a comma separated selector list.
func SplitSelectors(s string) []string {
	var selectors []string
	for _, selector := range strings.Split(s, ",") {
		if selector = strings.TrimSpace(selector); selector != "" {
			selectors = append(selectors, selector)
		}
	}
	return selectors
}
