package capture

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type PlaywrightConfig struct {
	ViewportWidth  int
	ViewportHeight int

	FullPage bool
	Format   string
	Quality  int

	Timeout time.Duration
	Delay   time.Duration

	UserAgent string

	Headless                  bool
	ChromeDevtoolsProtocolURL string
}

// DefaultPlaywrightConfig captures lossless PNG at a fixed 1280x720 viewport so runs stay pixel-comparable.
func DefaultPlaywrightConfig() PlaywrightConfig {
	return PlaywrightConfig{
		ViewportWidth:  1280,
		ViewportHeight: 720,
		FullPage:       false,
		Format:         "png",
		Timeout:        30 * time.Second,
		Delay:          1 * time.Second,
		Headless:       true,
	}
}

type playwrightCapturer struct {
	config PlaywrightConfig
}

func NewPlaywrightCapturer(ctx context.Context, p PlaywrightConfig) (Capturer, error) {
	if p.ViewportWidth <= 0 || p.ViewportHeight <= 0 {
		return nil, xerrors.Errorf("invalid viewport %dx%d", p.ViewportWidth, p.ViewportHeight)
	}
	return &playwrightCapturer{
		config: p,
	}, nil
}

func (c *playwrightCapturer) Capture(ctx context.Context, url string, options Options) (*Result, error) {
	p, err := playwright.Run()
	if err != nil {
		return nil, xerrors.Errorf("failed to start playwright: %w", err)
	}
	defer p.Stop()

	var browser playwright.Browser
	if c.config.ChromeDevtoolsProtocolURL == "" {
		browser, err = p.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(c.config.Headless),
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to launch browser: %w", err)
		}
		defer browser.Close()
	} else {
		browser, err = p.Chromium.ConnectOverCDP(c.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			return nil, xerrors.Errorf("failed to connect to browser via CDP at %s: %w", c.config.ChromeDevtoolsProtocolURL, err)
		}
	}

	pageOptions := playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{
			Width:  c.config.ViewportWidth,
			Height: c.config.ViewportHeight,
		},
	}
	if c.config.UserAgent != "" {
		pageOptions.UserAgent = playwright.String(c.config.UserAgent)
	}

	page, err := browser.NewPage(pageOptions)
	if err != nil {
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	defer page.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			page.Close()
		case <-done:
		}
	}()
	defer close(done)

	if len(options.Headers) > 0 {
		if err := page.SetExtraHTTPHeaders(options.Headers); err != nil {
			return nil, xerrors.Errorf("failed to set HTTP headers: %w", err)
		}
	}

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(c.config.Timeout.Milliseconds())),
	}); err != nil {
		return nil, xerrors.Errorf("failed to navigate to %s: %w", url, err)
	}

	if c.config.Delay > 0 {
		select {
		case <-time.After(c.config.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(options.MaskSelectors) > 0 {
		unique := make([]byte, 8)
		if _, err := rand.Read(unique); err != nil {
			return nil, xerrors.Errorf("failed to generate unique identifier: %w", err)
		}
		if _, err := page.Evaluate(maskScript("mask-"+hex.EncodeToString(unique)), options.MaskSelectors); err != nil {
			return nil, xerrors.Errorf("failed to mask selectors: %w", err)
		}
	}

	screenshotType, quality := c.screenshotType()

	var screenshot []byte
	if options.Selector != "" {
		locator := page.Locator(options.Selector).First()
		if err := locator.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(float64(c.config.Timeout.Milliseconds())),
		}); err != nil {
			return nil, xerrors.Errorf("failed to find %s: %w", options.Selector, err)
		}
		screenshot, err = locator.Screenshot(playwright.LocatorScreenshotOptions{
			Type:    screenshotType,
			Quality: quality,
		})
	} else {
		screenshot, err = page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(c.config.FullPage),
			Type:     screenshotType,
			Quality:  quality,
		})
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to take screenshot: %w", err)
	}

	return &Result{
		Screenshot: screenshot,
	}, nil
}

func (c *playwrightCapturer) screenshotType() (*playwright.ScreenshotType, *int) {
	if c.config.Format == "jpeg" {
		if c.config.Quality > 0 {
			return playwright.ScreenshotTypeJpeg, playwright.Int(c.config.Quality)
		}
		return playwright.ScreenshotTypeJpeg, nil
	}
	return playwright.ScreenshotTypePng, nil
}

// maskScript returns a page function that covers every element matching its selector argument with a black box.
func maskScript(className string) string {
	maskCSS := fmt.Sprintf(`
.%s {
  position: relative !important;
}
.%s::after {
  content: "" !important;
  position: absolute !important;
  inset: 0 !important;
  background-color: black !important;
  z-index: 2147483646 !important;
  pointer-events: none !important;
}
`, className, className)

	return fmt.Sprintf(`(selectors) => {
	const style = document.createElement('style');
	style.textContent = %q;
	document.head.appendChild(style);

	selectors.forEach(selector => {
		document.querySelectorAll(selector).forEach(element => {
			element.classList.add(%q);
		});
	});
}`, maskCSS, className)
}
