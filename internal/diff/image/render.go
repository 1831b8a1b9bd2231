package image

import (
	"errors"
	"image"
	"image/color"

	"visual-regression/internal/raster"

	"golang.org/x/image/draw"
	"golang.org/x/xerrors"
)

// HighlightColor marks mismatched pixels: red at roughly half opacity.
var HighlightColor = color.NRGBA{R: 255, G: 0, B: 0, A: 128}

type Artifacts struct {
	// Highlighted is a transparent canvas with only the mismatched pixels painted.
	Highlighted *raster.Raster
	// Composite is the actual raster with Highlighted drawn over it.
	Composite *raster.Raster
	// Difference holds the per-channel |baseline - actual| of the colour channels, fully opaque.
	Difference *raster.Raster
}

var ErrMaskShape = errors.New("mask shape does not match rasters")

// Render builds the diff artifacts for a same-shaped comparison that did not match.
func Render(baseline *raster.Raster, actual *raster.Raster, mask *Mask) (*Artifacts, error) {
	if mask == nil || !baseline.SameShape(actual) || mask.Width != actual.Width || mask.Height != actual.Height {
		return nil, xerrors.Errorf("failed to render diff: %w", ErrMaskShape)
	}

	highlighted, err := raster.New(actual.Width, actual.Height)
	if err != nil {
		return nil, xerrors.Errorf("failed to allocate highlight canvas: %w", err)
	}
	for _, p := range mask.Points() {
		highlighted.Set(p.X, p.Y, HighlightColor)
	}

	composite := actual.Clone()
	dst := composite.Image()
	draw.Draw(dst, dst.Bounds(), highlighted.Image(), image.Point{}, draw.Over)

	return &Artifacts{
		Highlighted: highlighted,
		Composite:   composite,
		Difference:  difference(baseline, actual),
	}, nil
}

func difference(baseline *raster.Raster, actual *raster.Raster) *raster.Raster {
	out := &raster.Raster{
		Width:  actual.Width,
		Height: actual.Height,
		Pix:    make([]uint8, len(actual.Pix)),
	}
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			a, b := baseline.Pix[i+c], actual.Pix[i+c]
			if a > b {
				out.Pix[i+c] = a - b
			} else {
				out.Pix[i+c] = b - a
			}
		}
		out.Pix[i+3] = 0xff
	}
	return out
}
