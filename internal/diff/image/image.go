package image

import (
	"errors"
	"image"
	"math"

	"visual-regression/internal/raster"

	"golang.org/x/xerrors"
)

const DefaultThreshold = 30.0

// Tolerance decides when two pixels, and two rasters, are considered equal.
type Tolerance struct {
	// Threshold is the largest Euclidean RGBA distance that still counts as a match.
	Threshold float64
	// MaxDiffPixels is the number of mismatched pixels a raster may carry and still match.
	MaxDiffPixels int
}

func DefaultTolerance() Tolerance {
	return Tolerance{
		Threshold: DefaultThreshold,
	}
}

var ErrInvalidTolerance = errors.New("invalid tolerance")

func (t Tolerance) Validate() error {
	if math.IsNaN(t.Threshold) || t.Threshold < 0 {
		return xerrors.Errorf("threshold %v: %w", t.Threshold, ErrInvalidTolerance)
	}
	if t.MaxDiffPixels < 0 {
		return xerrors.Errorf("max diff pixels %d: %w", t.MaxDiffPixels, ErrInvalidTolerance)
	}
	return nil
}

type Result struct {
	Matches       bool        `json:"matches"`
	MismatchCount int         `json:"mismatchCount"`
	ShapeMismatch bool        `json:"shapeMismatch"`
	Regions       []Rectangle `json:"regions,omitempty"`
	Mask          *Mask       `json:"-"`
}

type Differ interface {
	Compare(baseline *raster.Raster, actual *raster.Raster) *Result
}

// Mask flags the pixels whose distance exceeded the threshold.
type Mask struct {
	Width  int
	Height int
	bits   []bool
}

func NewMask(width int, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		bits:   make([]bool, width*height),
	}
}

func (m *Mask) Set(x int, y int) {
	m.bits[y*m.Width+x] = true
}

func (m *Mask) At(x int, y int) bool {
	return m.bits[y*m.Width+x]
}

func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

func (m *Mask) Points() []image.Point {
	var points []image.Point
	for i, b := range m.bits {
		if b {
			points = append(points, image.Point{X: i % m.Width, Y: i / m.Width})
		}
	}
	return points
}
