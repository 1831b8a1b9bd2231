package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/xerrors"
)

// Raster is a non-premultiplied RGBA8 pixel buffer in row-major order.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

var (
	ErrInvalidShape = errors.New("invalid raster shape")
	ErrTooLarge     = errors.New("raster exceeds the pixel limit")
)

// DefaultMaxPixels bounds width*height of decoded images, about 200MB of RGBA8 per raster.
const DefaultMaxPixels int64 = 50_000_000

var maxPixels atomic.Int64

func init() {
	maxPixels.Store(DefaultMaxPixels)
}

// SetMaxPixels changes the decode limit. Non-positive values restore DefaultMaxPixels.
func SetMaxPixels(n int64) {
	if n <= 0 {
		n = DefaultMaxPixels
	}
	maxPixels.Store(n)
}

func MaxPixels() int64 {
	return maxPixels.Load()
}

// New returns a transparent raster of the given size.
func New(width int, height int) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("%dx%d: %w", width, height, ErrInvalidShape)
	}
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}, nil
}

// FromPix wraps an existing buffer. The buffer length must be exactly width*height*4.
func FromPix(width int, height int, pix []uint8) (*Raster, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*4 {
		return nil, xerrors.Errorf("%dx%d with %d bytes: %w", width, height, len(pix), ErrInvalidShape)
	}
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    pix,
	}, nil
}

func (r *Raster) Offset(x int, y int) int {
	return (y*r.Width + x) * 4
}

func (r *Raster) At(x int, y int) color.NRGBA {
	o := r.Offset(x, y)
	return color.NRGBA{R: r.Pix[o], G: r.Pix[o+1], B: r.Pix[o+2], A: r.Pix[o+3]}
}

func (r *Raster) Set(x int, y int, c color.NRGBA) {
	o := r.Offset(x, y)
	r.Pix[o] = c.R
	r.Pix[o+1] = c.G
	r.Pix[o+2] = c.B
	r.Pix[o+3] = c.A
}

func (r *Raster) SameShape(other *Raster) bool {
	return r.Width == other.Width && r.Height == other.Height
}

func (r *Raster) Clone() *Raster {
	pix := make([]uint8, len(r.Pix))
	copy(pix, r.Pix)
	return &Raster{
		Width:  r.Width,
		Height: r.Height,
		Pix:    pix,
	}
}

// Image returns an *image.NRGBA sharing the raster's buffer.
func (r *Raster) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    r.Pix,
		Stride: r.Width * 4,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

func Encode(w io.Writer, r *Raster) error {
	if err := png.Encode(w, r.Image()); err != nil {
		return xerrors.Errorf("failed to encode png: %w", err)
	}
	return nil
}

func EncodeToBytes(r *Raster) ([]byte, error) {
	var buffer bytes.Buffer
	if err := Encode(&buffer, r); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// DecodeError reports a raster that could not be read: missing, corrupt or in an unsupported encoding.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to decode raster: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode raster %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func Load(path string) (*Raster, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Source: path, Err: err}
	}
	defer file.Close()

	r, err := decode(file)
	if err != nil {
		return nil, &DecodeError{Source: path, Err: err}
	}
	return r, nil
}

func Decode(data []byte) (*Raster, error) {
	r, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return r, nil
}

// decode checks the declared size against MaxPixels before allocating pixels.
func decode(reader io.ReadSeeker) (*Raster, error) {
	cfg, _, err := image.DecodeConfig(reader)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrInvalidShape
	}
	if limit := MaxPixels(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, xerrors.Errorf("%dx%d over %d pixels: %w", cfg.Width, cfg.Height, limit, ErrTooLarge)
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, ErrInvalidShape
	}
	return FromImage(img), nil
}
