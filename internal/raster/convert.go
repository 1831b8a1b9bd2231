package raster

import (
	"image"
	"image/color"
)

// FromImage converts any decoded image into a raster anchored at (0, 0).
func FromImage(img image.Image) *Raster {
	bounds := img.Bounds()
	r := &Raster{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    make([]uint8, bounds.Dx()*bounds.Dy()*4),
	}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < r.Height; y++ {
			start := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(r.Pix[r.Offset(0, y):r.Offset(0, y+1)], src.Pix[start:start+r.Width*4])
		}
	case *image.RGBA:
		for y := 0; y < r.Height; y++ {
			start := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			for x := 0; x < r.Width; x++ {
				s := start + x*4
				d := r.Offset(x, y)
				r.Pix[d], r.Pix[d+1], r.Pix[d+2], r.Pix[d+3] = unpremultiply(src.Pix[s], src.Pix[s+1], src.Pix[s+2], src.Pix[s+3])
			}
		}
	case *image.YCbCr:
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				yi := src.YOffset(bounds.Min.X+x, bounds.Min.Y+y)
				ci := src.COffset(bounds.Min.X+x, bounds.Min.Y+y)
				d := r.Offset(x, y)
				r.Pix[d], r.Pix[d+1], r.Pix[d+2], r.Pix[d+3] = ycbcrToRGBA(src.Y[yi], src.Cb[ci], src.Cr[ci])
			}
		}
	default:
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				r.Set(x, y, c)
			}
		}
	}

	return r
}

// unpremultiply mirrors color.NRGBAModel on 8-bit input.
func unpremultiply(r uint8, g uint8, b uint8, a uint8) (uint8, uint8, uint8, uint8) {
	switch a {
	case 0xff:
		return r, g, b, a
	case 0:
		return 0, 0, 0, 0
	}
	a16 := uint32(a) * 0x101
	nr := (uint32(r) * 0x101 * 0xffff) / a16
	ng := (uint32(g) * 0x101 * 0xffff) / a16
	nb := (uint32(b) * 0x101 * 0xffff) / a16
	return uint8(nr >> 8), uint8(ng >> 8), uint8(nb >> 8), a
}

func ycbcrToRGBA(y uint8, cb uint8, cr uint8) (uint8, uint8, uint8, uint8) {
	// ITU-R BT.601 full range (JFIF), 16.16 fixed point:
	// R = Y + 1.402 (Cr-128)
	// G = Y - 0.344136 (Cb-128) - 0.714136 (Cr-128)
	// B = Y + 1.772 (Cb-128)
	const (
		crToR = 91881
		cbToG = 22554
		crToG = 46802
		cbToB = 116130
	)

	yy := int32(y) * 0x10101
	cb1 := int32(cb) - 128
	cr1 := int32(cr) - 128

	r := (yy + crToR*cr1) >> 16
	g := (yy - cbToG*cb1 - crToG*cr1) >> 16
	b := (yy + cbToB*cb1) >> 16

	return clamp(r), clamp(g), clamp(b), 255
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
