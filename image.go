package tilestore

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Pixel layouts understood by the image helpers:
//
//	bpp 1: gray
//	bpp 2: gray, alpha
//	bpp 3: red, green, blue
//	bpp 4: red, green, blue, alpha (not premultiplied)
//
// Other bpp values are opaque to them and return ErrInvalidBPP.

// ReadImage returns the pixels of rectangle r of level 0 as an image whose
// bounds start at the origin. See Level.ReadImage.
func (m *Manager) ReadImage(r image.Rectangle) (image.Image, error) {
	if m.destroyed {
		return nil, ErrDestroyed
	}
	return m.levels[0].ReadImage(r)
}

// WriteImage stores img at point at of level 0. See Level.WriteImage.
func (m *Manager) WriteImage(img image.Image, at image.Point) error {
	if m.destroyed {
		return ErrDestroyed
	}
	return m.levels[0].WriteImage(img, at)
}

// WriteImageRect stores img scaled to fill rectangle r of level 0.
// See Level.WriteImageRect.
func (m *Manager) WriteImageRect(img image.Image, r image.Rectangle) error {
	if m.destroyed {
		return ErrDestroyed
	}
	return m.levels[0].WriteImageRect(img, r)
}

// ReadImage returns the pixels of rectangle r as an image whose bounds
// start at the origin: *image.Gray for 1 byte per pixel, *image.NRGBA
// otherwise.
func (l *Level) ReadImage(r image.Rectangle) (image.Image, error) {
	src, err := l.Region(r, false)
	if err != nil {
		return nil, err
	}
	bpp := l.m.bpp
	bounds := image.Rect(0, 0, r.Dx(), r.Dy())

	switch bpp {
	case 1:
		img := image.NewGray(bounds)
		return img, copyToFlat(img.Pix, img.Stride, 1, src)
	case 4:
		img := image.NewNRGBA(bounds)
		return img, copyToFlat(img.Pix, img.Stride, 4, src)
	case 2, 3:
		stride := bounds.Dx() * bpp
		buf := make([]byte, stride*bounds.Dy())
		if err := copyToFlat(buf, stride, bpp, src); err != nil {
			return nil, err
		}
		img := image.NewNRGBA(bounds)
		for y := range bounds.Dy() {
			in := buf[y*stride:]
			out := img.Pix[y*img.Stride:]
			for x := range bounds.Dx() {
				p, o := in[x*bpp:], out[x*4:x*4+4]
				if bpp == 2 {
					o[0], o[1], o[2], o[3] = p[0], p[0], p[0], p[1]
				} else {
					o[0], o[1], o[2], o[3] = p[0], p[1], p[2], 0xff
				}
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: no image layout for %d bytes per pixel", ErrInvalidBPP, bpp)
	}
}

// WriteImage stores img with its top-left corner at point at. The whole
// image must fit in the level. Any image type is accepted and converted to
// the level's pixel layout.
func (l *Level) WriteImage(img image.Image, at image.Point) error {
	r := image.Rectangle{Min: at, Max: at.Add(img.Bounds().Size())}
	dst, err := l.Region(r, true)
	if err != nil {
		return err
	}
	buf, stride, err := pack(img, r.Size(), l.m.bpp, nil)
	if err != nil {
		return err
	}
	return copyFromFlat(dst, buf, stride)
}

// WriteImageRect stores img scaled to fill rectangle r with bilinear
// filtering.
func (l *Level) WriteImageRect(img image.Image, r image.Rectangle) error {
	dst, err := l.Region(r, true)
	if err != nil {
		return err
	}
	buf, stride, err := pack(img, r.Size(), l.m.bpp, draw.BiLinear)
	if err != nil {
		return err
	}
	return copyFromFlat(dst, buf, stride)
}

// copyToFlat copies src into a flat buffer anchored at the origin.
func copyToFlat(buf []byte, stride, bpp int, src *Region) error {
	dst, err := NewFlatRegion(buf, stride, bpp, image.Rectangle{Max: src.size()}, true)
	if err != nil {
		return err
	}
	return Copy(dst, src)
}

// copyFromFlat copies a flat buffer anchored at the origin into dst.
func copyFromFlat(dst *Region, buf []byte, stride int) error {
	src, err := NewFlatRegion(buf, stride, dst.bpp, image.Rectangle{Max: dst.size()}, false)
	if err != nil {
		return err
	}
	return Copy(dst, src)
}

// pack converts img to size pixels in the layout for bpp. With a nil
// scaler img must already be size pixels and is converted as is.
func pack(img image.Image, size image.Point, bpp int, scaler draw.Scaler) ([]byte, int, error) {
	bounds := image.Rectangle{Max: size}
	render := func(dst draw.Image) {
		if scaler != nil {
			scaler.Scale(dst, bounds, img, img.Bounds(), draw.Src, nil)
			return
		}
		draw.Draw(dst, bounds, img, img.Bounds().Min, draw.Src)
	}

	switch bpp {
	case 1:
		g := image.NewGray(bounds)
		render(g)
		return g.Pix, g.Stride, nil
	case 4:
		n := image.NewNRGBA(bounds)
		render(n)
		return n.Pix, n.Stride, nil
	case 2, 3:
		n := image.NewNRGBA(bounds)
		render(n)
		stride := size.X * bpp
		buf := make([]byte, stride*size.Y)
		for y := range size.Y {
			in := n.Pix[y*n.Stride:]
			out := buf[y*stride:]
			for x := range size.X {
				p, o := in[x*4:x*4+4], out[x*bpp:]
				if bpp == 2 {
					g := color.GrayModel.Convert(color.RGBA{R: p[0], G: p[1], B: p[2], A: 0xff}).(color.Gray)
					o[0], o[1] = g.Y, p[3]
				} else {
					o[0], o[1], o[2] = p[0], p[1], p[2]
				}
			}
		}
		return buf, stride, nil
	default:
		return nil, 0, fmt.Errorf("%w: no image layout for %d bytes per pixel", ErrInvalidBPP, bpp)
	}
}
