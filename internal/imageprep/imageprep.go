// Package imageprep turns encoded photos into the fixed-size RGB raster the
// feature extractors operate on.
package imageprep

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Size is the side length of the canonical square raster.
const Size = 128

const cropFraction = 0.75

// Kernel selects the interpolation used for the final resize.
type Kernel string

const (
	KernelBilinear   Kernel = "bilinear"
	KernelCatmullRom Kernel = "catmullrom"
	KernelLanczos3   Kernel = "lanczos3"
)

// ParseKernel validates a kernel name.
func ParseKernel(name string) (Kernel, error) {
	switch k := Kernel(strings.ToLower(strings.TrimSpace(name))); k {
	case KernelBilinear, KernelCatmullRom, KernelLanczos3:
		return k, nil
	case "":
		return KernelBilinear, nil
	default:
		return "", fmt.Errorf("unsupported resize kernel %q", name)
	}
}

// DecodePayload strips an optional data URL header and base64-decodes the rest.
func DecodePayload(payload string) ([]byte, error) {
	encoded := strings.TrimSpace(payload)
	if strings.HasPrefix(encoded, "data:") {
		_, rest, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, &DecodeError{Reason: "malformed data URL"}
		}
		encoded = rest
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 payload", Err: err}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty image payload"}
	}
	return data, nil
}

// Decode parses JPEG, PNG, GIF, BMP, TIFF or WebP bytes. EXIF orientation is
// not applied.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty image payload"}
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "unsupported or corrupt image", Err: err}
	}
	return img, nil
}

// CropRect returns the centered square kept from a width x height image:
// the side is floor(0.75 * min(width, height)) and the origin uses integer
// division, so equal dimensions always produce equal rectangles.
func CropRect(width, height int) image.Rectangle {
	minDim := height
	if width < minDim {
		minDim = width
	}
	size := int(float64(minDim) * cropFraction)
	startY := (height - size) / 2
	startX := (width - size) / 2
	return image.Rect(startX, startY, startX+size, startY+size)
}

// CenterCrop keeps the centered square of img and flattens it to opaque RGB.
func CenterCrop(img image.Image) (*image.RGBA, error) {
	bounds := img.Bounds()
	rect := CropRect(bounds.Dx(), bounds.Dy())
	if rect.Empty() {
		return nil, &DecodeError{Reason: fmt.Sprintf("image %dx%d is too small to crop", bounds.Dx(), bounds.Dy())}
	}
	return opaque(imaging.Crop(img, rect.Add(bounds.Min))), nil
}

// Resize scales img to Size x Size.
func Resize(img *image.RGBA, kernel Kernel) *image.RGBA {
	bounds := img.Bounds()
	if bounds.Dx() == Size && bounds.Dy() == Size && bounds.Min == (image.Point{}) {
		return img
	}

	switch kernel {
	case KernelLanczos3:
		return opaque(resize.Resize(Size, Size, img, resize.Lanczos3))
	case KernelCatmullRom:
		dst := image.NewRGBA(image.Rect(0, 0, Size, Size))
		draw.CatmullRom.Scale(dst, dst.Rect, img, bounds, draw.Src, nil)
		return dst
	default:
		dst := image.NewRGBA(image.Rect(0, 0, Size, Size))
		draw.BiLinear.Scale(dst, dst.Rect, img, bounds, draw.Src, nil)
		return dst
	}
}

// Normalize applies the center crop followed by the fixed resize.
func Normalize(img image.Image, kernel Kernel) (*image.RGBA, error) {
	cropped, err := CenterCrop(img)
	if err != nil {
		return nil, err
	}
	return Resize(cropped, kernel), nil
}

// Prepare decodes data and normalizes it to the canonical raster.
func Prepare(data []byte, kernel Kernel) (*image.RGBA, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Normalize(img, kernel)
}

// opaque copies the color channels of img into a zero-origin RGBA raster with
// alpha forced to 255. Straight (non-premultiplied) values are kept, so a
// transparent pixel keeps its stored color.
func opaque(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < bounds.Dy(); y++ {
			srcRow := src.Pix[(y+bounds.Min.Y-src.Rect.Min.Y)*src.Stride+(bounds.Min.X-src.Rect.Min.X)*4:]
			dstRow := dst.Pix[y*dst.Stride:]
			for x := 0; x < bounds.Dx(); x++ {
				i := x * 4
				dstRow[i] = srcRow[i]
				dstRow[i+1] = srcRow[i+1]
				dstRow[i+2] = srcRow[i+2]
				dstRow[i+3] = 0xff
			}
		}
		return dst
	}

	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}
