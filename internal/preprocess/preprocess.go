/**
 * Screenshot Preprocessing
 *
 * Decodes an uploaded screenshot, scales it down to a working width and
 * produces the two renditions the rest of the worker needs: a grayscale PNG
 * for OCR and region detection, and a compressed JPEG for the prompt.
 */

package preprocess

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// Options controls Prepare
type Options struct {
	// MaxWidth scales wider images down, keeping the aspect ratio. Zero
	// keeps the original size.
	MaxWidth int
	// JPEGQuality is used for the compressed rendition (1-100).
	JPEGQuality int
	// MaxBytes rejects larger inputs before decoding. Zero disables the check.
	MaxBytes int64
}

// DefaultOptions returns the settings used by the worker
func DefaultOptions() Options {
	return Options{
		MaxWidth:    800,
		JPEGQuality: 80,
	}
}

// Image is a prepared screenshot
type Image struct {
	// Format is the decoder name reported by image.Decode ("png", "jpeg", ...).
	Format string

	OriginalWidth  int
	OriginalHeight int
	Width          int
	Height         int

	// Gray is the scaled grayscale image.
	Gray *image.Gray
	// PNG is Gray encoded as PNG, ready for the OCR engine.
	PNG []byte
	// CompressedBase64 is the scaled colour image as base64 JPEG.
	CompressedBase64 string
}

// Prepare decodes data and builds the OCR and prompt renditions
func Prepare(data []byte, opts Options) (*Image, error) {
	if len(data) == 0 {
		return nil, errors.NewImageDecodeError(fmt.Errorf("empty image data"))
	}
	if opts.MaxBytes > 0 && int64(len(data)) > opts.MaxBytes {
		return nil, errors.NewImageDecodeError(fmt.Errorf("image is %d bytes, limit is %d", len(data), opts.MaxBytes))
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultOptions().JPEGQuality
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if err == image.ErrFormat {
			return nil, errors.NewUnsupportedFormatError("", DetectFormat(data))
		}
		return nil, errors.NewImageDecodeError(err)
	}

	b := src.Bounds()
	if b.Empty() {
		return nil, errors.NewImageDecodeError(fmt.Errorf("image has no pixels"))
	}

	scaled := Scale(src, opts.MaxWidth)
	gray := ToGray(scaled)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, gray); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	var jpgBuf bytes.Buffer
	if err := jpeg.Encode(&jpgBuf, flatten(scaled), &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	sb := scaled.Bounds()
	return &Image{
		Format:           format,
		OriginalWidth:    b.Dx(),
		OriginalHeight:   b.Dy(),
		Width:            sb.Dx(),
		Height:           sb.Dy(),
		Gray:             gray,
		PNG:              pngBuf.Bytes(),
		CompressedBase64: base64.StdEncoding.EncodeToString(jpgBuf.Bytes()),
	}, nil
}

// Scale returns img scaled to maxWidth with the same aspect ratio. Images
// already narrow enough, or a maxWidth of zero, are returned unchanged.
func Scale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}

	targetH := b.Dy() * maxWidth / b.Dx()
	if targetH < 1 {
		targetH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, targetH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// ToGray converts img to 8-bit grayscale with its origin at (0, 0)
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// flatten composites transparent screenshots over white so JPEG does not
// turn clear pixels black.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// DetectFormat names the image format from its magic bytes, or "unknown"
func DetectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "gif"
	case bytes.HasPrefix(data, []byte("BM")):
		return "bmp"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "tiff"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "webp"
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "pdf"
	default:
		return "unknown"
	}
}
