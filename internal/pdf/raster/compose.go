package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// pngEncoder is shared so that identical rasters always encode to identical
// bytes.
var pngEncoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// Compose merges two rasters into a new one, bottom first. The top layer is
// painted with Over: its opaque pixels replace whatever they cover, while
// the partially transparent pixels along anti-aliased stroke edges blend
// with the bottom layer. Order matters: Compose(base, annotation) is the
// preview.
func Compose(bottom, top image.Image) *image.RGBA {
	r := bottom.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), bottom, r.Min, draw.Src)
	if top != nil {
		draw.Draw(out, out.Bounds(), top, top.Bounds().Min, draw.Over)
	}
	return out
}

// ComposePair composes the base and annotation rasters of a pair.
func ComposePair(cp *CanvasPair) (*image.RGBA, error) {
	if cp == nil || cp.base == nil {
		return nil, fmt.Errorf("no raster to compose")
	}
	if cp.base.Bounds() != cp.annotation.Bounds() {
		return nil, fmt.Errorf("raster size mismatch: base %v, annotation %v",
			cp.base.Bounds(), cp.annotation.Bounds())
	}
	return Compose(cp.base, cp.annotation), nil
}

// ScaleTo resamples src to w x h pixels. Used to carry an annotation drawn
// at screen resolution onto a raster rendered at a different scale.
func ScaleTo(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if src == nil || src.Bounds().Empty() || w < 1 || h < 1 {
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// EncodePNG encodes img with the package's fixed encoder settings.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG decodes PNG bytes into an image.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	return img, nil
}

// IsBlank reports whether every pixel of img is fully transparent.
func IsBlank(img *image.RGBA) bool {
	if img == nil {
		return true
	}
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}
