package raster

import (
	"image"
	"image/color"
	"image/draw"
)

// CanvasPair is the base raster holding the rendered page and the annotation
// raster holding strokes. Both always share identical dimensions; resizing
// one resizes (and wipes) the other.
//
// Writes are partitioned: only the page rasterizer writes Base, only the
// Surface writes Annotation.
type CanvasPair struct {
	base       *image.RGBA
	annotation *image.RGBA
	synced     bool
}

// NewCanvasPair allocates a pair of the given size. The pair is not synced
// until the first completed render marks it so.
func NewCanvasPair(w, h int) *CanvasPair {
	cp := &CanvasPair{}
	cp.Resize(w, h)
	return cp
}

// Resize reallocates both rasters. Content is lost and the pair is marked
// out of sync until MarkSynced is called.
func (cp *CanvasPair) Resize(w, h int) {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	r := image.Rect(0, 0, w, h)
	cp.base = image.NewRGBA(r)
	cp.annotation = image.NewRGBA(r)
	cp.synced = false
}

// Replace installs a freshly rendered base raster and a matching cleared
// annotation raster in one step, leaving the pair synced.
func (cp *CanvasPair) Replace(base *image.RGBA) bool {
	if base == nil {
		return false
	}
	cp.base = base
	cp.annotation = image.NewRGBA(base.Bounds())
	cp.synced = true
	return true
}

// Restore installs a freshly rendered base raster and, when snapshot has the
// same dimensions, copies the snapshot's annotation over the cleared one.
// It reports whether the annotation survived.
func (cp *CanvasPair) Restore(base *image.RGBA, snapshot *CanvasPair) bool {
	if !cp.Replace(base) {
		return false
	}
	if snapshot == nil || snapshot.annotation == nil || snapshot.annotation.Bounds() != base.Bounds() {
		return false
	}
	copy(cp.annotation.Pix, snapshot.annotation.Pix)
	return true
}

// MarkSynced flags the pair as ready for input, provided both rasters really
// do have identical bounds.
func (cp *CanvasPair) MarkSynced() {
	cp.synced = cp.base != nil && cp.annotation != nil &&
		cp.base.Bounds() == cp.annotation.Bounds()
}

// Synced reports whether the annotation raster is dimension-locked to the
// base raster after a completed render.
func (cp *CanvasPair) Synced() bool {
	if cp == nil || !cp.synced {
		return false
	}
	return cp.base.Bounds() == cp.annotation.Bounds()
}

// Size returns the buffer dimensions shared by both rasters.
func (cp *CanvasPair) Size() (int, int) {
	if cp == nil || cp.base == nil {
		return 0, 0
	}
	b := cp.base.Bounds()
	return b.Dx(), b.Dy()
}

// Base returns the base raster. Callers must treat it as read-only.
func (cp *CanvasPair) Base() *image.RGBA {
	return cp.base
}

// Annotation returns the annotation raster. Callers must treat it as read-only.
func (cp *CanvasPair) Annotation() *image.RGBA {
	return cp.annotation
}

// Clone returns a deep copy, used to snapshot state before a print render.
func (cp *CanvasPair) Clone() *CanvasPair {
	if cp == nil {
		return nil
	}
	return &CanvasPair{
		base:       cloneRGBA(cp.base),
		annotation: cloneRGBA(cp.annotation),
		synced:     cp.synced,
	}
}

// NewBaseRaster allocates a raster of the given size pre-filled with an
// opaque background.
func NewBaseRaster(w, h int, bg color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return img
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
