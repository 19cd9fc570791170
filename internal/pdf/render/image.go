package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// maxImagePixels bounds the decoded size of a single image XObject.
const maxImagePixels = 64 << 20

// colorSpace describes how image samples map to RGB.
type colorSpace struct {
	components int
	// palette is set for Indexed spaces: RGB triples per index.
	palette []color.NRGBA
}

// decodeImage converts an image XObject into an NRGBA raster. Stencil
// masks are returned with fill painted through the mask.
func (d *Document) decodeImage(sd *types.StreamDict, fill color.RGBA) (*image.NRGBA, error) {
	w, okW := d.number(sd.Dict["Width"])
	h, okH := d.number(sd.Dict["Height"])
	if !okW || !okH || w < 1 || h < 1 {
		return nil, fmt.Errorf("image has invalid dimensions")
	}
	width, height := int(w), int(h)
	if width*height > maxImagePixels {
		return nil, fmt.Errorf("image %dx%d too large", width, height)
	}

	if isTrue(d, sd.Dict["ImageMask"]) {
		return d.decodeStencil(sd, width, height, fill)
	}

	var img *image.NRGBA
	if lastFilter(sd) == "DCTDecode" {
		decoded, err := jpeg.Decode(bytes.NewReader(sd.Raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode JPEG image: %w", err)
		}
		img = toNRGBA(decoded)
	} else {
		data, err := decodeStream(sd)
		if err != nil {
			return nil, err
		}
		bpc := 8
		if v, ok := d.number(sd.Dict["BitsPerComponent"]); ok {
			bpc = int(v)
		}
		cs, err := d.colorSpace(sd.Dict["ColorSpace"])
		if err != nil {
			return nil, err
		}
		img, err = samplesToNRGBA(data, width, height, bpc, cs)
		if err != nil {
			return nil, err
		}
	}

	if smaskObj, found := sd.Dict.Find("SMask"); found {
		if smask, ok := d.streamDict(smaskObj); ok {
			if err := d.applySoftMask(img, smask); err != nil {
				return nil, err
			}
		}
	}

	return img, nil
}

func (d *Document) decodeStencil(sd *types.StreamDict, width, height int, fill color.RGBA) (*image.NRGBA, error) {
	data, err := decodeStream(sd)
	if err != nil {
		return nil, err
	}

	// Default decode array [0 1]: a 0 sample paints.
	paintBit := 0
	if arr, ok := sd.Dict["Decode"].(types.Array); ok && len(arr) == 2 {
		if v, ok := d.number(arr[0]); ok && v == 1 {
			paintBit = 1
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	stride := (width + 7) / 8
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*stride + x/8
			if i >= len(data) {
				return img, nil
			}
			bit := int(data[i]>>(7-uint(x%8))) & 1
			if bit == paintBit {
				img.SetNRGBA(x, y, color.NRGBA{fill.R, fill.G, fill.B, 0xff})
			}
		}
	}
	return img, nil
}

func (d *Document) applySoftMask(img *image.NRGBA, smask *types.StreamDict) error {
	mw, okW := d.number(smask.Dict["Width"])
	mh, okH := d.number(smask.Dict["Height"])
	if !okW || !okH {
		return fmt.Errorf("soft mask has invalid dimensions")
	}
	data, err := decodeStream(smask)
	if err != nil {
		return fmt.Errorf("soft mask: %w", err)
	}
	bpc := 8
	if v, ok := d.number(smask.Dict["BitsPerComponent"]); ok {
		bpc = int(v)
	}
	alpha, err := samplesToNRGBA(data, int(mw), int(mh), bpc, colorSpace{components: 1})
	if err != nil {
		return fmt.Errorf("soft mask: %w", err)
	}

	b := img.Bounds()
	ab := alpha.Bounds()
	for y := 0; y < b.Dy(); y++ {
		my := y * ab.Dy() / b.Dy()
		for x := 0; x < b.Dx(); x++ {
			mx := x * ab.Dx() / b.Dx()
			off := img.PixOffset(x, y)
			img.Pix[off+3] = alpha.Pix[alpha.PixOffset(mx, my)]
		}
	}
	return nil
}

func (d *Document) colorSpace(obj types.Object) (colorSpace, error) {
	resolved, err := d.ctx.Dereference(obj)
	if err != nil {
		return colorSpace{}, err
	}

	switch cs := resolved.(type) {
	case nil:
		return colorSpace{components: 1}, nil
	case types.Name:
		return deviceSpace(string(cs))
	case types.Array:
		if len(cs) == 0 {
			return colorSpace{}, fmt.Errorf("empty color space array")
		}
		family := d.name(cs[0])
		switch family {
		case "ICCBased":
			if len(cs) < 2 {
				return colorSpace{}, fmt.Errorf("ICCBased color space without profile")
			}
			profile, ok := d.streamDict(cs[1])
			if !ok {
				return colorSpace{}, fmt.Errorf("ICCBased profile is not a stream")
			}
			n, ok := d.number(profile.Dict["N"])
			if !ok {
				return colorSpace{}, fmt.Errorf("ICCBased profile without N")
			}
			return colorSpace{components: int(n)}, nil
		case "Indexed", "I":
			return d.indexedSpace(cs)
		case "CalRGB":
			return colorSpace{components: 3}, nil
		case "CalGray":
			return colorSpace{components: 1}, nil
		default:
			return deviceSpace(family)
		}
	}
	return colorSpace{}, fmt.Errorf("unsupported color space %T", resolved)
}

func (d *Document) indexedSpace(cs types.Array) (colorSpace, error) {
	if len(cs) != 4 {
		return colorSpace{}, fmt.Errorf("malformed Indexed color space")
	}
	base, err := d.colorSpace(cs[1])
	if err != nil {
		return colorSpace{}, err
	}
	hival, ok := d.number(cs[2])
	if !ok {
		return colorSpace{}, fmt.Errorf("Indexed color space without hival")
	}

	var lookup []byte
	resolved, err := d.ctx.Dereference(cs[3])
	if err != nil {
		return colorSpace{}, err
	}
	switch l := resolved.(type) {
	case types.StringLiteral:
		b, err := types.Unescape(string(l))
		if err != nil {
			return colorSpace{}, err
		}
		lookup = b
	case types.HexLiteral:
		b, err := l.Bytes()
		if err != nil {
			return colorSpace{}, err
		}
		lookup = b
	default:
		sd, ok := d.streamDict(resolved)
		if !ok {
			return colorSpace{}, fmt.Errorf("unsupported Indexed lookup %T", resolved)
		}
		if lookup, err = decodeStream(sd); err != nil {
			return colorSpace{}, err
		}
	}

	palette := make([]color.NRGBA, int(hival)+1)
	for i := range palette {
		off := i * base.components
		if off+base.components > len(lookup) {
			break
		}
		palette[i] = sampleColor(lookup[off:off+base.components], base.components)
	}
	return colorSpace{components: 1, palette: palette}, nil
}

func deviceSpace(name string) (colorSpace, error) {
	switch name {
	case "DeviceGray", "G", "CalGray":
		return colorSpace{components: 1}, nil
	case "DeviceRGB", "RGB", "CalRGB":
		return colorSpace{components: 3}, nil
	case "DeviceCMYK", "CMYK":
		return colorSpace{components: 4}, nil
	}
	return colorSpace{}, fmt.Errorf("unsupported color space %s", name)
}

// samplesToNRGBA unpacks raw samples of 1, 2, 4, 8 or 16 bits per
// component.
func samplesToNRGBA(data []byte, width, height, bpc int, cs colorSpace) (*image.NRGBA, error) {
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}
	if cs.components < 1 || cs.components > 4 {
		return nil, fmt.Errorf("unsupported component count %d", cs.components)
	}

	stride := (width*cs.components*bpc + 7) / 8
	if len(data) < stride*height {
		return nil, fmt.Errorf("image data too short: %d < %d", len(data), stride*height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	maxVal := (1 << uint(min(bpc, 8))) - 1
	sample := make([]byte, cs.components)

	for y := 0; y < height; y++ {
		row := data[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			for c := 0; c < cs.components; c++ {
				v := readSample(row, x*cs.components+c, bpc)
				if cs.palette == nil && maxVal != 255 {
					v = v * 255 / maxVal
				}
				sample[c] = byte(v)
			}
			if cs.palette != nil {
				idx := int(sample[0])
				if idx < len(cs.palette) {
					img.SetNRGBA(x, y, cs.palette[idx])
				}
				continue
			}
			img.SetNRGBA(x, y, sampleColor(sample, cs.components))
		}
	}
	return img, nil
}

func readSample(row []byte, index, bpc int) int {
	switch bpc {
	case 8:
		return int(row[index])
	case 16:
		return int(row[index*2])
	}
	bit := index * bpc
	b := row[bit/8]
	shift := 8 - bpc - bit%8
	return int(b>>uint(shift)) & (1<<uint(bpc) - 1)
}

func sampleColor(s []byte, components int) color.NRGBA {
	switch components {
	case 1:
		return color.NRGBA{s[0], s[0], s[0], 0xff}
	case 3:
		return color.NRGBA{s[0], s[1], s[2], 0xff}
	case 4:
		r, g, b := cmykToRGB(float64(s[0])/255, float64(s[1])/255, float64(s[2])/255, float64(s[3])/255)
		return color.NRGBA{r, g, b, 0xff}
	}
	return color.NRGBA{A: 0xff}
}

func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, src.At(x, y))
		}
	}
	return dst
}

func lastFilter(sd *types.StreamDict) string {
	if n := len(sd.FilterPipeline); n > 0 {
		return sd.FilterPipeline[n-1].Name
	}
	return ""
}

func isTrue(d *Document, obj types.Object) bool {
	resolved, err := d.ctx.Dereference(obj)
	if err != nil {
		return false
	}
	b, ok := resolved.(types.Boolean)
	return ok && bool(b)
}
