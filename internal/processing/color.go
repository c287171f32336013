package processing

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"agrolens-go/internal/types"
)

// Sampler reduces the centre of a frame to a coarse dominant colour.
// It is not safe for concurrent use; each session owns one.
type Sampler struct {
	size    int
	scratch *image.NRGBA
}

func NewSampler(size int) *Sampler {
	if size < 1 {
		size = 1
	}
	return &Sampler{size: size}
}

// SampleRegion returns the square centred on a w×h surface, clamped to it.
func SampleRegion(w, h, size int) image.Rectangle {
	x0 := max(0, w/2-size/2)
	y0 := max(0, h/2-size/2)
	r := image.Rect(x0, y0, x0+min(size, w), y0+min(size, h))
	return r.Intersect(image.Rect(0, 0, w, h))
}

// Sample never fails: an unready or unreadable frame yields the Unknown
// sentinel. The scratch surface is cleared before returning.
func (s *Sampler) Sample(frame types.Frame) types.ColorSample {
	if !frame.Ready || frame.Image == nil {
		return types.UnknownSample
	}
	bounds := frame.Image.Bounds()
	if bounds.Empty() {
		return types.UnknownSample
	}

	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		w, h = bounds.Dx(), bounds.Dy()
	}
	region := SampleRegion(w, h, s.size)
	if region.Empty() {
		return types.UnknownSample
	}

	scratch := s.surface(region.Dx(), region.Dy())
	defer clear(scratch.Pix)

	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Copy(scratch, image.Point{}, frame.Image, region.Add(bounds.Min), draw.Src, nil)
	} else {
		// The logical (display) size differs from the decoded frame, so map
		// the region back onto source pixels the way a canvas drawImage would.
		src := scaleRect(region, bounds, w, h)
		if src.Empty() {
			return types.UnknownSample
		}
		draw.ApproxBiLinear.Scale(scratch, scratch.Bounds(), frame.Image, src, draw.Src, nil)
	}

	r, g, b := meanRGB(scratch)
	return types.ColorSample{R: r, G: g, B: b, Dominant: ClassifyColor(r, g, b)}
}

// ClassifyColor buckets an average colour. Order matters: first match wins.
func ClassifyColor(r, g, b int) types.Dominant {
	switch {
	case r > g+40 && r > b+40:
		return types.Red
	case g > r+20 && g > b+20:
		return types.Green
	case r > 200 && g > 150 && b < 100:
		return types.Orange
	default:
		return types.Neutral
	}
}

func (s *Sampler) surface(w, h int) *image.NRGBA {
	if s.scratch == nil || s.scratch.Rect.Dx() != w || s.scratch.Rect.Dy() != h {
		s.scratch = image.NewNRGBA(image.Rect(0, 0, w, h))
	}
	return s.scratch
}

func scaleRect(region, bounds image.Rectangle, w, h int) image.Rectangle {
	sx := float64(bounds.Dx()) / float64(w)
	sy := float64(bounds.Dy()) / float64(h)
	r := image.Rect(
		int(math.Floor(float64(region.Min.X)*sx)),
		int(math.Floor(float64(region.Min.Y)*sy)),
		int(math.Ceil(float64(region.Max.X)*sx)),
		int(math.Ceil(float64(region.Max.Y)*sy)),
	)
	return r.Add(bounds.Min).Intersect(bounds)
}

func meanRGB(img *image.NRGBA) (int, int, int) {
	var r, g, b uint64
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			r += uint64(row[i])
			g += uint64(row[i+1])
			b += uint64(row[i+2])
		}
	}
	count := float64(w * h)
	return roundHalfUp(float64(r) / count), roundHalfUp(float64(g) / count), roundHalfUp(float64(b) / count)
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
