// Package compositor renders a decoded image into the output frame surface at a
// given opacity, over an opaque black background.
package compositor

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Fit returns the destination rectangle for an imgW x imgH raster on an
// outW x outH canvas. The image fills one canvas axis and is centered on the
// other; offsets can be negative, in which case the overflow is clipped.
func Fit(imgW, imgH, outW, outH int) image.Rectangle {
	if imgW <= 0 || imgH <= 0 || outW <= 0 || outH <= 0 {
		return image.Rectangle{}
	}

	imageAspect := float64(imgW) / float64(imgH)
	canvasAspect := float64(outW) / float64(outH)

	var w, h, x, y int
	if imageAspect > canvasAspect {
		h = outH
		w = int(math.Round(float64(h) * imageAspect))
		x = (outW - w) / 2
	} else {
		w = outW
		h = int(math.Round(float64(w) / imageAspect))
		y = (outH - h) / 2
	}

	return image.Rect(x, y, x+w, y+h)
}

// Opacity returns the alpha of local frame f within an image shown for
// totalFrames frames. A fade with zero frames is skipped.
func Opacity(f, totalFrames int, fadeIn, fadeOut float64) float64 {
	if totalFrames <= 0 {
		return 1
	}

	fadeInFrames := int(math.Floor(float64(totalFrames) * fadeIn))
	fadeOutFrames := int(math.Floor(float64(totalFrames) * fadeOut))

	var o float64
	switch {
	case fadeInFrames > 0 && f < fadeInFrames:
		o = float64(f) / float64(fadeInFrames)
	case fadeOutFrames > 0 && f > totalFrames-fadeOutFrames:
		o = float64(totalFrames-f) / float64(fadeOutFrames)
	default:
		o = 1
	}

	return math.Max(0, math.Min(1, o))
}

// Layer is a source image already scaled and positioned for one surface size.
// Transparent pixels outside the fitted rectangle let the background show.
type Layer struct {
	img *image.RGBA
}

// Compositor draws layers onto frame surfaces.
type Compositor struct {
	width  int
	height int
	scaler draw.Scaler
}

// New creates a Compositor for outW x outH surfaces.
func New(outW, outH int) *Compositor {
	return &Compositor{
		width:  outW,
		height: outH,
		scaler: draw.ApproxBiLinear,
	}
}

// NewSurface allocates an RGBA surface matching the compositor size.
func (c *Compositor) NewSurface() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, c.width, c.height))
}

// Prepare scales src once so every frame of the image reuses it.
func (c *Compositor) Prepare(src image.Image) *Layer {
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	b := src.Bounds()
	dr := Fit(b.Dx(), b.Dy(), c.width, c.height)
	if !dr.Empty() {
		c.scaler.Scale(dst, dr, src, b, draw.Src, nil)
	}
	return &Layer{img: dst}
}

// Render clears surface to opaque black and draws layer at opacity in [0,1].
func (c *Compositor) Render(surface *image.RGBA, layer *Layer, opacity float64) {
	bounds := surface.Bounds()
	draw.Draw(surface, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)

	if layer == nil || opacity <= 0 {
		return
	}

	if opacity >= 1 {
		draw.Draw(surface, bounds, layer.img, image.Point{}, draw.Over)
		return
	}

	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(surface, bounds, layer.img, image.Point{}, mask, image.Point{}, draw.Over)
}

// RenderImage prepares and renders src in one call.
func (c *Compositor) RenderImage(surface *image.RGBA, src image.Image, opacity float64) {
	c.Render(surface, c.Prepare(src), opacity)
}
