// Package render produces the evidence PNGs the answerer sees: page
// overviews, overlapping quadrants for large pages, and zoomed ROI crops.
// Renders are memoised through the render cache keyed by source identity
// and version.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"golang.org/x/image/draw"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/rendercache"
	"github.com/haasonsaas/docsight/pkg/models"
)

// ErrEmptyRegion is returned when a requested bbox has no area left after
// clamping into the unit square.
var ErrEmptyRegion = errors.New("bbox has no area after clamping")

// ROI dpi bounds. Requests outside the range are clamped, zero selects the
// default.
const (
	MinROIDPI     = 72
	MaxROIDPI     = 400
	DefaultROIDPI = 300
)

// Quadrant windows overlap by 10% so content on the seam is never lost.
var quadrantWindows = []models.BBox{
	{0, 0, 0.55, 0.55},
	{0.45, 0, 1, 0.55},
	{0, 0.45, 0.55, 1},
	{0.45, 0.45, 1, 1},
}

// Rasterizer turns one page of a PDF into pixels.
type Rasterizer interface {
	RasterizePage(pdf []byte, page, dpi int) (image.Image, error)
}

// RenderedImage is one produced evidence image.
type RenderedImage struct {
	Kind        models.RenderKind
	PNG         []byte
	Width       int
	Height      int
	ScaleFactor float64
	BBoxNorm    *models.BBox
}

// Renderer renders PDF crops through the cache.
type Renderer struct {
	raster  Rasterizer
	cache   *rendercache.Cache
	cfg     config.RenderingConfig
	log     *observability.Logger
	metrics *observability.Metrics
}

// New builds a renderer. cache may be nil to render uncached.
func New(raster Rasterizer, cache *rendercache.Cache, cfg config.RenderingConfig, log *observability.Logger, metrics *observability.Metrics) *Renderer {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Renderer{raster: raster, cache: cache, cfg: cfg, log: log, metrics: metrics}
}

// Version derives a content version for sources without an ETag or
// last-modified stamp.
func Version(pdf []byte) string {
	sum := sha256.Sum256(pdf)
	return hex.EncodeToString(sum[:])[:16]
}

// ClampDPI bounds a requested ROI dpi; zero or negative selects the default.
func ClampDPI(dpi int) int {
	switch {
	case dpi <= 0:
		return DefaultROIDPI
	case dpi < MinROIDPI:
		return MinROIDPI
	case dpi > MaxROIDPI:
		return MaxROIDPI
	default:
		return dpi
	}
}

// BuildPreviewAndQuadrants renders the page overview bounded by
// preview_max_side and, when the page had to be shrunk by more than the
// quadrant threshold, four overlapping quadrant crops at full detail.
func (r *Renderer) BuildPreviewAndQuadrants(pdf []byte, sourceID, sourceVersion string, page, dpi int) ([]RenderedImage, error) {
	start := time.Now()
	if sourceVersion == "" {
		sourceVersion = Version(pdf)
	}

	base, err := r.renderPage(pdf, sourceID, sourceVersion, page, dpi)
	if err != nil {
		r.observe("overview", start, err)
		return nil, err
	}

	preview, scale := scaleToMaxSide(base, r.cfg.PreviewMaxSide)
	previewPNG, err := encodePNG(preview)
	if err != nil {
		r.observe("overview", start, err)
		return nil, err
	}
	pb := preview.Bounds()
	out := []RenderedImage{{
		Kind:        models.RenderOverview,
		PNG:         previewPNG,
		Width:       pb.Dx(),
		Height:      pb.Dy(),
		ScaleFactor: scale,
	}}
	r.observe("overview", start, nil)

	if scale > r.cfg.AutoQuadrantsThreshold {
		for _, window := range quadrantWindows {
			qStart := time.Now()
			crop, cerr := cropNorm(base, window)
			if cerr != nil {
				r.observe("quadrant", qStart, cerr)
				continue
			}
			scaled, cropScale := scaleToMaxSide(crop, r.cfg.ZoomPreviewMaxSide)
			cropPNG, perr := encodePNG(scaled)
			if perr != nil {
				r.observe("quadrant", qStart, perr)
				continue
			}
			cb := scaled.Bounds()
			bbox := window
			out = append(out, RenderedImage{
				Kind:        models.RenderQuadrant,
				PNG:         cropPNG,
				Width:       cb.Dx(),
				Height:      cb.Dy(),
				ScaleFactor: cropScale,
				BBoxNorm:    &bbox,
			})
			r.observe("quadrant", qStart, nil)
		}
	}
	return out, nil
}

// BuildROI renders a zoomed crop at the requested dpi. Crop PDFs are
// single-page extracts, so callers pass page 0 regardless of the page the
// block sits on in the original document.
func (r *Renderer) BuildROI(pdf []byte, sourceID, sourceVersion string, bbox models.BBox, page, dpi int) (RenderedImage, error) {
	start := time.Now()
	dpi = ClampDPI(dpi)
	if sourceVersion == "" {
		sourceVersion = Version(pdf)
	}

	if cached, ok := r.cache.Get(sourceID, sourceVersion, page, dpi, &bbox); ok {
		if img, derr := png.Decode(bytes.NewReader(cached)); derr == nil {
			b := img.Bounds()
			box := bbox
			r.observe("roi", start, nil)
			return RenderedImage{
				Kind:        models.RenderROI,
				PNG:         cached,
				Width:       b.Dx(),
				Height:      b.Dy(),
				ScaleFactor: 1.0,
				BBoxNorm:    &box,
			}, nil
		}
	}

	base, err := r.renderPage(pdf, sourceID, sourceVersion, page, dpi)
	if err != nil {
		r.observe("roi", start, err)
		return RenderedImage{}, err
	}
	crop, err := cropNorm(base, bbox)
	if err != nil {
		r.observe("roi", start, err)
		return RenderedImage{}, err
	}
	scaled, cropScale := scaleToMaxSide(crop, r.cfg.ZoomPreviewMaxSide)
	cropPNG, err := encodePNG(scaled)
	if err != nil {
		r.observe("roi", start, err)
		return RenderedImage{}, err
	}
	r.cache.Put(sourceID, sourceVersion, page, dpi, cropPNG, &bbox)

	cb := scaled.Bounds()
	box := bbox
	r.observe("roi", start, nil)
	return RenderedImage{
		Kind:        models.RenderROI,
		PNG:         cropPNG,
		Width:       cb.Dx(),
		Height:      cb.Dy(),
		ScaleFactor: cropScale,
		BBoxNorm:    &box,
	}, nil
}

// renderPage rasterizes one full page, memoised through the cache without a
// bbox fragment.
func (r *Renderer) renderPage(pdf []byte, sourceID, sourceVersion string, page, dpi int) (image.Image, error) {
	if cached, ok := r.cache.Get(sourceID, sourceVersion, page, dpi, nil); ok {
		img, err := png.Decode(bytes.NewReader(cached))
		if err == nil {
			return img, nil
		}
		r.log.Warn(context.Background(), "cached page render undecodable, re-rendering", "source_id", sourceID, "error", err)
	}

	img, err := r.raster.RasterizePage(pdf, page, dpi)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s page %d: %w", sourceID, page, err)
	}
	if encoded, eerr := encodePNG(img); eerr == nil {
		r.cache.Put(sourceID, sourceVersion, page, dpi, encoded, nil)
	}
	return img, nil
}

// scaleToMaxSide shrinks img so its longest side fits maxSide. The returned
// factor says how much detail the overview lost; 1.0 means untouched.
func scaleToMaxSide(img image.Image, maxSide int) (image.Image, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := w
	if h > maxDim {
		maxDim = h
	}
	if maxSide <= 0 || maxDim <= maxSide {
		return img, 1.0
	}
	scale := float64(maxDim) / float64(maxSide)
	newW := int(float64(w) / scale)
	if newW < 1 {
		newW = 1
	}
	newH := int(float64(h) / scale)
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, scale
}

// cropNorm cuts the normalised box out of img. Coordinates are clamped into
// the unit square first; a box with no remaining area is an error.
func cropNorm(img image.Image, bbox models.BBox) (image.Image, error) {
	clamped := bbox.Clamp()
	if !clamped.Valid() {
		return nil, ErrEmptyRegion
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	left := int(clamped[0] * float64(w))
	top := int(clamped[1] * float64(h))
	right := int(clamped[2] * float64(w))
	bottom := int(clamped[3] * float64(h))
	if right <= left || bottom <= top {
		return nil, ErrEmptyRegion
	}
	dst := image.NewRGBA(image.Rect(0, 0, right-left, bottom-top))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(b.Min.X+left, b.Min.Y+top), draw.Src)
	return dst, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) observe(kind string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.RenderCounter.WithLabelValues(kind, status).Inc()
	if err == nil {
		r.metrics.RenderDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
