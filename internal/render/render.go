// Package render draws keypoints, correspondences and estimated model
// outlines for visual inspection of a match.
package render

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	// Extra decoders for imaging.Open.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"kpmatch/internal/keypoint"
	"kpmatch/internal/matching"
	"kpmatch/pkg/colorutil"
	"kpmatch/pkg/geometry"
)

// Options configures how a scene is rendered.
type Options struct {
	Background    color.RGBA
	KeypointColor color.RGBA
	InlierColor   color.RGBA
	OutlierColor  color.RGBA
	UnmarkedColor color.RGBA
	BoxColor      color.RGBA
	HullColor     color.RGBA

	LineWidth     int
	MinRadius     int  // keypoints with a smaller scale are drawn this size
	DrawKeypoints bool // circles and orientation ticks on both sides
	DrawOutliers  bool
	DrawHull      bool // convex hull of inlier query points
}

// DefaultOptions returns default rendering options.
func DefaultOptions() Options {
	return Options{
		Background:    colorutil.Black,
		KeypointColor: colorutil.Yellow,
		InlierColor:   colorutil.Green,
		OutlierColor:  colorutil.Red,
		UnmarkedColor: colorutil.Gray,
		BoxColor:      colorutil.Cyan,
		HullColor:     colorutil.Magenta,
		LineWidth:     1,
		MinRadius:     2,
		DrawKeypoints: true,
		DrawOutliers:  true,
	}
}

// Scene is one query/model pair. Images are optional; missing ones are
// replaced by a blank canvas the size of the keypoint set.
type Scene struct {
	Query    image.Image
	Model    image.Image
	QuerySet *keypoint.Set
	ModelSet *keypoint.Set
	Matches  []matching.Match
	// Transform maps model space to query space; nil skips the box overlay.
	Transform *geometry.AffineTransform
}

// Overlay composes the query (left) and model (right) side by side and draws
// the scene on top.
func Overlay(s Scene, opts Options) *image.NRGBA {
	qb := frame(s.Query, s.QuerySet)
	mb := frame(s.Model, s.ModelSet)

	canvas := imaging.New(qb.Dx()+mb.Dx(), max(qb.Dy(), mb.Dy()), opts.Background)
	if s.Query != nil {
		canvas = imaging.Paste(canvas, s.Query, image.Point{})
	}
	offset := image.Point{X: qb.Dx()}
	if s.Model != nil {
		canvas = imaging.Paste(canvas, s.Model, offset)
	}

	if opts.DrawKeypoints {
		DrawKeypoints(canvas, s.QuerySet, image.Point{}, opts.KeypointColor, opts.MinRadius)
		DrawKeypoints(canvas, s.ModelSet, offset, opts.KeypointColor, opts.MinRadius)
	}

	var inliers []geometry.Point2D
	for _, m := range s.Matches {
		c := opts.UnmarkedColor
		switch m.Mark {
		case matching.Inlier:
			c = opts.InlierColor
			inliers = append(inliers, m.Query)
		case matching.Outlier:
			if !opts.DrawOutliers {
				continue
			}
			c = opts.OutlierColor
		}
		drawThickLine(canvas, m.Query.X, m.Query.Y,
			m.Model.X+float64(offset.X), m.Model.Y+float64(offset.Y), opts.LineWidth, c)
	}

	if s.ModelSet != nil && s.ModelSet.Width > 0 && s.ModelSet.Height > 0 {
		box := s.ModelSet.Box()
		corners := box.Corners()
		drawPolygon(canvas, shift(corners[:], offset), opts.LineWidth, opts.BoxColor)
		if s.Transform != nil {
			DrawBox(canvas, box, *s.Transform, opts.LineWidth, opts.BoxColor)
		}
	}

	if opts.DrawHull && len(inliers) >= 3 {
		drawPolygon(canvas, geometry.ConvexHull(inliers), opts.LineWidth, opts.HullColor)
	}
	return canvas
}

// DrawKeypoints draws every keypoint of set as a circle of radius Scale with
// a tick toward its orientation.
func DrawKeypoints(img *image.NRGBA, set *keypoint.Set, offset image.Point, c color.RGBA, minRadius int) {
	if set == nil {
		return
	}
	for _, k := range set.All() {
		r := max(k.Scale, minRadius)
		cx, cy := k.X+float64(offset.X), k.Y+float64(offset.Y)
		drawCircle(img, round(cx), round(cy), r, c)

		rad := float64(k.Angle) * math.Pi / 180
		drawLine(img, round(cx), round(cy),
			round(cx+float64(r)*math.Cos(rad)), round(cy+float64(r)*math.Sin(rad)), c)
	}
}

// DrawBox draws the model box mapped into query space by t.
func DrawBox(img *image.NRGBA, box geometry.Rect, t geometry.AffineTransform, width int, c color.RGBA) {
	corners := box.Corners()
	pts := make([]geometry.Point2D, len(corners))
	for i, p := range corners {
		pts[i] = t.Apply(p)
	}
	drawPolygon(img, pts, width, c)
}

// Palette returns one color per model ID, in ID order.
func Palette(ids []int) map[int]color.RGBA {
	colors := colorutil.Palette(len(ids))
	out := make(map[int]color.RGBA, len(ids))
	for i, id := range ids {
		out[id] = colors[i]
	}
	return out
}

// Warp resamples model into query space through t, on a canvas of the
// given size. Pixels outside the model stay transparent.
func Warp(model image.Image, t geometry.AffineTransform, size image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(size)
	aff := f64.Aff3{t.A, t.B, t.TX, t.C, t.D, t.TY}
	xdraw.BiLinear.Transform(dst, aff, model, model.Bounds(), xdraw.Over, nil)
	return dst
}

// Blend overlays the warped model on the query with the given opacity.
func Blend(query, model image.Image, t geometry.AffineTransform, opacity float64) *image.NRGBA {
	warped := Warp(model, t, query.Bounds())
	return imaging.Overlay(query, warped, image.Point{}, opacity)
}

// Load decodes an image file, including TIFF and BMP.
func Load(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}

// Save encodes img in the format named by the file extension.
func Save(img image.Image, path string) error {
	return imaging.Save(img, path)
}

func drawPolygon(img *image.NRGBA, pts []geometry.Point2D, width int, c color.RGBA) {
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		drawThickLine(img, a.X, a.Y, b.X, b.Y, width, c)
	}
}

func shift(pts []geometry.Point2D, offset image.Point) []geometry.Point2D {
	d := geometry.Point2D{X: float64(offset.X), Y: float64(offset.Y)}
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = p.Add(d)
	}
	return out
}

// frame returns the drawing area of one side of the overlay.
func frame(img image.Image, set *keypoint.Set) image.Rectangle {
	if img != nil {
		b := img.Bounds()
		return image.Rect(0, 0, b.Dx(), b.Dy())
	}
	if set == nil {
		return image.Rect(0, 0, 1, 1)
	}
	w, h := set.Width, set.Height
	if w <= 0 || h <= 0 {
		// No picture size recorded: fit the keypoints.
		for _, k := range set.All() {
			w = max(w, int(math.Ceil(k.X))+k.Scale+1)
			h = max(h, int(math.Ceil(k.Y))+k.Scale+1)
		}
	}
	return image.Rect(0, 0, max(w, 1), max(h, 1))
}
