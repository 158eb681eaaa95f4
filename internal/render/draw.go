package render

import (
	"image"
	"image/color"
	"math"
)

// fillCircle fills a circle with the given color.
func fillCircle(img *image.NRGBA, cx, cy, r int, c color.RGBA) {
	bounds := img.Bounds()

	for y := max(cy-r, bounds.Min.Y); y <= cy+r && y < bounds.Max.Y; y++ {
		for x := max(cx-r, bounds.Min.X); x <= cx+r && x < bounds.Max.X; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, c)
			}
		}
	}
}

// drawCircle draws a circle outline using Bresenham's algorithm.
func drawCircle(img *image.NRGBA, cx, cy, r int, c color.RGBA) {
	set := func(x, y int) {
		if (image.Point{X: x, Y: y}).In(img.Bounds()) {
			img.Set(x, y, c)
		}
	}

	x, y, err := r, 0, 0
	for x >= y {
		set(cx+x, cy+y)
		set(cx+y, cy+x)
		set(cx-y, cy+x)
		set(cx-x, cy+y)
		set(cx-x, cy-y)
		set(cx-y, cy-x)
		set(cx+y, cy-x)
		set(cx+x, cy-y)

		y++
		if err <= 0 {
			err += 2*y + 1
		}
		if err > 0 {
			x--
			err -= 2*x + 1
		}
	}
}

// drawThickLine draws parallel Bresenham lines across the given thickness.
func drawThickLine(img *image.NRGBA, x1, y1, x2, y2 float64, thickness int, c color.RGBA) {
	if thickness <= 1 {
		drawLine(img, round(x1), round(y1), round(x2), round(y2), c)
		return
	}
	dx, dy := x2-x1, y2-y1
	length := math.Hypot(dx, dy)
	if length == 0 {
		fillCircle(img, round(x1), round(y1), thickness/2, c)
		return
	}
	px, py := -dy/length, dx/length

	half := float64(thickness) / 2
	for t := -half; t <= half; t += 1.0 {
		drawLine(img, round(x1+px*t), round(y1+py*t), round(x2+px*t), round(y2+py*t), c)
	}
}

// drawLine draws a line using Bresenham's algorithm.
func drawLine(img *image.NRGBA, x1, y1, x2, y2 int, c color.RGBA) {
	bounds := img.Bounds()
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}

	err := dx - dy
	for {
		if (image.Point{X: x1, Y: y1}).In(bounds) {
			img.Set(x1, y1, c)
		}
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func round(v float64) int {
	return int(math.Round(v))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
