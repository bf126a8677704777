package imgproc

import (
	iface "TrackAlarm/interface"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

const (
	boxThickness = 10
	textScale    = 1.2
)

// MatCanvas draws the overlay onto an OpenCV image.
type MatCanvas struct {
	Mat gocv.Mat
}

// NewMatCanvas returns a black canvas. Close releases it.
func NewMatCanvas(width, height int) *MatCanvas {
	return &MatCanvas{Mat: gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)}
}

func (c *MatCanvas) Width() int  { return c.Mat.Cols() }
func (c *MatCanvas) Height() int { return c.Mat.Rows() }

func (c *MatCanvas) Close() error {
	return c.Mat.Close()
}

func pt(x, y float32) image.Point {
	return image.Pt(int(math.Round(float64(x))), int(math.Round(float64(y))))
}

func bgr(c color.RGBA) color.RGBA {
	// OpenCV scalars are BGR
	return color.RGBA{R: c.B, G: c.G, B: c.R, A: c.A}
}

func (c *MatCanvas) DrawRoundRect(r iface.Rect, radius float32, col color.RGBA) {
	col = bgr(col)
	if radius < 1 {
		gocv.Rectangle(&c.Mat, image.Rectangle{Min: pt(r.Left, r.Top), Max: pt(r.Right, r.Bottom)}, col, boxThickness)
		return
	}
	rad := int(radius)
	l, t := pt(r.Left, r.Top).X, pt(r.Left, r.Top).Y
	rt, b := pt(r.Right, r.Bottom).X, pt(r.Right, r.Bottom).Y

	gocv.Line(&c.Mat, image.Pt(l+rad, t), image.Pt(rt-rad, t), col, boxThickness)
	gocv.Line(&c.Mat, image.Pt(l+rad, b), image.Pt(rt-rad, b), col, boxThickness)
	gocv.Line(&c.Mat, image.Pt(l, t+rad), image.Pt(l, b-rad), col, boxThickness)
	gocv.Line(&c.Mat, image.Pt(rt, t+rad), image.Pt(rt, b-rad), col, boxThickness)

	axes := image.Pt(rad, rad)
	gocv.Ellipse(&c.Mat, image.Pt(l+rad, t+rad), axes, 0, 180, 270, col, boxThickness)
	gocv.Ellipse(&c.Mat, image.Pt(rt-rad, t+rad), axes, 0, 270, 360, col, boxThickness)
	gocv.Ellipse(&c.Mat, image.Pt(rt-rad, b-rad), axes, 0, 0, 90, col, boxThickness)
	gocv.Ellipse(&c.Mat, image.Pt(l+rad, b-rad), axes, 0, 90, 180, col, boxThickness)
}

// DrawText draws a label with a black border so it stays readable on any
// background.
func (c *MatCanvas) DrawText(x, y float32, text string, col color.RGBA) {
	org := pt(x, y)
	gocv.PutText(&c.Mat, text, org, gocv.FontHersheySimplex, textScale, color.RGBA{A: 0xFF}, 4)
	gocv.PutText(&c.Mat, text, org, gocv.FontHersheySimplex, textScale, bgr(col), 2)
}

func (c *MatCanvas) Image() iface.ImageData {
	return FromMat(c.Mat)
}
