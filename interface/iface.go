package iface

import (
	"context"
	"image/color"
	"math"
)

// Rect is an axis aligned box in float pixel coordinates.
type Rect struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

func NewRect(x, y, w, h float32) Rect {
	return Rect{Left: x, Top: y, Right: x + w, Bottom: y + h}
}

func (r Rect) Width() float32 {
	return r.Right - r.Left
}

func (r Rect) Height() float32 {
	return r.Bottom - r.Top
}

// IsFinite reports whether none of the edges is NaN or infinite.
func (r Rect) IsFinite() bool {
	for _, v := range []float32{r.Left, r.Top, r.Right, r.Bottom} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Recognition is one classifier output. Location is in model input (crop)
// pixels and is nil for classification-only results.
type Recognition struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Confidence float32 `json:"confidence"`
	Location   *Rect   `json:"location,omitempty"`
}

// FrameConfiguration describes the capture session.
type FrameConfiguration struct {
	Width             int `json:"width" yaml:"width"`
	Height            int `json:"height" yaml:"height"`
	SensorOrientation int `json:"sensorOrientation" yaml:"sensorOrientation"`
}

func (c FrameConfiguration) Valid() bool {
	return c.Width > 0 && c.Height > 0
}

// ImageData is a raw interleaved pixel buffer (BGR for 3 channels).
type ImageData struct {
	Data     []byte
	Width    int32
	Height   int32
	Channels int32
}

func (img ImageData) Clone() ImageData {
	out := img
	out.Data = append([]byte(nil), img.Data...)
	return out
}

// Classifier is the inference black box. Implementations are loaded once per
// session; Recognize may take tens to hundreds of milliseconds.
type Classifier interface {
	Recognize(img ImageData) ([]Recognition, error)
	Close() error
}

// AlarmService is the alarm subsystem. Both calls must be safe to repeat.
type AlarmService interface {
	Dismiss(ctx context.Context, alarmID int) error
	Snooze(ctx context.Context, alarmID int, minutes int) error
}

// Canvas is a drawing surface in canvas pixel space.
type Canvas interface {
	Width() int
	Height() int
	DrawRoundRect(r Rect, radius float32, c color.RGBA)
	DrawText(x, y float32, text string, c color.RGBA)
}
