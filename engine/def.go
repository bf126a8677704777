package engine

import (
	"TrackAlarm/filter"
	"TrackAlarm/geometry"
	iface "TrackAlarm/interface"
	"errors"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004
const ERROR = 0x0005
const FINISHED = 0x0006

// DefaultCropSize is the SSD model input edge in pixels.
const DefaultCropSize = 300

var (
	ErrClassifierInit = errors.New("classifier could not be initialized")
	ErrClosed         = errors.New("session closed")
)

// Cropper resamples a raw frame into the square model input using the
// frame->crop transform.
type Cropper interface {
	Crop(frame iface.ImageData, frameToCrop geometry.Matrix, cropSize int) (iface.ImageData, error)
}

// Frame is one buffer from the frame source. Ack tells the source it may
// reuse the buffer and deliver the next image.
type Frame struct {
	Image iface.ImageData
	Ack   func()
}

type Config struct {
	CropSize       int
	MaintainAspect bool
	// MinConfidence gates the alarm trigger; TrackMinConfidence gates the
	// tracker and is usually 0.
	MinConfidence      float32
	TrackMinConfidence float32
	MinSize            float32
	TargetLabel        string
	AlarmID            int
	SnoozeMinutes      int
	DrawLabels         []string
	// CanvasWidth and CanvasHeight size the display that tracked locations
	// are reported in. Unset leaves them to the last overlay draw.
	CanvasWidth  int
	CanvasHeight int
}

func (c Config) withDefaults() Config {
	if c.CropSize <= 0 {
		c.CropSize = DefaultCropSize
	}
	if c.MinSize <= 0 {
		c.MinSize = filter.DefaultMinSize
	}
	if c.SnoozeMinutes <= 0 {
		c.SnoozeMinutes = 10
	}
	return c
}

type Deps struct {
	// LoadClassifier is called once by Open. An error is fatal for the
	// session.
	LoadClassifier func() (iface.Classifier, error)
	Cropper        Cropper
	Alarm          iface.AlarmService
}

func StateName(state int32) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case REGISTERED:
		return "registered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	case ERROR:
		return "error"
	case FINISHED:
		return "finished"
	}
	return "unknown"
}
