package tracker

import (
	"TrackAlarm/filter"
	"TrackAlarm/geometry"
	iface "TrackAlarm/interface"
	"TrackAlarm/logger"
	"fmt"
	"image/color"
	"sync"

	"go.uber.org/zap"
)

// TrackedObject is a recognition promoted to display state for one frame.
type TrackedObject struct {
	// Location is in canvas space, mapped with the transform for the
	// configured canvas size (or the last Draw's canvas when none is set).
	Location iface.Rect `json:"location"`
	// FrameLocation is in raw frame space; Draw maps it with a fresh
	// frame->canvas transform.
	FrameLocation iface.Rect `json:"frameLocation"`
	Confidence    float32    `json:"confidence"`
	Title         string     `json:"title"`
	ColorIndex    int        `json:"colorIndex"`
	Color         color.RGBA `json:"-"`
}

// ScreenRect is a debug rectangle for every located recognition of the
// last frame, regardless of confidence or size.
type ScreenRect struct {
	Confidence float32    `json:"confidence"`
	Location   iface.Rect `json:"location"`
}

// MultiBoxTracker redisplays the last frame's detections. There is no
// cross-frame matching: each TrackResults call replaces the whole set and
// colours follow insertion order.
type MultiBoxTracker struct {
	mu sync.Mutex

	palette       Palette
	minSize       float32
	minConfidence float32
	drawLabels    map[string]struct{}

	configured    bool
	frameConfig   iface.FrameConfiguration
	canvasW       int
	canvasH       int
	frameToCanvas geometry.Matrix

	trackedObjects []TrackedObject
	screenRects    []ScreenRect
	timestamp      int64
}

type Option func(*MultiBoxTracker)

func WithPalette(p Palette) Option {
	return func(t *MultiBoxTracker) {
		t.palette = p
	}
}

func WithMinSize(px float32) Option {
	return func(t *MultiBoxTracker) {
		t.minSize = px
	}
}

func WithMinConfidence(c float32) Option {
	return func(t *MultiBoxTracker) {
		t.minConfidence = c
	}
}

// WithDrawLabels restricts Draw to the given titles. Tracking is unaffected.
func WithDrawLabels(labels ...string) Option {
	return func(t *MultiBoxTracker) {
		if len(labels) == 0 {
			t.drawLabels = nil
			return
		}
		t.drawLabels = make(map[string]struct{}, len(labels))
		for _, l := range labels {
			t.drawLabels[l] = struct{}{}
		}
	}
}

// WithCanvasSize fixes the canvas that Location is reported in.
func WithCanvasSize(w, h int) Option {
	return func(t *MultiBoxTracker) {
		t.canvasW, t.canvasH = w, h
	}
}

func New(opts ...Option) *MultiBoxTracker {
	t := &MultiBoxTracker{
		palette:       DefaultPalette,
		minSize:       filter.DefaultMinSize,
		frameToCanvas: geometry.Identity(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetFrameConfiguration records the capture geometry used for frame->canvas
// mapping. A degenerate configuration is rejected and leaves the tracker as
// it was.
func (t *MultiBoxTracker) SetFrameConfiguration(cfg iface.FrameConfiguration) error {
	if !cfg.Valid() {
		return fmt.Errorf("tracker frame configuration: %w: frame %dx%d", geometry.ErrDegenerate, cfg.Width, cfg.Height)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameConfig = cfg
	t.configured = true
	if t.hasCanvas() {
		t.frameToCanvas = t.canvasTransform(t.canvasW, t.canvasH)
	}
	logger.Log().Debug("tracker configured",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("sensorOrientation", cfg.SensorOrientation))
	return nil
}

// SetCanvasSize fixes the canvas that Location is reported in, so tracked
// objects are in canvas space before anything has been drawn. Draw no longer
// moves the cached transform once a size is set.
func (t *MultiBoxTracker) SetCanvasSize(w, h int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canvasW, t.canvasH = w, h
	if t.hasCanvas() {
		t.frameToCanvas = t.canvasTransform(w, h)
	}
}

func (t *MultiBoxTracker) hasCanvas() bool {
	return t.canvasW > 0 && t.canvasH > 0
}

func (t *MultiBoxTracker) FrameConfiguration() (iface.FrameConfiguration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameConfig, t.configured
}

// TrackResults replaces the tracked set with this frame's recognitions.
// Boxes are in crop space and are mapped back with crop, which must be the
// transforms the frame was cropped with.
func (t *MultiBoxTracker) TrackResults(results []iface.Recognition, timestamp int64, crop geometry.CropTransforms) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// size thresholds are applied before any mapping
	filtered := filter.Apply(results, t.minConfidence, t.minSize)

	screen := make([]ScreenRect, 0, len(filtered.Screen))
	for _, r := range filtered.Screen {
		frameRect := crop.CropToFrame.MapRect(*r.Location)
		screen = append(screen, ScreenRect{
			Confidence: r.Confidence,
			Location:   t.frameToCanvas.MapRect(frameRect),
		})
	}

	s := newSlots(t.palette)
	tracked := make([]TrackedObject, 0, min(len(filtered.Tracked), len(t.palette)))
	for _, r := range filtered.Tracked {
		idx, c, ok := s.take()
		if !ok {
			logger.Log().Debug("palette exhausted, dropping detections",
				zap.Int("dropped", len(filtered.Tracked)-len(tracked)),
				zap.Int64("timestamp", timestamp))
			break
		}
		frameRect := crop.CropToFrame.MapRect(*r.Location)
		tracked = append(tracked, TrackedObject{
			Location:      t.frameToCanvas.MapRect(frameRect),
			FrameLocation: frameRect,
			Confidence:    r.Confidence,
			Title:         r.Title,
			ColorIndex:    idx,
			Color:         c,
		})
	}

	t.screenRects = screen
	t.trackedObjects = tracked
	t.timestamp = timestamp
}

// Draw renders every tracked object onto canvas and returns how many boxes
// were drawn. The frame->canvas transform is rebuilt from the canvas size
// on every call, and cached for Location when no canvas size is set.
func (t *MultiBoxTracker) Draw(canvas iface.Canvas) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	frameToCanvas := t.canvasTransform(canvas.Width(), canvas.Height())
	if !t.hasCanvas() {
		t.frameToCanvas = frameToCanvas
	}

	drawn := 0
	for _, obj := range t.trackedObjects {
		if t.drawLabels != nil {
			if _, ok := t.drawLabels[obj.Title]; !ok {
				continue
			}
		}
		pos := frameToCanvas.MapRect(obj.FrameLocation)
		corner := min(pos.Width(), pos.Height()) / 8
		canvas.DrawRoundRect(pos, corner, obj.Color)
		canvas.DrawText(pos.Left+corner, pos.Top, obj.Title, obj.Color)
		drawn++
	}
	return drawn
}

// canvasTransform falls back to identity until a usable frame
// configuration and canvas size are known.
func (t *MultiBoxTracker) canvasTransform(w, h int) geometry.Matrix {
	if !t.configured {
		return geometry.Identity()
	}
	m, err := geometry.FrameToCanvas(t.frameConfig, w, h)
	if err != nil {
		logger.Log().Warn("frame to canvas transform unavailable", zap.Error(err))
		return geometry.Identity()
	}
	return m
}

// FrameToCanvas returns the transform Location is mapped with.
func (t *MultiBoxTracker) FrameToCanvas() geometry.Matrix {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameToCanvas
}

func (t *MultiBoxTracker) TrackedObjects() []TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TrackedObject(nil), t.trackedObjects...)
}

func (t *MultiBoxTracker) ScreenRects() []ScreenRect {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ScreenRect(nil), t.screenRects...)
}

// Timestamp is the frame timestamp of the last TrackResults call.
func (t *MultiBoxTracker) Timestamp() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timestamp
}

func (t *MultiBoxTracker) PaletteSize() int {
	return len(t.palette)
}
