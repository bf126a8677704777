package overlay

import (
	iface "TrackAlarm/interface"
	"TrackAlarm/tracker"
	"fmt"
	"image/color"
	"time"
)

var debugColor = color.RGBA{R: 0xFF, A: 0xFF}

// Stats is the status line shown in debug mode.
type Stats struct {
	Frame          int64
	LastProcessing time.Duration
	Dropped        int64
}

// Renderer draws the tracker state, plus the raw detection rectangles and
// a status line when Debug is set.
type Renderer struct {
	Debug bool

	tracker *tracker.MultiBoxTracker
	stats   func() Stats
}

func NewRenderer(t *tracker.MultiBoxTracker, stats func() Stats) *Renderer {
	return &Renderer{tracker: t, stats: stats}
}

// Render returns the number of tracked boxes drawn.
func (r *Renderer) Render(canvas iface.Canvas) int {
	drawn := r.tracker.Draw(canvas)
	if !r.Debug {
		return drawn
	}
	for _, s := range r.tracker.ScreenRects() {
		canvas.DrawRoundRect(s.Location, 0, debugColor)
		canvas.DrawText(s.Location.Left, s.Location.Bottom, fmt.Sprintf("%.2f", s.Confidence), debugColor)
	}
	if r.stats != nil {
		st := r.stats()
		line := fmt.Sprintf("frame %d  %dms  dropped %d  tracked %d",
			st.Frame, st.LastProcessing.Milliseconds(), st.Dropped, len(r.tracker.TrackedObjects()))
		canvas.DrawText(4, float32(canvas.Height())-4, line, debugColor)
	}
	return drawn
}
