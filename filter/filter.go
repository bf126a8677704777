package filter

import (
	iface "TrackAlarm/interface"
	"math"
	"sort"
)

const (
	// DefaultMinConfidence is the threshold used on the alarm trigger path.
	DefaultMinConfidence float32 = 0.65
	// DefaultMinSize is the smallest box side, in crop pixels, worth tracking.
	DefaultMinSize float32 = 16.0
)

// Result splits one frame of recognitions into the debug list and the list
// that may be tracked. Both keep the input order.
type Result struct {
	Screen  []iface.Recognition
	Tracked []iface.Recognition
}

// Apply drops recognitions without a usable box or a finite confidence from
// both lists, and additionally drops low confidence or undersized boxes from
// Tracked.
// Sizes are measured in crop space so the threshold does not depend on the
// canvas resolution.
func Apply(recs []iface.Recognition, minConfidence, minSize float32) Result {
	res := Result{}
	for _, r := range recs {
		if r.Location == nil || !r.Location.IsFinite() || !finite(r.Confidence) {
			continue
		}
		res.Screen = append(res.Screen, r)
		if r.Confidence < minConfidence {
			continue
		}
		if r.Location.Width() < minSize || r.Location.Height() < minSize {
			continue
		}
		res.Tracked = append(res.Tracked, r)
	}
	return res
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

func Filter(recs []iface.Recognition, minConfidence, minSize float32) []iface.Recognition {
	return Apply(recs, minConfidence, minSize).Tracked
}

// Rank returns a copy ordered by descending confidence; ties keep input order.
func Rank(recs []iface.Recognition) []iface.Recognition {
	out := append([]iface.Recognition(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
