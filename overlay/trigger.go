package overlay

import (
	iface "TrackAlarm/interface"
	"TrackAlarm/logger"
	"context"
	"sync"

	"go.uber.org/zap"
)

// TargetTrigger dismisses an alarm the first time the target label is seen
// with enough confidence. It fires at most once per session; a failed
// dismiss re-arms it so a later frame can try again.
type TargetTrigger struct {
	Label         string
	MinConfidence float32
	AlarmID       int

	alarm  iface.AlarmService
	onFire func(iface.Recognition)

	mu    sync.Mutex
	fired bool
}

func NewTargetTrigger(label string, minConfidence float32, alarmID int, alarm iface.AlarmService) *TargetTrigger {
	return &TargetTrigger{
		Label:         label,
		MinConfidence: minConfidence,
		AlarmID:       alarmID,
		alarm:         alarm,
	}
}

// OnFire registers a callback run once after a successful dismiss.
func (t *TargetTrigger) OnFire(fn func(iface.Recognition)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFire = fn
}

func (t *TargetTrigger) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Matches reports whether r qualifies as the target.
func (t *TargetTrigger) Matches(r iface.Recognition) bool {
	return r.Location != nil && r.Title == t.Label && r.Confidence >= t.MinConfidence
}

// Evaluate scans one frame. It returns true when this call issued the
// dismiss.
func (t *TargetTrigger) Evaluate(ctx context.Context, recs []iface.Recognition) (bool, error) {
	var hit *iface.Recognition
	for i := range recs {
		if t.Matches(recs[i]) {
			hit = &recs[i]
			break
		}
	}
	if hit == nil {
		return false, nil
	}

	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return false, nil
	}
	t.fired = true
	onFire := t.onFire
	t.mu.Unlock()

	if err := t.alarm.Dismiss(ctx, t.AlarmID); err != nil {
		t.mu.Lock()
		t.fired = false
		t.mu.Unlock()
		logger.Log().Error("dismiss failed", zap.Int("alarmID", t.AlarmID), zap.Error(err))
		return false, err
	}
	logger.Log().Info("target acquired, alarm dismissed",
		zap.String("label", hit.Title),
		zap.Float32("confidence", hit.Confidence),
		zap.Int("alarmID", t.AlarmID))
	if onFire != nil {
		onFire(*hit)
	}
	return true, nil
}
