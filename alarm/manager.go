package alarm

import (
	"TrackAlarm/logger"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	Ringing State = iota
	Snoozed
	Dismissed
)

func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Snoozed:
		return "snoozed"
	case Dismissed:
		return "dismissed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrInvalidSnooze = errors.New("snooze minutes must be positive")

type Alarm struct {
	ID          int       `json:"id"`
	Label       string    `json:"label"`
	State       State     `json:"state"`
	SnoozeUntil time.Time `json:"snoozeUntil,omitempty"`
}

// Manager is an in-memory alarm subsystem. Dismiss and Snooze are
// idempotent: acting on an unknown or already dismissed alarm is a no-op.
type Manager struct {
	mu     sync.Mutex
	alarms map[int]*Alarm
	now    func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		alarms: make(map[int]*Alarm),
		now:    time.Now,
	}
}

// Ring registers an alarm as currently ringing.
func (m *Manager) Ring(id int, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms[id] = &Alarm{ID: id, Label: label, State: Ringing}
}

func (m *Manager) Get(id int) (Alarm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[id]
	if !ok {
		return Alarm{}, false
	}
	return *a, true
}

func (m *Manager) Dismiss(ctx context.Context, alarmID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[alarmID]
	if !ok || a.State == Dismissed {
		logger.Log().Debug("dismiss ignored", zap.Int("alarmID", alarmID), zap.Bool("known", ok))
		return nil
	}
	a.State = Dismissed
	a.SnoozeUntil = time.Time{}
	logger.Log().Info("alarm dismissed", zap.Int("alarmID", alarmID))
	return nil
}

func (m *Manager) Snooze(ctx context.Context, alarmID int, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSnooze, minutes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[alarmID]
	if !ok || a.State == Dismissed {
		logger.Log().Debug("snooze ignored", zap.Int("alarmID", alarmID), zap.Bool("known", ok))
		return nil
	}
	a.State = Snoozed
	a.SnoozeUntil = m.now().Add(time.Duration(minutes) * time.Minute)
	logger.Log().Info("alarm snoozed", zap.Int("alarmID", alarmID), zap.Time("until", a.SnoozeUntil))
	return nil
}
