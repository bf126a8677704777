package engine

import (
	"TrackAlarm/geometry"
	iface "TrackAlarm/interface"
	"TrackAlarm/logger"
	"TrackAlarm/monitor"
	"TrackAlarm/overlay"
	"TrackAlarm/tracker"
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var workerRestartDelay = 1 * time.Second

// job pins the crop transforms a frame was accepted under, so the crop and
// the mapping back to frame space always agree across a Configure.
type job struct {
	image      iface.ImageData
	timestamp  int64
	transforms *geometry.CropTransforms
}

// Session is one capture session: a single background worker runs crop,
// inference, the alarm trigger and the tracker, while the rendering side
// reads the tracker through Renderer. At most one frame is in flight; frames
// arriving while it runs are dropped, not queued.
type Session struct {
	ID string

	cfg        Config
	classifier iface.Classifier
	cropper    Cropper
	alarm      iface.AlarmService
	tracker    *tracker.MultiBoxTracker
	trigger    *overlay.TargetTrigger
	renderer   *overlay.Renderer

	transforms     atomic.Pointer[geometry.CropTransforms]
	computing      atomic.Bool
	timestamp      atomic.Int64
	dropped        atomic.Int64
	lastProcessing atomic.Int64
	state          atomic.Int32

	jobs       chan job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}
	finishOnce sync.Once
	closeOnce  sync.Once
}

// Open loads the classifier and starts the worker. A classifier that fails
// to load ends the session before it starts.
func Open(cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	if deps.LoadClassifier == nil || deps.Cropper == nil || deps.Alarm == nil {
		return nil, fmt.Errorf("engine: classifier loader, cropper and alarm service are required")
	}
	classifier, err := deps.LoadClassifier()
	if err != nil {
		logger.Log().Error("classifier could not be initialized", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrClassifierInit, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         uuid.NewString(),
		cfg:        cfg,
		classifier: classifier,
		cropper:    deps.Cropper,
		alarm:      deps.Alarm,
		tracker: tracker.New(
			tracker.WithMinSize(cfg.MinSize),
			tracker.WithMinConfidence(cfg.TrackMinConfidence),
			tracker.WithCanvasSize(cfg.CanvasWidth, cfg.CanvasHeight),
			tracker.WithDrawLabels(cfg.DrawLabels...)),
		jobs:   make(chan job, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	identity := geometry.IdentityCropTransforms(cfg.CropSize)
	s.transforms.Store(&identity)
	s.trigger = overlay.NewTargetTrigger(cfg.TargetLabel, cfg.MinConfidence, cfg.AlarmID, deps.Alarm)
	s.trigger.OnFire(func(iface.Recognition) {
		monitor.AlarmActions.WithLabelValues("dismiss").Inc()
	})
	s.renderer = overlay.NewRenderer(s.tracker, s.Stats)
	s.state.Store(REGISTERED)

	s.startWorker()
	logger.Log().Info("session opened",
		zap.String("session", s.ID),
		zap.String("target", cfg.TargetLabel),
		zap.Float32("minConfidence", cfg.MinConfidence),
		zap.Int("cropSize", cfg.CropSize))
	return s, nil
}

// Configure sets the capture geometry. It may be called again when the
// preview size changes; a frame already in flight finishes under the
// geometry it was accepted with.
func (s *Session) Configure(fc iface.FrameConfiguration) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	ct, err := geometry.NewCropTransforms(fc, s.cfg.CropSize, s.cfg.MaintainAspect)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	if err := s.tracker.SetFrameConfiguration(fc); err != nil {
		return err
	}
	s.transforms.Store(&ct)
	s.state.CompareAndSwap(REGISTERED, IDLE)
	s.state.CompareAndSwap(ERROR, IDLE)
	logger.Log().Info("frame configuration set",
		zap.String("session", s.ID),
		zap.Int("width", fc.Width),
		zap.Int("height", fc.Height),
		zap.Int("sensorOrientation", fc.SensorOrientation))
	return nil
}

// ProcessFrame offers a frame to the pipeline and reports whether it was
// accepted. The frame is always acknowledged, and before any inference
// starts, so capture never waits on the classifier.
func (s *Session) ProcessFrame(f Frame) bool {
	ts := s.timestamp.Add(1)
	monitor.FramesTotal.Inc()

	if s.ctx.Err() != nil || s.isFinished() {
		ack(f)
		return false
	}
	if !s.computing.CompareAndSwap(false, true) {
		ack(f)
		s.dropped.Add(1)
		monitor.FramesDropped.Inc()
		return false
	}

	img := f.Image.Clone()
	ack(f)

	if !s.state.CompareAndSwap(IDLE, BUSY) {
		s.state.CompareAndSwap(ERROR, BUSY)
	}
	select {
	case s.jobs <- job{image: img, timestamp: ts, transforms: s.transforms.Load()}:
		return true
	case <-s.ctx.Done():
		s.computing.Store(false)
		return false
	}
}

func ack(f Frame) {
	if f.Ack != nil {
		f.Ack()
	}
}

func (s *Session) startWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

func (s *Session) runWorker() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic, restarting", zap.String("session", s.ID), zap.Any("panic", r))
			s.computing.Store(false)
			s.state.CompareAndSwap(BUSY, ERROR)
			time.Sleep(workerRestartDelay)
			if s.ctx.Err() == nil {
				s.startWorker()
			}
		}
	}()
	// native inference backends expect a stable thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.jobs:
			s.process(j)
		}
	}
}

func (s *Session) process(j job) {
	defer s.computing.Store(false)

	start := time.Now()
	ct := j.transforms
	crop, err := s.cropper.Crop(j.image, ct.FrameToCrop, ct.CropSize)
	if err != nil {
		s.frameFailed(j, "crop failed", err)
		return
	}
	results, err := s.classifier.Recognize(crop)
	if err != nil {
		s.frameFailed(j, "recognition failed", err)
		return
	}
	elapsed := time.Since(start)
	s.lastProcessing.Store(int64(elapsed))
	monitor.InferenceSeconds.Observe(elapsed.Seconds())

	fired, err := s.trigger.Evaluate(s.ctx, results)
	if err != nil {
		logger.Log().Warn("target seen but dismiss failed", zap.String("session", s.ID), zap.Error(err))
	}

	s.tracker.TrackResults(results, j.timestamp, *ct)
	monitor.TrackedObjects.Set(float64(len(s.tracker.TrackedObjects())))
	logger.Log().Debug("frame processed",
		zap.String("session", s.ID),
		zap.Int64("frame", j.timestamp),
		zap.Int("recognitions", len(results)),
		zap.Duration("elapsed", elapsed))

	if fired {
		s.finish()
		return
	}
	s.state.CompareAndSwap(BUSY, IDLE)
}

func (s *Session) frameFailed(j job, msg string, err error) {
	monitor.InferenceErrors.Inc()
	s.state.CompareAndSwap(BUSY, ERROR)
	logger.Log().Warn(msg, zap.String("session", s.ID), zap.Int64("frame", j.timestamp), zap.Error(err))
}

// Dismiss dismisses the alarm by hand and ends the session.
func (s *Session) Dismiss(ctx context.Context) error {
	if s.isFinished() {
		return nil
	}
	if err := s.alarm.Dismiss(ctx, s.cfg.AlarmID); err != nil {
		return err
	}
	monitor.AlarmActions.WithLabelValues("dismiss").Inc()
	s.finish()
	return nil
}

// Snooze snoozes the alarm for the configured minutes and ends the session.
func (s *Session) Snooze(ctx context.Context) error {
	if s.isFinished() {
		return nil
	}
	if err := s.alarm.Snooze(ctx, s.cfg.AlarmID, s.cfg.SnoozeMinutes); err != nil {
		return err
	}
	monitor.AlarmActions.WithLabelValues("snooze").Inc()
	s.finish()
	return nil
}

func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.state.Store(FINISHED)
		close(s.done)
		logger.Log().Info("session finished", zap.String("session", s.ID))
	})
}

func (s *Session) isFinished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed once the alarm has been dismissed or snoozed, or the
// session was closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the worker and releases the classifier.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.finish()
		err = s.classifier.Close()
	})
	return err
}

func (s *Session) State() int32 {
	return s.state.Load()
}

func (s *Session) Tracker() *tracker.MultiBoxTracker {
	return s.tracker
}

func (s *Session) Renderer() *overlay.Renderer {
	return s.renderer
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) LastProcessingTime() time.Duration {
	return time.Duration(s.lastProcessing.Load())
}

func (s *Session) Stats() overlay.Stats {
	return overlay.Stats{
		Frame:          s.timestamp.Load(),
		LastProcessing: s.LastProcessingTime(),
		Dropped:        s.dropped.Load(),
	}
}
