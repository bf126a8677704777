package monitor

import (
	"TrackAlarm/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_total",
		Help: "Frames offered by the frame source",
	})
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_dropped_total",
		Help: "Frames skipped because inference was still running",
	})
	InferenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_errors_total",
		Help: "Frames whose crop or classifier call failed",
	})
	InferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_duration_seconds",
		Help:    "Time spent in crop and classifier per frame",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 8),
	})
	TrackedObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracked_objects",
		Help: "Objects tracked in the last processed frame",
	})
	AlarmActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_actions_total",
		Help: "Dismiss and snooze actions issued to the alarm service",
	}, []string{"action"})

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
)

// NewRegistry returns a registry holding every collector of this package.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		FramesTotal, FramesDropped, InferenceErrors, InferenceSeconds,
		TrackedObjects, AlarmActions, memUsage, cpuUsage,
	)
	return registry
}

func checkProcessInfo(p *process.Process) {
	memInfo, err := p.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := p.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples process usage until ctx is
// cancelled.
func StartMon(ctx context.Context, port int) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("monitor process handle: %w", err)
	}
	registry := NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			checkProcessInfo(p)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
