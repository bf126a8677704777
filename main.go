package main

import (
	adhoc "TrackAlarm/Adhoc"
	"TrackAlarm/alarm"
	"TrackAlarm/api"
	"TrackAlarm/engine"
	backend "TrackAlarm/gRPC"
	"TrackAlarm/imgproc"
	iface "TrackAlarm/interface"
	"TrackAlarm/logger"
	"TrackAlarm/monitor"
	"TrackAlarm/overlay"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type configStruct struct {
	HTTPPort    int    `yaml:"HTTPPort"`
	RPCPort     int    `yaml:"RPCPort"`
	MetricsPort int    `yaml:"MetricsPort"`
	Debug       bool   `yaml:"debug"`
	LogLevel    string `yaml:"logLevel"`

	ModelPath   string `yaml:"modelPath"`
	ModelConfig string `yaml:"modelConfig"`
	LabelsPath  string `yaml:"labelsPath"`
	SwapRB      bool   `yaml:"swapRB"`

	CropSize           int      `yaml:"cropSize"`
	MaintainAspect     bool     `yaml:"maintainAspect"`
	MinConfidence      float32  `yaml:"minConfidence"`
	TrackMinConfidence float32  `yaml:"trackMinConfidence"`
	MinSize            float32  `yaml:"minSize"`
	TargetLabel        string   `yaml:"targetLabel"`
	DrawLabels         []string `yaml:"drawLabels"`

	AlarmID       int    `yaml:"alarmID"`
	SnoozeMinutes int    `yaml:"snoozeMinutes"`
	AlarmURL      string `yaml:"alarmURL"`

	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerHost string `yaml:"RegServerHost"`
	RegServerPort int    `yaml:"RegServerPort"`

	Frame  iface.FrameConfiguration `yaml:"frame"`
	Canvas struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"canvas"`
}

// loadConfig parses path and fills unset values with defaults. The returned
// warnings name every value that was defaulted.
func loadConfig(path string) (configStruct, []string, error) {
	config := configStruct{}
	configData, err := os.ReadFile(path)
	if err != nil {
		return config, nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(configData, &config); err != nil {
		return config, nil, fmt.Errorf("parse config: %w", err)
	}

	var warnings []string
	def := func(cond bool, msg string, apply func()) {
		if cond {
			apply()
			warnings = append(warnings, msg)
		}
	}
	def(config.HTTPPort <= 0, "HTTPPort unset, defaulting to 8080", func() { config.HTTPPort = 8080 })
	def(config.RPCPort <= 0, "RPCPort unset, defaulting to 50051", func() { config.RPCPort = 50051 })
	def(config.MetricsPort <= 0, "MetricsPort unset, defaulting to 50053", func() { config.MetricsPort = 50053 })
	def(config.CropSize <= 0, "cropSize unset, defaulting to 300", func() { config.CropSize = engine.DefaultCropSize })
	def(config.MinConfidence <= 0, "minConfidence unset, defaulting to 0.65", func() { config.MinConfidence = 0.65 })
	def(config.TargetLabel == "", "targetLabel unset, defaulting to toothbrush", func() { config.TargetLabel = "toothbrush" })
	def(config.SnoozeMinutes <= 0, "snoozeMinutes unset, defaulting to 10", func() { config.SnoozeMinutes = 10 })
	def(config.Canvas.Width <= 0 || config.Canvas.Height <= 0, "canvas size unset, defaulting to 480x640", func() {
		config.Canvas.Width, config.Canvas.Height = 480, 640
	})
	if config.ModelPath == "" || config.LabelsPath == "" {
		return config, warnings, errors.New("modelPath and labelsPath are required")
	}
	return config, warnings, nil
}

func (c configStruct) engineConfig() engine.Config {
	return engine.Config{
		CropSize:           c.CropSize,
		MaintainAspect:     c.MaintainAspect,
		MinConfidence:      c.MinConfidence,
		TrackMinConfidence: c.TrackMinConfidence,
		MinSize:            c.MinSize,
		TargetLabel:        c.TargetLabel,
		AlarmID:            c.AlarmID,
		SnoozeMinutes:      c.SnoozeMinutes,
		DrawLabels:         c.DrawLabels,
		CanvasWidth:        c.Canvas.Width,
		CanvasHeight:       c.Canvas.Height,
	}
}

func (c configStruct) alarmService() iface.AlarmService {
	if c.AlarmURL != "" {
		return alarm.NewClient(c.AlarmURL)
	}
	m := alarm.NewManager()
	m.Ring(c.AlarmID, "wake-up")
	return m
}

func renderOverlayJPEG(r *overlay.Renderer, width, height int) ([]byte, error) {
	canvas := imgproc.NewMatCanvas(width, height)
	defer canvas.Close()
	r.Render(canvas)
	return imgproc.EncodeJPEG(canvas.Image())
}

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	config, warnings, err := loadConfig(path)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(config.Debug, config.LogLevel); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	for _, w := range warnings {
		logger.Log().Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	session, err := engine.Open(config.engineConfig(), engine.Deps{
		LoadClassifier: func() (iface.Classifier, error) {
			return imgproc.LoadDNNClassifier(imgproc.DNNConfig{
				ModelPath:  config.ModelPath,
				ConfigPath: config.ModelConfig,
				LabelsPath: config.LabelsPath,
				InputSize:  config.CropSize,
				MinScore:   0.01,
				SwapRB:     config.SwapRB,
			})
		},
		Cropper: imgproc.Cropper{},
		Alarm:   config.alarmService(),
	})
	if err != nil {
		logger.Log().Error("session could not start", zap.Error(err))
		return
	}
	defer session.Close()
	session.Renderer().Debug = config.Debug
	if config.Frame.Valid() {
		if err := session.Configure(config.Frame); err != nil {
			logger.Log().Warn("frame configuration rejected", zap.Error(err))
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.StartMon(ctx, config.MetricsPort); err != nil {
			logger.Log().Error("monitor stopped", zap.Error(err))
		}
	}()

	if config.UseRegServer {
		reg := adhoc.RegServerConfig{}
		reg.SetAddress(config.RegServerHost, config.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(ctx, &wg, reg, func() adhoc.Status {
			st := session.Stats()
			return adhoc.Status{
				SessionID: session.ID,
				State:     engine.StateName(session.State()),
				Frame:     st.Frame,
				Tracked:   len(session.Tracker().TrackedObjects()),
			}
		})
	} else {
		logger.Log().Info("UseRegServer is set to false, skipping registration")
	}

	rpc, health, err := backend.StartGRPCServer(config.RPCPort)
	if err != nil {
		logger.Log().Error("gRPC server could not start", zap.Error(err))
		return
	}
	defer rpc.GracefulStop()
	wg.Add(1)
	go func() {
		defer wg.Done()
		backend.WatchSession(ctx, health, session, 200*time.Millisecond)
	}()

	srv := api.NewServer(session, api.Options{
		Decode:        imgproc.DecodeImage,
		EncodeOverlay: renderOverlayJPEG,
		CanvasWidth:   config.Canvas.Width,
		CanvasHeight:  config.Canvas.Height,
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HTTPPort),
		Handler: srv.Router(),
	}
	go func() {
		logger.Log().Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	select {
	case <-session.Done():
		logger.Log().Info("alarm handled, shutting down")
	case <-ctx.Done():
		logger.Log().Info("signal received, shutting down")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	wg.Wait()
	logger.Log().Info("Safely exited")
}
