package imgproc

import (
	iface "TrackAlarm/interface"
	"TrackAlarm/logger"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	// NumDetections caps how many boxes one forward pass reports.
	NumDetections = 10
	// SSD rows are [batch, class, score, left, top, right, bottom].
	detectionStride = 7
)

var ErrModelNotLoaded = errors.New("model not loaded")

// ReadLabels reads one label per line. Blank lines inside the file keep
// their index, trailing ones are dropped.
func ReadLabels(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(strings.TrimRight(string(b), "\r\n"), "\n")
	for i := range raw {
		raw[i] = strings.TrimRight(raw[i], "\r")
	}
	return raw, nil
}

type DNNConfig struct {
	ModelPath  string
	ConfigPath string
	LabelsPath string
	InputSize  int
	// MinScore drops near-zero rows before they reach the filter.
	MinScore float32
	SwapRB   bool
}

// DNNClassifier runs an SSD-style detector through the OpenCV DNN module.
// Recognitions are reported in input-image pixels.
type DNNClassifier struct {
	mu     sync.Mutex
	cfg    DNNConfig
	net    gocv.Net
	labels []string
	loaded bool
}

func LoadDNNClassifier(cfg DNNConfig) (*DNNClassifier, error) {
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %d", cfg.InputSize)
	}
	labels, err := ReadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("cannot read network %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger.Log().Info("classifier loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("labels", len(labels)),
		zap.Int("inputSize", cfg.InputSize))
	return &DNNClassifier{cfg: cfg, net: net, labels: labels, loaded: true}, nil
}

func (d *DNNClassifier) label(class int) string {
	if class >= 0 && class < len(d.labels) && d.labels[class] != "" {
		return d.labels[class]
	}
	return "class_" + strconv.Itoa(class)
}

func (d *DNNClassifier) Recognize(img iface.ImageData) ([]iface.Recognition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil, ErrModelNotLoaded
	}

	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	size := image.Pt(d.cfg.InputSize, d.cfg.InputSize)
	blob := gocv.BlobFromImage(mat, 1.0/127.5, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), d.cfg.SwapRB, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	prob := d.net.Forward("")
	defer prob.Close()

	return d.parse(prob, float32(img.Width), float32(img.Height)), nil
}

func (d *DNNClassifier) parse(prob gocv.Mat, width, height float32) []iface.Recognition {
	var out []iface.Recognition
	for i := 0; i+detectionStride <= prob.Total() && len(out) < NumDetections; i += detectionStride {
		score := prob.GetFloatAt(0, i+2)
		if score < d.cfg.MinScore {
			continue
		}
		class := int(prob.GetFloatAt(0, i+1))
		loc := iface.Rect{
			Left:   prob.GetFloatAt(0, i+3) * width,
			Top:    prob.GetFloatAt(0, i+4) * height,
			Right:  prob.GetFloatAt(0, i+5) * width,
			Bottom: prob.GetFloatAt(0, i+6) * height,
		}
		out = append(out, iface.Recognition{
			ID:         strconv.Itoa(len(out)),
			Title:      d.label(class),
			Confidence: score,
			Location:   &loc,
		})
	}
	return out
}

func (d *DNNClassifier) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil
	}
	d.loaded = false
	return d.net.Close()
}
