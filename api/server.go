package api

import (
	"TrackAlarm/engine"
	"TrackAlarm/filter"
	iface "TrackAlarm/interface"
	"TrackAlarm/logger"
	"TrackAlarm/overlay"
	"TrackAlarm/tracker"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameBytes = 20 * 1024 * 1024

// Decoder turns an encoded image into pixels.
type Decoder func([]byte) (iface.ImageData, error)

// OverlayEncoder renders the overlay onto a blank canvas of the given size
// and returns it encoded as JPEG.
type OverlayEncoder func(r *overlay.Renderer, width, height int) ([]byte, error)

type Options struct {
	Decode        Decoder
	EncodeOverlay OverlayEncoder
	CanvasWidth   int
	CanvasHeight  int
	// MaxFrameBytes caps a POST /api/frames body, encoded or base64.
	MaxFrameBytes int64
	// StreamInterval is the period of /ws/tracked snapshots.
	StreamInterval time.Duration
}

type Server struct {
	session  *engine.Session
	opts     Options
	upgrader websocket.Upgrader
}

type frameRequest struct {
	Image string `json:"image"`
}

type trackedSnapshot struct {
	Session   string                  `json:"session"`
	State     string                  `json:"state"`
	Timestamp int64                   `json:"timestamp"`
	Objects   []tracker.TrackedObject `json:"objects"`
}

func NewServer(s *engine.Session, opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 100 * time.Millisecond
	}
	if opts.CanvasWidth <= 0 || opts.CanvasHeight <= 0 {
		opts.CanvasWidth, opts.CanvasHeight = 480, 640
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = maxFrameBytes
	}
	return &Server{
		session: s,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (srv *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/session", srv.getSession)
	r.POST("/api/frame/config", srv.postFrameConfig)
	r.POST("/api/frames", srv.postFrame)
	r.GET("/api/tracked", srv.getTracked)
	r.GET("/api/detections", srv.getDetections)
	r.GET("/api/overlay", srv.getOverlay)
	r.POST("/api/alarm/dismiss", srv.postDismiss)
	r.POST("/api/alarm/snooze", srv.postSnooze)
	r.GET("/ws/tracked", srv.streamTracked)
	return r
}

func (srv *Server) getSession(c *gin.Context) {
	st := srv.session.Stats()
	cfg := srv.session.Config()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":               srv.session.ID,
		"state":            engine.StateName(srv.session.State()),
		"frame":            st.Frame,
		"dropped":          st.Dropped,
		"lastProcessingMs": st.LastProcessing.Milliseconds(),
		"target":           cfg.TargetLabel,
		"minConfidence":    cfg.MinConfidence,
	}})
}

func (srv *Server) postFrameConfig(c *gin.Context) {
	var fc iface.FrameConfiguration
	if err := c.ShouldBindJSON(&fc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := srv.session.Configure(fc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fc})
}

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	return base64.StdEncoding.DecodeString(b64)
}

func (srv *Server) readFrame(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req frameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, err
		}
		return decodeBase64(req.Image)
	}
	return io.ReadAll(c.Request.Body)
}

func (srv *Server) postFrame(c *gin.Context) {
	if srv.opts.Decode == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "frame decoding not available"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, srv.opts.MaxFrameBytes)
	raw, err := srv.readFrame(c)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame: " + err.Error()})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty frame"})
		return
	}
	img, err := srv.opts.Decode(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image: " + err.Error()})
		return
	}
	accepted := srv.session.ProcessFrame(engine.Frame{Image: img})
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (srv *Server) snapshot() trackedSnapshot {
	t := srv.session.Tracker()
	return trackedSnapshot{
		Session:   srv.session.ID,
		State:     engine.StateName(srv.session.State()),
		Timestamp: t.Timestamp(),
		Objects:   t.TrackedObjects(),
	}
}

func (srv *Server) getTracked(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": srv.snapshot()})
}

// getDetections lists the debug rectangles of the last frame, best first.
func (srv *Server) getDetections(c *gin.Context) {
	rects := srv.session.Tracker().ScreenRects()
	recs := make([]iface.Recognition, len(rects))
	for i := range rects {
		loc := rects[i].Location
		recs[i] = iface.Recognition{ID: strconv.Itoa(i), Confidence: rects[i].Confidence, Location: &loc}
	}
	c.JSON(http.StatusOK, gin.H{"data": filter.Rank(recs)})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func (srv *Server) getOverlay(c *gin.Context) {
	if srv.opts.EncodeOverlay == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "overlay rendering not available"})
		return
	}
	w, err := queryInt(c, "width", srv.opts.CanvasWidth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h, err := queryInt(c, "height", srv.opts.CanvasHeight)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	buf, err := srv.opts.EncodeOverlay(srv.session.Renderer(), w, h)
	if err != nil {
		logger.Log().Error("overlay render failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", buf)
}

func (srv *Server) postDismiss(c *gin.Context) {
	if err := srv.session.Dismiss(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "Alarm dismissed"})
}

func (srv *Server) postSnooze(c *gin.Context) {
	if err := srv.session.Snooze(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "Alarm snoozed"})
}

// streamTracked pushes a tracked snapshot whenever the tracker moves to a new
// frame, and closes the socket once the session is done.
func (srv *Server) streamTracked(c *gin.Context) {
	conn, err := srv.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(srv.opts.StreamInterval)
	defer ticker.Stop()
	last := int64(-1)
	send := func() error {
		snap := srv.snapshot()
		if snap.Timestamp == last {
			return nil
		}
		last = snap.Timestamp
		return conn.WriteJSON(snap)
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-srv.session.Done():
			_ = send()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
			return
		case <-ticker.C:
			if err := send(); err != nil {
				logger.Log().Debug("tracked stream closed", zap.Error(err))
				return
			}
		}
	}
}
