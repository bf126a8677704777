package api

import (
	"TrackAlarm/engine"
	"TrackAlarm/geometry"
	iface "TrackAlarm/interface"
	"TrackAlarm/overlay"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubClassifier struct {
	results []iface.Recognition
}

func (s *stubClassifier) Recognize(iface.ImageData) ([]iface.Recognition, error) {
	return s.results, nil
}

func (s *stubClassifier) Close() error { return nil }

type stubCropper struct{}

func (stubCropper) Crop(frame iface.ImageData, _ geometry.Matrix, size int) (iface.ImageData, error) {
	return iface.ImageData{Data: make([]byte, size*size*3), Width: int32(size), Height: int32(size), Channels: 3}, nil
}

type stubAlarm struct {
	dismissed atomic.Int32
	snoozed   atomic.Int32
	fail      bool
}

func (a *stubAlarm) Dismiss(context.Context, int) error {
	if a.fail {
		return errors.New("alarm service unreachable")
	}
	a.dismissed.Add(1)
	return nil
}

func (a *stubAlarm) Snooze(context.Context, int, int) error {
	if a.fail {
		return errors.New("alarm service unreachable")
	}
	a.snoozed.Add(1)
	return nil
}

func rec(title string, conf float32, x, y, w, h float32) iface.Recognition {
	r := iface.NewRect(x, y, w, h)
	return iface.Recognition{ID: title, Title: title, Confidence: conf, Location: &r}
}

var decodeCalls atomic.Int32

func fakeDecode(b []byte) (iface.ImageData, error) {
	decodeCalls.Add(1)
	if string(b) != "jpeg-bytes" {
		return iface.ImageData{}, errors.New("not an image")
	}
	return iface.ImageData{Data: make([]byte, 640*480*3), Width: 640, Height: 480, Channels: 3}, nil
}

func fakeOverlay(r *overlay.Renderer, w, h int) ([]byte, error) {
	return []byte{0xFF, 0xD8, byte(w), byte(h)}, nil
}

func newTestServer(t *testing.T, cls *stubClassifier, a *stubAlarm) (*Server, *engine.Session) {
	s, err := engine.Open(engine.Config{TargetLabel: "toothbrush", MinConfidence: 0.65, AlarmID: 3}, engine.Deps{
		LoadClassifier: func() (iface.Classifier, error) { return cls, nil },
		Cropper:        stubCropper{},
		Alarm:          a,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewServer(s, Options{
		Decode:         fakeDecode,
		EncodeOverlay:  fakeOverlay,
		StreamInterval: 5 * time.Millisecond,
	}), s
}

func do(r http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t, &stubClassifier{}, &stubAlarm{})
	w := do(srv.Router(), http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestFrameConfig(t *testing.T) {
	srv, s := newTestServer(t, &stubClassifier{}, &stubAlarm{})
	r := srv.Router()

	w := do(r, http.MethodPost, "/api/frame/config", "application/json", []byte(`{"width":640,"height":480,"sensorOrientation":90}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(engine.IDLE), s.State())

	w = do(r, http.MethodPost, "/api/frame/config", "application/json", []byte(`{"width":640,"height":0}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/frame/config", "application/json", []byte(`{nope`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostFrame_TracksObjects(t *testing.T) {
	cls := &stubClassifier{results: []iface.Recognition{
		rec("person", 0.7, 10, 10, 100, 200),
		rec("cup", 0.9, 150, 150, 40, 40),
	}}
	srv, s := newTestServer(t, cls, &stubAlarm{})
	r := srv.Router()
	require.NoError(t, s.Configure(iface.FrameConfiguration{Width: 640, Height: 480}))

	w := do(r, http.MethodPost, "/api/frames", "image/jpeg", []byte("jpeg-bytes"))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())

	require.Eventually(t, func() bool { return s.Tracker().Timestamp() == 1 }, 2*time.Second, 5*time.Millisecond)

	w = do(r, http.MethodGet, "/api/tracked", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tracked struct {
		Data trackedSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracked))
	assert.Equal(t, s.ID, tracked.Data.Session)
	assert.Equal(t, int64(1), tracked.Data.Timestamp)
	require.Len(t, tracked.Data.Objects, 2)
	assert.Equal(t, "person", tracked.Data.Objects[0].Title)

	w = do(r, http.MethodGet, "/api/detections", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dets struct {
		Data []iface.Recognition `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dets))
	require.Len(t, dets.Data, 2)
	assert.Equal(t, float32(0.9), dets.Data[0].Confidence)
	assert.Equal(t, float32(0.7), dets.Data[1].Confidence)
}

func TestPostFrame_Base64(t *testing.T) {
	srv, _ := newTestServer(t, &stubClassifier{}, &stubAlarm{})
	r := srv.Router()

	body, _ := json.Marshal(frameRequest{Image: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))})
	w := do(r, http.MethodPost, "/api/frames", "application/json", body)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(r, http.MethodPost, "/api/frames", "application/json", []byte(`{"image":"%%%"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostFrame_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, &stubClassifier{}, &stubAlarm{})
	r := srv.Router()

	w := do(r, http.MethodPost, "/api/frames", "image/jpeg", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	before := decodeCalls.Load()
	w = do(r, http.MethodPost, "/api/frames", "image/jpeg", []byte("garbage"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid image")
	assert.Equal(t, before+1, decodeCalls.Load())
}

func TestPostFrame_TooLarge(t *testing.T) {
	_, s := newTestServer(t, &stubClassifier{}, &stubAlarm{})
	r := NewServer(s, Options{Decode: fakeDecode, MaxFrameBytes: 16}).Router()

	w := do(r, http.MethodPost, "/api/frames", "image/jpeg", []byte("jpeg-bytes"))
	assert.Equal(t, http.StatusAccepted, w.Code)

	before := decodeCalls.Load()
	w = do(r, http.MethodPost, "/api/frames", "image/jpeg", []byte("jpeg-bytes, but far too long"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "16 bytes")

	body, _ := json.Marshal(frameRequest{Image: base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))})
	w = do(r, http.MethodPost, "/api/frames", "application/json", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	// nothing truncated reaches the decoder
	assert.Equal(t, before, decodeCalls.Load())
}

func TestOverlay(t *testing.T) {
	srv, _ := newTestServer(t, &stubClassifier{}, &stubAlarm{})
	r := srv.Router()

	w := do(r, http.MethodGet, "/api/overlay?width=20&height=30", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8, 20, 30}, w.Body.Bytes())

	w = do(r, http.MethodGet, "/api/overlay?width=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverlay_NotConfigured(t *testing.T) {
	_, s := newTestServer(t, &stubClassifier{}, &stubAlarm{})
	bare := NewServer(s, Options{})
	w := do(bare.Router(), http.MethodGet, "/api/overlay", "", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	w = do(bare.Router(), http.MethodPost, "/api/frames", "image/jpeg", []byte("jpeg-bytes"))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAlarmEndpoints(t *testing.T) {
	a := &stubAlarm{}
	srv, s := newTestServer(t, &stubClassifier{}, a)
	r := srv.Router()

	w := do(r, http.MethodPost, "/api/alarm/snooze", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), a.snoozed.Load())
	assert.Equal(t, int32(engine.FINISHED), s.State())

	// session is over, both actions are no-ops
	w = do(r, http.MethodPost, "/api/alarm/dismiss", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(0), a.dismissed.Load())

	w = do(r, http.MethodGet, "/api/session", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"finished"`)
}

func TestAlarmEndpoints_Failure(t *testing.T) {
	srv, s := newTestServer(t, &stubClassifier{}, &stubAlarm{fail: true})
	w := do(srv.Router(), http.MethodPost, "/api/alarm/dismiss", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotEqual(t, int32(engine.FINISHED), s.State())
}

func TestStreamTracked(t *testing.T) {
	cls := &stubClassifier{results: []iface.Recognition{rec("toothbrush", 0.9, 100, 100, 50, 50)}}
	a := &stubAlarm{}
	srv, s := newTestServer(t, cls, a)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/tracked"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var first trackedSnapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, int64(0), first.Timestamp)
	assert.Empty(t, first.Objects)

	require.NoError(t, s.Configure(iface.FrameConfiguration{Width: 640, Height: 480, SensorOrientation: 90}))
	require.True(t, s.ProcessFrame(engine.Frame{Image: iface.ImageData{Data: make([]byte, 640*480*3), Width: 640, Height: 480, Channels: 3}}))

	var got trackedSnapshot
	for {
		var snap trackedSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
			break
		}
		got = snap
	}
	assert.Equal(t, int64(1), got.Timestamp)
	require.Len(t, got.Objects, 1)
	assert.Equal(t, "toothbrush", got.Objects[0].Title)
	assert.Equal(t, int32(1), a.dismissed.Load())
}
