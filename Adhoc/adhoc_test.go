package Adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAliveMessage(t *testing.T) {
	var beats atomic.Int32
	var mu sync.Mutex
	var last Status
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/heartbeat", r.URL.Path)
		var st Status
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&st)) {
			mu.Lock()
			last = st
			mu.Unlock()
		}
		beats.Add(1)
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: st.SessionID, Success: true})
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	reg := RegServerConfig{Interval: 10 * time.Millisecond}
	reg.SetAddress(host, port)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go SendAliveMessage(ctx, &wg, reg, func() Status {
		return Status{SessionID: "s1", State: "idle", Frame: 7, Tracked: 2}
	})

	require.Eventually(t, func() bool { return beats.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "s1", last.SessionID)
	assert.Equal(t, "idle", last.State)
	assert.Equal(t, int64(7), last.Frame)
	assert.Equal(t, 2, last.Tracked)
	assert.NotZero(t, last.TimeStamp)
}

func TestSendAliveMessage_ServerDown(t *testing.T) {
	reg := RegServerConfig{Interval: 5 * time.Millisecond}
	reg.SetAddress("127.0.0.1", 1)

	var calls atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	SendAliveMessage(ctx, &wg, reg, func() Status {
		calls.Add(1)
		return Status{}
	})
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
