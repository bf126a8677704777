package Adhoc

import (
	"TrackAlarm/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

// Status is what a session reports about itself on every heartbeat.
type Status struct {
	SessionID string `json:"id"`
	State     string `json:"state"`
	Frame     int64  `json:"frame"`
	Tracked   int    `json:"tracked"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Addr     string
	Port     int
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) url() string {
	return fmt.Sprintf("http://%s:%d/api/sessions/heartbeat", reg.Addr, reg.Port)
}

// SendAliveMessage posts the session status to the registration server
// until ctx is cancelled. Failures are logged and retried on the next tick.
func SendAliveMessage(ctx context.Context, wg *sync.WaitGroup, reg RegServerConfig, status func() Status) {
	defer wg.Done()
	interval := reg.Interval
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	url := reg.url()

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("heartbeat panic recovered", zap.Any("panic", r))
			}
		}()
		body := status()
		body.TimeStamp = time.Now().Unix()
		var respBody RegisterResponse
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			if ctx.Err() == nil {
				logger.Log().Warn("heartbeat request failed", zap.String("url", url), zap.Error(err))
			}
			return
		}
		if resp.IsError() {
			logger.Log().Warn("heartbeat rejected", zap.String("status", resp.Status()), zap.String("body", resp.String()))
		}
	}

	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
