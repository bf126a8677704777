package alarm

import (
	"TrackAlarm/logger"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type snoozeRequest struct {
	Minutes   int   `json:"minutes"`
	TimeStamp int64 `json:"timestamp"`
}

type actionResponse struct {
	Id      int    `json:"id"`
	Success bool   `json:"success"`
	State   string `json:"state"`
}

// Client talks to a remote alarm service over HTTP. A 404 means the alarm
// is already gone and is treated as success.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(TimeOutSeconds*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

func (c *Client) Dismiss(ctx context.Context, alarmID int) error {
	var respBody actionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", fmt.Sprint(alarmID)).
		SetResult(&respBody).
		Post("/api/alarms/{id}/dismiss")
	return c.check("dismiss", alarmID, resp, err)
}

func (c *Client) Snooze(ctx context.Context, alarmID int, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSnooze, minutes)
	}
	var respBody actionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", fmt.Sprint(alarmID)).
		SetBody(snoozeRequest{Minutes: minutes, TimeStamp: time.Now().Unix()}).
		SetResult(&respBody).
		Post("/api/alarms/{id}/snooze")
	return c.check("snooze", alarmID, resp, err)
}

func (c *Client) check(action string, alarmID int, resp *resty.Response, err error) error {
	if err != nil {
		logger.Log().Error("alarm request failed", zap.String("action", action), zap.Int("alarmID", alarmID), zap.Error(err))
		return fmt.Errorf("alarm %s %d: %w", action, alarmID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		logger.Log().Debug("alarm not found, nothing to do", zap.String("action", action), zap.Int("alarmID", alarmID))
		return nil
	}
	if resp.IsError() {
		logger.Log().Error("alarm service returned error",
			zap.String("action", action),
			zap.String("status", resp.Status()),
			zap.String("body", resp.String()))
		return fmt.Errorf("alarm %s %d: server returned %s", action, alarmID, resp.Status())
	}
	return nil
}
