package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dance-ticketing/internal/config"
	"dance-ticketing/internal/logger"
	"dance-ticketing/internal/metrics"
)

const pushPath = "/v2/bot/message/push"

// DeliveryError describes a failed push. It is only ever logged.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line push failed: %v", e.Err)
	}
	return fmt.Sprintf("line push failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// LineNotifier pushes balance change messages to a customer's LINE account.
type LineNotifier struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewLineNotifier(cfg config.LineConfig, client *http.Client, log *logger.Logger, m *metrics.Metrics) *LineNotifier {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &LineNotifier{
		token:   cfg.ChannelAccessToken,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  log,
		metrics: m,
	}
}

// BuildMessage renders the text sent for a balance change.
func BuildMessage(customerName string, changeAmount, newCount int) string {
	if changeAmount > 0 {
		return fmt.Sprintf("【チケット追加】\n%s様\nチケットを%d枚追加しました。\n残り: %d枚", customerName, changeAmount, newCount)
	}
	if changeAmount < 0 {
		changeAmount = -changeAmount
	}
	return fmt.Sprintf("【チケット使用】\n%s様\nチケットを%d枚使用しました。\n残り: %d枚", customerName, changeAmount, newCount)
}

// Notify sends one push message. Missing credentials or recipient are a
// silent skip; delivery failures are logged and swallowed.
func (n *LineNotifier) Notify(ctx context.Context, customerName, lineUserID string, changeAmount, newCount int) {
	if n.token == "" {
		n.logger.LogNotify("SKIP", "LINE_CHANNEL_ACCESS_TOKEN is not set. Skipping LINE notification.")
		n.metrics.NotificationOutcome("skipped")
		return
	}
	if lineUserID == "" {
		n.logger.LogNotify("SKIP", fmt.Sprintf("%s has no LINE user id. Skipping LINE notification.", customerName))
		n.metrics.NotificationOutcome("skipped")
		return
	}

	if err := n.push(ctx, lineUserID, BuildMessage(customerName, changeAmount, newCount)); err != nil {
		n.logger.Error("NOTIFY", err.Error())
		n.metrics.NotificationOutcome("failed")
		return
	}

	n.logger.LogNotify("SENT", fmt.Sprintf("Pushed balance change to %s", customerName))
	n.metrics.NotificationOutcome("sent")
}

func (n *LineNotifier) push(ctx context.Context, to, text string) error {
	body, err := json.Marshal(pushRequest{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return &DeliveryError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
