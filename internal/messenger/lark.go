package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	tokenPath   = "/open-apis/auth/v3/tenant_access_token/internal"
	messagePath = "/open-apis/im/v1/messages"

	defaultMaxAttempts = 3
	defaultMaxElapsed  = 10 * time.Second
	// refresh the tenant token this long before the platform expires it
	tokenSlack = 5 * time.Minute
)

// Platform codes meaning the tenant token is no longer accepted.
var tokenExpiredCodes = map[int]bool{99991661: true, 99991663: true, 99991668: true}

type LarkConfig struct {
	BaseURL       string
	AppID         string
	AppSecret     string
	ReceiveIDType string
	HTTPClient    *http.Client
	Logger        zerolog.Logger
	MaxAttempts   int
	MaxElapsed    time.Duration
}

// Lark sends messages through the Lark/Larksuite open API.
type Lark struct {
	cfg LarkConfig
	Now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewLark(cfg LarkConfig) *Lark {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ReceiveIDType == "" {
		cfg.ReceiveIDType = "open_id"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultMaxElapsed
	}
	return &Lark{cfg: cfg, Now: time.Now}
}

// APIError is a non-zero code in a platform response.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api: status %d code %d: %s", e.Status, e.Code, e.Msg)
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500 || tokenExpiredCodes[e.Code]
}

func (l *Lark) Send(ctx context.Context, to string, msg Message) error {
	q := url.Values{"receive_id_type": {l.cfg.ReceiveIDType}}
	return l.post(ctx, messagePath+"?"+q.Encode(), to, msg)
}

func (l *Lark) Reply(ctx context.Context, messageID string, msg Message) error {
	return l.post(ctx, messagePath+"/"+url.PathEscape(messageID)+"/reply", "", msg)
}

type messageBody struct {
	ReceiveID string `json:"receive_id,omitempty"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
	UUID      string `json:"uuid"`
}

func (l *Lark) post(ctx context.Context, path, receiveID string, msg Message) error {
	msgType, content, err := encodeContent(msg)
	if err != nil {
		return err
	}
	// one idempotency key for every attempt of this message
	body, err := json.Marshal(messageBody{ReceiveID: receiveID, MsgType: msgType, Content: content, UUID: uuid.NewString()})
	if err != nil {
		return err
	}
	attempt := 0
	op := func() error {
		attempt++
		token, err := l.tenantToken(ctx)
		if err != nil {
			return err
		}
		err = l.do(ctx, path, token, body, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if tokenExpiredCodes[apiErr.Code] {
				l.dropToken(token)
			}
			if !apiErr.retryable() {
				return backoff.Permanent(err)
			}
		}
		if err != nil {
			l.cfg.Logger.Debug().Err(err).Int("attempt", attempt).Str("path", path).Msg("lark send attempt failed")
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = l.cfg.MaxElapsed
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(l.cfg.MaxAttempts-1)), ctx))
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (l *Lark) do(ctx context.Context, path, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := l.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if res.StatusCode >= 300 {
			return &APIError{Status: res.StatusCode, Code: -1, Msg: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("decode lark response: %w", err)
	}
	if res.StatusCode >= 300 || env.Code != 0 {
		return &APIError{Status: res.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

type tokenResponse struct {
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

func (l *Lark) tenantToken(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()
	if l.token != "" && now.Before(l.expires) {
		return l.token, nil
	}
	body, err := json.Marshal(map[string]string{"app_id": l.cfg.AppID, "app_secret": l.cfg.AppSecret})
	if err != nil {
		return "", err
	}
	var tr tokenResponse
	if err := l.do(ctx, tokenPath, "", body, &tr); err != nil {
		return "", fmt.Errorf("tenant token: %w", err)
	}
	if tr.TenantAccessToken == "" {
		return "", backoff.Permanent(errors.New("tenant token: empty token in response"))
	}
	l.token = tr.TenantAccessToken
	l.expires = now.Add(time.Duration(tr.Expire)*time.Second - tokenSlack)
	return l.token, nil
}

func (l *Lark) dropToken(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == token {
		l.token = ""
	}
}

// encodeContent picks msg_type and renders the content string the message
// API expects: a text object, or an interactive card when buttons are set.
func encodeContent(msg Message) (string, string, error) {
	if len(msg.Buttons) == 0 {
		data, err := json.Marshal(map[string]string{"text": msg.Text})
		return "text", string(data), err
	}
	actions := make([]map[string]any, 0, len(msg.Buttons))
	for i, b := range msg.Buttons {
		kind := "default"
		if i == 0 {
			kind = "primary"
		}
		actions = append(actions, map[string]any{
			"tag":   "button",
			"text":  map[string]string{"tag": "plain_text", "content": b.Label},
			"type":  kind,
			"value": map[string]string{"action": b.Value},
		})
	}
	card := map[string]any{
		"config": map[string]bool{"wide_screen_mode": true},
		"elements": []any{
			map[string]any{"tag": "div", "text": map[string]string{"tag": "lark_md", "content": msg.Text}},
			map[string]any{"tag": "action", "actions": actions},
		},
	}
	data, err := json.Marshal(card)
	return "interactive", string(data), err
}
