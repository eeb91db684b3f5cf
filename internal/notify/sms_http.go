package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPSMSSender sends SMS through a provider's REST API with bearer auth and
// bounded retries on transient failures.
type HTTPSMSSender struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

type SMSConfig struct {
	BaseURL    string
	APIKey     string
	From       string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// NewHTTPSMSSender creates the SMS adapter. Returns nil when no API key is
// configured.
func NewHTTPSMSSender(cfg SMSConfig, logger *zap.Logger) *HTTPSMSSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &HTTPSMSSender{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     logger,
	}
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponse struct {
	ID string `json:"id"`
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(smsRequest{From: s.from, To: to, Body: body})
	if err != nil {
		return "", fmt.Errorf("marshal sms request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}

		id, retryable, err := s.sendOnce(ctx, payload)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		s.logger.Warn("sms send retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return "", lastErr
}

func (s *HTTPSMSSender) sendOnce(ctx context.Context, payload []byte) (id string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("sms request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", true, fmt.Errorf("read sms response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out smsResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			// Delivered even if the body is unparseable.
			return "", false, nil
		}
		return out.ID, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, fmt.Errorf("sms gateway status %d", resp.StatusCode)
	default:
		return "", false, fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ SMSSender = (*HTTPSMSSender)(nil)
