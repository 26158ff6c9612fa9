package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// HTTPProvider 通过 HTTP API 投递邮件的提供方客户端
//
// 连接错误与 5xx 自动重试；4xx 不重试。投递方用
// {code:"sender_not_verified"} 报告发件身份未验证。
type HTTPProvider struct {
	endpoint string
	token    string
	client   *http.Client
	log      *zap.Logger
}

// leveledZap 把 retryablehttp 的分级日志适配到 zap，
// 重试导致的中间失败降为 WARN
type leveledZap struct {
	inner *zap.SugaredLogger
}

func (l leveledZap) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Infow(msg, keysAndValues...)
}

func (l leveledZap) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debugw(msg, keysAndValues...)
}

// NewHTTPProvider 创建 HTTP 投递客户端
func NewHTTPProvider(endpoint, token string, timeout time.Duration, log *zap.Logger) *HTTPProvider {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledZap{log.Sugar()})

	client := retryClient.StandardClient()
	client.Timeout = timeout

	return &HTTPProvider{
		endpoint: endpoint,
		token:    token,
		client:   client,
		log:      log,
	}
}

// providerResponse 投递方的错误响应体
type providerResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Send 提交一封出站邮件
func (p *HTTPProvider) Send(ctx context.Context, email *OutboundEmail) error {
	body, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("failed to encode outbound email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var pr providerResponse
	_ = json.Unmarshal(data, &pr)
	if pr.Code == "sender_not_verified" {
		return ErrSenderNotVerified
	}

	p.log.Error("delivery provider rejected send",
		zap.Int("status", resp.StatusCode),
		zap.String("code", pr.Code),
		zap.String("message", pr.Message),
	)
	return fmt.Errorf("delivery provider returned status %d", resp.StatusCode)
}
