package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roxmail/backend/internal/config"
)

// ErrTokenNotRegistered 表示推送网关明确报告设备令牌已失效。
//
// 只有这个错误会触发设备注册的自愈删除；超时、网络错误等
// 瞬时失败不会。
var ErrTokenNotRegistered = errors.New("push: token not registered")

// ErrGatewayDisabled 表示未配置推送网关地址。
var ErrGatewayDisabled = errors.New("push: gateway not configured")

// 网关返回的两种永久失效错误码
const (
	codeNotRegistered = "not-registered"
	codeInvalidToken  = "invalid-registration-token"
)

// AndroidHints 是 Android 端的展示参数，随消息透传给网关。
type AndroidHints struct {
	Priority    string `json:"priority,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	Sound       string `json:"sound,omitempty"`
	ClickAction string `json:"clickAction,omitempty"`
}

// WebpushHints 是浏览器端的展示参数。
type WebpushHints struct {
	Icon               string `json:"icon,omitempty"`
	Badge              string `json:"badge,omitempty"`
	Tag                string `json:"tag,omitempty"`
	RequireInteraction bool   `json:"requireInteraction,omitempty"`
	Link               string `json:"link,omitempty"`
}

// Message 是一次推送的内容。
type Message struct {
	Token   string            `json:"token"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
	Android *AndroidHints     `json:"android,omitempty"`
	Webpush *WebpushHints     `json:"webpush,omitempty"`
}

// DefaultAndroidHints 返回邮件通知在 Android 端的默认展示参数。
func DefaultAndroidHints() *AndroidHints {
	return &AndroidHints{
		Priority:    "high",
		Icon:        "logo",
		Color:       "#1a73e8",
		Sound:       "default",
		ClickAction: "FLUTTER_NOTIFICATION_CLICK",
	}
}

// DefaultWebpushHints 返回邮件通知在浏览器端的默认展示参数。
func DefaultWebpushHints() *WebpushHints {
	return &WebpushHints{
		Icon:               "/static/images/logo.png",
		Badge:              "/static/images/logo.png",
		Tag:                "roxli-mail",
		RequireInteraction: true,
		Link:               "https://mail.roxli.in",
	}
}

// Client 封装推送网关调用，带进程内限速。
//
// 限速器保护网关侧的配额：分发风暴时请求在本地排队而不是被网关拒绝。
type Client struct {
	gatewayURL string
	http       *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// New 创建推送客户端。GatewayURL 为空时所有推送返回 ErrGatewayDisabled。
func New(cfg *config.PushConfig, log *zap.Logger) *Client {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		gatewayURL: cfg.GatewayURL,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.RateLimit),
		log:        log,
	}
}

type gatewayResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Send 向单个设备令牌推送一条消息。
//
// 令牌永久失效映射为 ErrTokenNotRegistered，其余失败原样返回。
func (c *Client) Send(ctx context.Context, msg *Message) error {
	if c.gatewayURL == "" {
		return ErrGatewayDisabled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push: rate limiter wait: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("push: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("push: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push: request failed: %w", err)
	}
	defer resp.Body.Close()

	var gw gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return fmt.Errorf("push: failed to decode response: %w", err)
	}
	if gw.Success {
		return nil
	}

	switch gw.Error {
	case codeNotRegistered, codeInvalidToken:
		return ErrTokenNotRegistered
	default:
		c.log.Warn("push gateway rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("error", gw.Error),
		)
		return fmt.Errorf("push: gateway error: %s", gw.Error)
	}
}
