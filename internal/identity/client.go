package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/domain"
)

// ErrInvalidToken 表示身份服务明确判定令牌无效。
var ErrInvalidToken = errors.New("identity: invalid token")

// Client 封装对身份服务的 HTTP 调用。
//
// 身份服务是唯一的账号来源：令牌校验与地址到用户的解析都走它。
// 网络错误与服务端错误统一向上返回，由调用方决定降级策略。
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New 创建身份服务客户端。
func New(cfg *config.IdentityConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
	User  struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"user"`
}

// VerifyToken 校验会话令牌并返回对应用户。
//
// 令牌无效返回 ErrInvalidToken；网络或服务端错误原样返回，
// 调用方不应把这两类失败混为一谈。
func (c *Client) VerifyToken(ctx context.Context, token string) (*domain.User, error) {
	var resp verifyResponse
	if err := c.post(ctx, "/api/verify", verifyRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	if !resp.Valid {
		return nil, ErrInvalidToken
	}
	return &domain.User{
		ID:        resp.User.ID,
		Email:     resp.User.Email,
		FirstName: resp.User.FirstName,
		LastName:  resp.User.LastName,
	}, nil
}

type findUserRequest struct {
	Email string `json:"email"`
}

type findUserResponse struct {
	Found bool `json:"found"`
	User  struct {
		ID string `json:"id"`
	} `json:"user"`
}

// FindUserByEmail 按地址解析注册用户。
//
// 地址未注册不是错误：返回 ("", nil)，投递流程据此降级为仅保存发件副本。
func (c *Client) FindUserByEmail(ctx context.Context, email string) (string, error) {
	var resp findUserResponse
	if err := c.post(ctx, "/api/find-user", findUserRequest{Email: email}, &resp); err != nil {
		return "", err
	}
	if !resp.Found {
		return "", nil
	}
	return resp.User.ID, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("identity: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("identity: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("identity service returned non-200",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity: failed to decode response: %w", err)
	}
	return nil
}
