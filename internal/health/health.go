package health

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 暴露健康探测的依赖
type Pinger interface {
	Health() error
}

// Checker 聚合存活与就绪检查。
//
// 存活检查只看进程自身（协程数），就绪检查看外部依赖：
// 存储后端与身份服务。身份服务不可达时实例不应再接流量，
// 因为所有请求都需要令牌校验。
type Checker struct {
	handler healthcheck.Handler
	log     *zap.Logger
}

// NewChecker 创建健康检查器。
func NewChecker(store Pinger, identityBaseURL string, log *zap.Logger) *Checker {
	handler := healthcheck.NewHandler()

	handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(2000))

	handler.AddReadinessCheck("storage", func() error {
		return store.Health()
	})

	if host := hostOf(identityBaseURL); host != "" {
		handler.AddReadinessCheck("identity", healthcheck.TCPDialCheck(host, 3*time.Second))
	}

	return &Checker{handler: handler, log: log}
}

// Handler 返回 /live 与 /ready 的处理器
func (c *Checker) Handler() http.Handler {
	return c.handler
}

// Live 返回存活端点处理函数
func (c *Checker) Live() http.HandlerFunc {
	return c.handler.LiveEndpoint
}

// Ready 返回就绪端点处理函数
func (c *Checker) Ready() http.HandlerFunc {
	return c.handler.ReadyEndpoint
}

// hostOf 从基础 URL 提取 host:port
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(host, "443")
		default:
			host = net.JoinHostPort(host, "80")
		}
	}
	return host
}
