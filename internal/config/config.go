package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailConfig 定义邮件投递的核心业务配置
type MailConfig struct {
	HourlySendLimit  int    // 单用户每小时最大发信数，默认 100
	SystemSender     string // 系统邮件（欢迎邮件等）的发件地址
	SystemSenderName string // 系统邮件的发件人名称
}

// IdentityConfig 定义外部身份服务的访问配置
type IdentityConfig struct {
	BaseURL string        // 身份服务地址，如 "https://auth.roxmail.in"
	Timeout time.Duration // 单次调用超时，默认 5 秒
}

// PushConfig 定义推送网关的访问配置
type PushConfig struct {
	GatewayURL string        // 推送网关地址
	Timeout    time.Duration // 单次推送调用超时，默认 5 秒
	RateLimit  int           // 每秒最大外发推送数，默认 50
}

// SessionConfig 定义会话令牌相关配置
type SessionConfig struct {
	CookieName string        // 承载令牌的 Cookie 名称
	CacheTTL   time.Duration // 令牌校验结果的缓存时长，默认 5 分钟
	TokenTTL   time.Duration // 会话 Cookie 的有效期，默认 60 天
}

// SMTPConfig 定义 SMTP 入站服务器的配置
type SMTPConfig struct {
	BindAddr     string   // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain       string   // SMTP 服务器域名，用于 HELO/EHLO 响应
	LocalDomains []string // 接受入站投递的本地域名列表
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义 SQL 存储后端的连接配置（PostgreSQL）
type DatabaseConfig struct {
	DSN             string        // 数据库连接字符串，留空表示不启用 SQL 后端
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 存储后端配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // HTTP 服务器配置
	Mail     MailConfig     // 邮件投递配置
	Identity IdentityConfig // 身份服务配置
	Push     PushConfig     // 推送网关配置
	Session  SessionConfig  // 会话配置
	SMTP     SMTPConfig     // SMTP 入站配置
	CORS     CORSConfig     // 跨域配置
	Log      LogConfig      // 日志配置
	Database DatabaseConfig // SQL 存储配置
	Redis    RedisConfig    // Redis 存储配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: ROXMAIL_
// 例如: ROXMAIL_SERVER_HOST, ROXMAIL_IDENTITY_BASE_URL
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("roxmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mail.hourly_send_limit", 100)
	viper.SetDefault("mail.system_sender", "team@roxmail.in")
	viper.SetDefault("mail.system_sender_name", "Roxmail Team")
	viper.SetDefault("identity.base_url", "https://auth.roxmail.in")
	viper.SetDefault("identity.timeout", "5s")
	viper.SetDefault("push.gateway_url", "")
	viper.SetDefault("push.timeout", "5s")
	viper.SetDefault("push.rate_limit", 50)
	viper.SetDefault("session.cookie_name", "roxli_token")
	viper.SetDefault("session.cache_ttl", "5m")
	viper.SetDefault("session.token_ttl", "1440h")
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "roxmail.in")
	viper.SetDefault("smtp.local_domains", "roxmail.in")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.dsn", "") // 默认为空，不启用 SQL 后端
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	hourlyLimit := viper.GetInt("mail.hourly_send_limit")
	if hourlyLimit <= 0 {
		return nil, fmt.Errorf("mail.hourly_send_limit must be positive")
	}

	identityBase := strings.TrimRight(viper.GetString("identity.base_url"), "/")
	if identityBase == "" {
		return nil, fmt.Errorf("identity.base_url must not be empty")
	}

	identityTimeout, err := time.ParseDuration(viper.GetString("identity.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid identity.timeout: %w", err)
	}

	pushTimeout, err := time.ParseDuration(viper.GetString("push.timeout"))
	if err != nil {
		pushTimeout = 5 * time.Second
	}

	pushRate := viper.GetInt("push.rate_limit")
	if pushRate <= 0 {
		pushRate = 50
	}

	cacheTTL, err := time.ParseDuration(viper.GetString("session.cache_ttl"))
	if err != nil {
		cacheTTL = 5 * time.Minute
	}

	tokenTTL, err := time.ParseDuration(viper.GetString("session.token_ttl"))
	if err != nil {
		tokenTTL = 1440 * time.Hour
	}

	localDomains := parseDomains(viper.GetString("smtp.local_domains"))
	if len(localDomains) == 0 {
		return nil, fmt.Errorf("smtp.local_domains must not be empty")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mail: MailConfig{
			HourlySendLimit:  hourlyLimit,
			SystemSender:     viper.GetString("mail.system_sender"),
			SystemSenderName: viper.GetString("mail.system_sender_name"),
		},
		Identity: IdentityConfig{
			BaseURL: identityBase,
			Timeout: identityTimeout,
		},
		Push: PushConfig{
			GatewayURL: viper.GetString("push.gateway_url"),
			Timeout:    pushTimeout,
			RateLimit:  pushRate,
		},
		Session: SessionConfig{
			CookieName: viper.GetString("session.cookie_name"),
			CacheTTL:   cacheTTL,
			TokenTTL:   tokenTTL,
		},
		SMTP: SMTPConfig{
			BindAddr:     viper.GetString("smtp.bind_addr"),
			Domain:       viper.GetString("smtp.domain"),
			LocalDomains: localDomains,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env（从 backend/ 目录运行时）
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
