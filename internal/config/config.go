package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"testinbox/backend/internal/domain"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// Addr 返回 host:port 形式的监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MailboxConfig 定义收件箱的核心业务配置
type MailboxConfig struct {
	Domain          string        // 生成地址使用的域名
	LocalPartPrefix string        // 生成地址的本地部分前缀，默认 "test-"
	TTL             time.Duration // 收件箱生存时间，0 表示不过期
	OrphanTTL       time.Duration // 无主邮件保留时间，0 表示不清理
	CleanupInterval time.Duration // 过期清理间隔
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string        // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Hostname        string        // 用于 EHLO 响应的主机名，默认与 Mailbox.Domain 相同
	ReadTimeout     time.Duration // 读超时，卡住的传输会被放弃
	WriteTimeout    time.Duration // 写超时
	MaxMessageBytes int64         // 单封邮件最大字节数
	MaxRecipients   int           // 单次传输最多接受的 RCPT 数量
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到标准输出
}

// RedisConfig 定义 Redis 事件发布配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，留空表示不启用
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Channel  string // 新邮件事件发布的频道
}

// Enabled 报告是否配置了 Redis
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// EnrichmentConfig 定义外部内容分析服务配置
type EnrichmentConfig struct {
	Endpoint      string        // 分析服务地址，留空表示不启用
	APIKey        string        // Bearer 认证密钥
	Timeout       time.Duration // 单次调用超时
	RatePerSecond float64       // 客户端限流
	Auto          bool          // 新邮件到达后自动分析
	Workers       int           // 自动分析的工作协程数
}

// Enabled 报告是否配置了分析服务
func (e EnrichmentConfig) Enabled() bool {
	return e.Endpoint != ""
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server     ServerConfig     // HTTP 服务器配置
	Mailbox    MailboxConfig    // 收件箱配置
	SMTP       SMTPConfig       // SMTP 服务配置
	CORS       CORSConfig       // 跨域配置
	Log        LogConfig        // 日志配置
	Redis      RedisConfig      // Redis 配置
	Enrichment EnrichmentConfig // 内容分析配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TESTINBOX_
// 例如: TESTINBOX_MAILBOX_DOMAIN, TESTINBOX_SMTP_BIND_ADDR
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("testinbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("mailbox.domain", "localhost.local")
	v.SetDefault("mailbox.local_part_prefix", "test-")
	v.SetDefault("mailbox.ttl", "24h")
	v.SetDefault("mailbox.orphan_ttl", "1h")
	v.SetDefault("mailbox.cleanup_interval", "5m")
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.hostname", "")
	v.SetDefault("smtp.read_timeout", "30s")
	v.SetDefault("smtp.write_timeout", "30s")
	v.SetDefault("smtp.max_message_bytes", 10<<20)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("redis.address", "") // 默认为空，不发布事件
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "testinbox:events")
	v.SetDefault("enrichment.endpoint", "")
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.timeout", "15s")
	v.SetDefault("enrichment.rate_per_second", 2)
	v.SetDefault("enrichment.auto", false)
	v.SetDefault("enrichment.workers", 4)

	validator := domain.NewEmailValidator()

	mailboxDomain := strings.ToLower(strings.TrimSpace(v.GetString("mailbox.domain")))
	if err := validator.ValidateDomain(mailboxDomain); err != nil {
		return nil, fmt.Errorf("invalid mailbox.domain %q: %w", mailboxDomain, err)
	}

	prefix := strings.TrimSpace(v.GetString("mailbox.local_part_prefix"))
	if err := validator.ValidateLocalPrefix(prefix); err != nil {
		return nil, fmt.Errorf("invalid mailbox.local_part_prefix %q: %w", prefix, err)
	}

	ttl, err := parseDuration(v, "mailbox.ttl")
	if err != nil {
		return nil, err
	}
	orphanTTL, err := parseDuration(v, "mailbox.orphan_ttl")
	if err != nil {
		return nil, err
	}
	cleanupInterval, err := parseDuration(v, "mailbox.cleanup_interval")
	if err != nil {
		return nil, err
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	readTimeout, err := parseDuration(v, "smtp.read_timeout")
	if err != nil {
		return nil, err
	}
	writeTimeout, err := parseDuration(v, "smtp.write_timeout")
	if err != nil {
		return nil, err
	}

	maxMessageBytes := v.GetInt64("smtp.max_message_bytes")
	if maxMessageBytes <= 0 {
		return nil, fmt.Errorf("smtp.max_message_bytes must be positive")
	}
	maxRecipients := v.GetInt("smtp.max_recipients")
	if maxRecipients <= 0 {
		maxRecipients = 50
	}

	hostname := strings.TrimSpace(v.GetString("smtp.hostname"))
	if hostname == "" {
		hostname = mailboxDomain
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	enrichTimeout, err := parseDuration(v, "enrichment.timeout")
	if err != nil {
		return nil, err
	}
	workers := v.GetInt("enrichment.workers")
	if workers <= 0 {
		workers = 1
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			Domain:          mailboxDomain,
			LocalPartPrefix: prefix,
			TTL:             ttl,
			OrphanTTL:       orphanTTL,
			CleanupInterval: cleanupInterval,
		},
		SMTP: SMTPConfig{
			BindAddr:        v.GetString("smtp.bind_addr"),
			Hostname:        hostname,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			MaxMessageBytes: maxMessageBytes,
			MaxRecipients:   maxRecipients,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Redis: RedisConfig{
			Address:  strings.TrimSpace(v.GetString("redis.address")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Enrichment: EnrichmentConfig{
			Endpoint:      strings.TrimSpace(v.GetString("enrichment.endpoint")),
			APIKey:        v.GetString("enrichment.api_key"),
			Timeout:       enrichTimeout,
			RatePerSecond: v.GetFloat64("enrichment.rate_per_second"),
			Auto:          v.GetBool("enrichment.auto"),
			Workers:       workers,
		},
	}

	return cfg, nil
}

// parseDuration 读取时长配置，负数视为错误
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
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
// 如果文件不存在则静默跳过；已存在的环境变量优先级更高，不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
