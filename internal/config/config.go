package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Mode         string `yaml:"mode"` // debug, release
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`

	/* 管理端事件流最大连接数，0 表示不限制 */
	WSMaxConnections int `yaml:"ws_max_connections"`

	/* CORS 跨域配置 */
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"` /* 允许的来源列表，["*"] 表示允许所有（仅开发环境） */
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type     string `yaml:"type"`     // 数据库类型: sqlite, mysql, postgres
	Host     string `yaml:"host"`     // 数据库主机
	Port     int    `yaml:"port"`     // 数据库端口
	User     string `yaml:"user"`     // 数据库用户名
	Password string `yaml:"password"` // 数据库密码
	DBName   string `yaml:"db_name"`  // 数据库名称
	SSLMode  string `yaml:"ssl_mode"` // SSL模式 (postgres)
	Charset  string `yaml:"charset"`  // 字符集 (mysql)

	/* SQLite 专用 */
	SQLitePath string `yaml:"sqlite_path"`

	/* 连接池 */
	MaxOpenConns int `yaml:"max_open_conns"` // 最大打开连接数
	MaxIdleConns int `yaml:"max_idle_conns"` // 最大空闲连接数

	/* 日志 */
	LogLevel string `yaml:"log_level"` // silent, error, warn, info
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
	MaxRetries   int    `yaml:"max_retries"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	TokenSecret   string `yaml:"token_secret"`   // 会话令牌签名密钥（为空则启动时自动生成并存入 Redis）
	AdminPassword string `yaml:"admin_password"` // 首次启动创建的管理员密码
}

/*
SessionConfig 会话配置
功能：控制会话有效期、缓存 TTL 和指纹校验开关
*/
type SessionConfig struct {
	Expiration         int  `yaml:"expiration"`          // 会话有效期（小时）
	CacheTTL           int  `yaml:"cache_ttl"`           // Redis 缓存影子副本 TTL（秒）
	ActivityTTL        int  `yaml:"activity_ttl"`        // 活动记录 TTL（秒）
	FingerprintEnabled bool `yaml:"fingerprint_enabled"` // 是否将令牌绑定到客户端指纹（UA+IP）
}

/*
RateLimitConfig 限流配置
功能：全局开关、管理员豁免和各端点类别的预设阈值。
预设为数据而非行为：算法相同，仅阈值不同。
*/
type RateLimitConfig struct {
	Enabled     bool                       `yaml:"enabled"`
	AdminBypass bool                       `yaml:"admin_bypass"` // 管理员角色是否豁免限流（不消耗配额）
	Presets     map[string]RateLimitPreset `yaml:"presets"`      // 按端点类别覆盖默认预设
}

/* RateLimitPreset 单个限流预设 */
type RateLimitPreset struct {
	MaxRequests int    `yaml:"max_requests"` // 窗口内最大请求数
	WindowMs    int    `yaml:"window_ms"`    // 滑动窗口时长（毫秒）
	KeyPrefix   string `yaml:"key_prefix"`   // Redis 键前缀
}

/* Window 返回预设的窗口时长 */
func (p RateLimitPreset) Window() time.Duration {
	return time.Duration(p.WindowMs) * time.Millisecond
}

/*
BreakerConfig 熔断器默认配置
功能：未显式传参时使用的熔断阈值
*/
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"` // 连续失败多少次后打开
	ResetTimeoutMs   int `yaml:"reset_timeout_ms"`  // 打开后多久允许半开试探（毫秒）
	HalfOpenRequests int `yaml:"half_open_requests"` // 半开状态允许的试探请求数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputPath string `yaml:"output_path"` // 日志文件路径
	MaxSize    int    `yaml:"max_size"`    // 单个日志文件大小(MB)
	MaxBackups int    `yaml:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age"`     // 保留天数
	Compress   bool   `yaml:"compress"`    // 是否压缩
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.warnInsecureDefaults()
	return config, nil
}

/*
warnInsecureDefaults 检查生产环境下是否使用了不安全的默认值
功能：在 release 模式下对默认管理员密码、过短的令牌密钥输出警告，
提醒运维人员及时修改，避免上线后被利用。
*/
func (c *Config) warnInsecureDefaults() {
	if c.Server.Mode != "release" {
		return
	}

	if c.Auth.TokenSecret != "" && len(c.Auth.TokenSecret) < 32 {
		fmt.Println("[SECURITY WARNING] 生产环境使用了过短的令牌密钥，请配置至少 32 字节的 auth.token_secret")
	}
	if c.Auth.AdminPassword == "admin123" {
		fmt.Println("[SECURITY WARNING] 生产环境使用了默认管理员密码 'admin123'，请立即修改 auth.admin_password")
	}
	for _, o := range c.Server.CORSAllowedOrigins {
		if o == "*" {
			fmt.Println("[SECURITY WARNING] 生产环境 CORS 允许所有来源（*），请配置具体域名白名单 server.cors_allowed_origins")
			break
		}
	}
}

// LoadConfigOrDefault 加载配置或使用默认值
func LoadConfigOrDefault(path string) *Config {
	if path == "" {
		return DefaultConfig()
	}

	config, err := LoadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v, using defaults\n", err)
		return DefaultConfig()
	}

	return config
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			Mode:               "debug",
			ReadTimeout:        30,
			WriteTimeout:       30,
			WSMaxConnections:   100,
			CORSAllowedOrigins: []string{"*"}, /* 开发模式默认允许所有，生产环境应改为具体域名 */
		},
		Database: DatabaseConfig{
			Type:         "sqlite",
			SQLitePath:   "./data/flowdeck.db",
			Host:         "localhost",
			Port:         5432,
			User:         "flowdeck",
			Password:     "",
			DBName:       "flowdeck",
			SSLMode:      "disable",
			Charset:      "utf8mb4",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			LogLevel:     "warn",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Password:     "",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 3,
			MaxRetries:   3,
		},
		Auth: AuthConfig{
			TokenSecret:   "",
			AdminPassword: "admin123",
		},
		Session: SessionConfig{
			Expiration:         24,
			CacheTTL:           300,
			ActivityTTL:        1800,
			FingerprintEnabled: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			AdminBypass: false,
			Presets:     DefaultRateLimitPresets(),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeoutMs:   60000,
			HalfOpenRequests: 2,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "./logs/flowdeck.log",
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

/*
DefaultRateLimitPresets 各端点类别的默认限流预设
功能：AI 类端点最严格，只读端点最宽松，认证端点适中。
配置文件中的同名条目覆盖对应默认值。
*/
func DefaultRateLimitPresets() map[string]RateLimitPreset {
	return map[string]RateLimitPreset{
		"auth": {MaxRequests: 10, WindowMs: 900000, KeyPrefix: "rl:auth"},
		"api":  {MaxRequests: 100, WindowMs: 60000, KeyPrefix: "rl:api"},
		"read": {MaxRequests: 300, WindowMs: 60000, KeyPrefix: "rl:read"},
		"ai":   {MaxRequests: 10, WindowMs: 60000, KeyPrefix: "rl:ai"},
	}
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	/* 0600：仅所有者可读写，配置文件含敏感信息（密钥/密码） */
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
