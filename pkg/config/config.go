package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL 交易演示服务的默认地址
	DefaultBaseURL = "http://localhost:5000/api"
	// DefaultPollInterval 数据同步周期（固定 30 秒）
	DefaultPollInterval = 30 * time.Second
	// DefaultRequestTimeout 单个请求超时
	DefaultRequestTimeout = 10 * time.Second
)

// APIConfig 远端服务配置
type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	UserAgent      string
}

// AccountConfig 登录凭据（仅 run 子命令使用，可为空）
type AccountConfig struct {
	Email    string
	Password string
}

// VaultConfig 凭证持久化配置（Badger），Path 为空表示不持久化、每次启动都是未登录状态
type VaultConfig struct {
	Path          string
	EncryptionKey string        // 32 字节 hex/base64，可选
	CredentialTTL time.Duration // 保存的凭证过期时间，0 表示不过期
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 应用配置
type Config struct {
	API          APIConfig
	Account      AccountConfig
	Vault        VaultConfig
	PollInterval time.Duration // 同步周期，默认 30 秒
	JournalPath  string        // 交易审计日志 SQLite 路径（为空则不记录）
	StatusListen string        // 本地状态 API 监听地址（为空则不启动）
	Log          LogConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	API struct {
		BaseURL               string `yaml:"base_url" json:"base_url"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
		UserAgent             string `yaml:"user_agent" json:"user_agent"`
	} `yaml:"api" json:"api"`
	Account struct {
		Email    string `yaml:"email" json:"email"`
		Password string `yaml:"password" json:"password"`
	} `yaml:"account" json:"account"`
	Vault struct {
		Path          string `yaml:"path" json:"path"`
		EncryptionKey      string `yaml:"encryption_key" json:"encryption_key"`
		CredentialTTLHours int    `yaml:"credential_ttl_hours" json:"credential_ttl_hours"`
	} `yaml:"vault" json:"vault"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	JournalPath         string `yaml:"journal_path" json:"journal_path"`
	StatusListen        string `yaml:"status_listen" json:"status_listen"`
	Log                 struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   *bool  `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			RequestTimeout: DefaultRequestTimeout,
			UserAgent:      "tradedesk/1.0",
		},
		Vault:        VaultConfig{CredentialTTL: 30 * 24 * time.Hour},
		PollInterval: DefaultPollInterval,
		JournalPath:  "data/journal.db",
		Log: LogConfig{
			Level:      "info",
			File:       "logs/tradedesk.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// LoadFromFile 从指定文件加载配置（filePath 为空则只用默认值 + 环境变量）
// 优先级：环境变量 > 配置文件 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cfg.applyFile(cf)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(cf *ConfigFile) {
	if cf.API.BaseURL != "" {
		c.API.BaseURL = cf.API.BaseURL
	}
	if cf.API.RequestTimeoutSeconds > 0 {
		c.API.RequestTimeout = time.Duration(cf.API.RequestTimeoutSeconds) * time.Second
	}
	if cf.API.UserAgent != "" {
		c.API.UserAgent = cf.API.UserAgent
	}
	if cf.Account.Email != "" {
		c.Account.Email = cf.Account.Email
	}
	if cf.Account.Password != "" {
		c.Account.Password = cf.Account.Password
	}
	if cf.Vault.Path != "" {
		c.Vault.Path = cf.Vault.Path
	}
	if cf.Vault.EncryptionKey != "" {
		c.Vault.EncryptionKey = cf.Vault.EncryptionKey
	}
	if cf.Vault.CredentialTTLHours > 0 {
		c.Vault.CredentialTTL = time.Duration(cf.Vault.CredentialTTLHours) * time.Hour
	}
	if cf.PollIntervalSeconds > 0 {
		c.PollInterval = time.Duration(cf.PollIntervalSeconds) * time.Second
	}
	if cf.JournalPath != "" {
		c.JournalPath = cf.JournalPath
	}
	if cf.StatusListen != "" {
		c.StatusListen = cf.StatusListen
	}
	if cf.Log.Level != "" {
		c.Log.Level = cf.Log.Level
	}
	if cf.Log.File != "" {
		c.Log.File = cf.Log.File
	}
	if cf.Log.MaxSize > 0 {
		c.Log.MaxSize = cf.Log.MaxSize
	}
	if cf.Log.MaxBackups > 0 {
		c.Log.MaxBackups = cf.Log.MaxBackups
	}
	if cf.Log.MaxAge > 0 {
		c.Log.MaxAge = cf.Log.MaxAge
	}
	if cf.Log.Compress != nil {
		c.Log.Compress = *cf.Log.Compress
	}
}

func (c *Config) applyEnv() {
	c.API.BaseURL = getEnv("TRADEDESK_API_URL", c.API.BaseURL)
	c.API.RequestTimeout = parseSecondsEnv("TRADEDESK_REQUEST_TIMEOUT", c.API.RequestTimeout)
	c.Account.Email = getEnv("TRADEDESK_EMAIL", c.Account.Email)
	c.Account.Password = getEnv("TRADEDESK_PASSWORD", c.Account.Password)
	c.Vault.Path = getEnv("TRADEDESK_VAULT_PATH", c.Vault.Path)
	c.Vault.EncryptionKey = getEnv("TRADEDESK_VAULT_KEY", c.Vault.EncryptionKey)
	c.PollInterval = parseSecondsEnv("TRADEDESK_POLL_INTERVAL", c.PollInterval)
	c.JournalPath = getEnv("TRADEDESK_JOURNAL", c.JournalPath)
	c.StatusListen = getEnv("TRADEDESK_STATUS_LISTEN", c.StatusListen)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url 未配置")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url 不是合法 URL: %q", c.API.BaseURL)
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout_seconds 必须大于 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval_seconds 必须大于 0")
	}
	if (c.Account.Email == "") != (c.Account.Password == "") {
		return fmt.Errorf("account.email 与 account.password 必须同时配置")
	}
	return nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseSecondsEnv 解析以秒为单位的整数环境变量
func parseSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return time.Duration(parsed) * time.Second
}
