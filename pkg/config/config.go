package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDBName          = "book_crawler"
	DefaultBaseURL         = "https://books.toscrape.com/"
	DefaultListingPath     = "catalogue/page-%d.html"
	DefaultUserAgent       = "BookCrawler/1.0"
	DefaultTimeout         = 15 * time.Second
	DefaultWorkers         = 8
	DefaultDiscoveryWindow = 4
	DefaultCron            = "0 3 * * *"
	DefaultTimezone        = "UTC"
	DefaultAPIAddr         = ":8080"
	DefaultRateLimit       = 100
	DefaultSMTPPort        = 587
	DefaultLogLevel        = "info"
)

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Host       string `yaml:"host"`
	DBName     string `yaml:"dbname"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AuthSource string `yaml:"authSource"`
}

// ConnectionURI uri 优先，否则用 host 拼出来
func (m MongoConfig) ConnectionURI() string {
	if m.URI != "" {
		return m.URI
	}
	return "mongodb://" + m.Host
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

type CrawlerConfig struct {
	BaseURL         string        `yaml:"base_url"`
	ListingPath     string        `yaml:"listing_path"`
	UserAgent       string        `yaml:"user_agent"`
	Timeout         time.Duration `yaml:"timeout"`
	Workers         int           `yaml:"workers"`
	DiscoveryWindow int           `yaml:"discovery_window"`
	Retry           RetryConfig   `yaml:"retry"`
}

type SchedulerConfig struct {
	Cron       string `yaml:"cron"`
	Timezone   string `yaml:"timezone"`
	RunOnStart bool   `yaml:"run_on_start"`
}

type APIConfig struct {
	Addr             string   `yaml:"addr"`
	APIKeyHashes     []string `yaml:"api_key_hashes"`
	RateLimitPerHour int      `yaml:"rate_limit_per_hour"`
}

type AlertConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Enabled 发件所需的配置是否齐全
func (a AlertConfig) Enabled() bool {
	return a.SMTPHost != "" && a.From != "" && a.To != ""
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Mongo     MongoConfig     `yaml:"mongo"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Alert     AlertConfig     `yaml:"alert"`
	Log       LogConfig       `yaml:"log"`
}

// LoadConfig 先加载 .env，再读 YAML，补默认值，用环境变量覆盖，最后校验。
// path 为空或文件不存在时只使用默认值和环境变量。
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mongo.DBName == "" {
		c.Mongo.DBName = DefaultDBName
	}
	if c.Mongo.URI == "" && c.Mongo.Host == "" {
		c.Mongo.Host = "localhost:27017"
	}
	if c.Crawler.BaseURL == "" {
		c.Crawler.BaseURL = DefaultBaseURL
	}
	if c.Crawler.ListingPath == "" {
		c.Crawler.ListingPath = DefaultListingPath
	}
	if c.Crawler.UserAgent == "" {
		c.Crawler.UserAgent = DefaultUserAgent
	}
	if c.Crawler.Timeout <= 0 {
		c.Crawler.Timeout = DefaultTimeout
	}
	if c.Crawler.Workers <= 0 {
		c.Crawler.Workers = DefaultWorkers
	}
	if c.Crawler.DiscoveryWindow <= 0 {
		c.Crawler.DiscoveryWindow = DefaultDiscoveryWindow
	}
	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = DefaultCron
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = DefaultTimezone
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
	if c.API.RateLimitPerHour <= 0 {
		c.API.RateLimitPerHour = DefaultRateLimit
	}
	if c.Alert.SMTPPort == 0 {
		c.Alert.SMTPPort = DefaultSMTPPort
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// applyEnv 环境变量覆盖（与原部署的 .env 变量名一致）
func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("MONGODB_URI", &c.Mongo.URI)
	setString("MONGODB_DB_NAME", &c.Mongo.DBName)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("SMTP_HOST", &c.Alert.SMTPHost)
	setString("SMTP_USERNAME", &c.Alert.Username)
	setString("SMTP_PASSWORD", &c.Alert.Password)
	setString("ALERT_SENDER_EMAIL", &c.Alert.From)
	setString("ALERT_RECIPIENT_EMAIL", &c.Alert.To)

	if v := strings.TrimSpace(getenv("SMTP_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.Alert.SMTPPort = port
	}

	if v := getenv("VALID_API_KEY_HASHES"); v != "" {
		c.API.APIKeyHashes = SplitList(v)
	}
	return nil
}

// Validate 检查必须合法的字段
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("crawler.base_url %q is not an absolute http(s) url", c.Crawler.BaseURL))
	}
	if !strings.Contains(c.Crawler.ListingPath, "%d") {
		errs = append(errs, fmt.Errorf("crawler.listing_path %q must contain %%d", c.Crawler.ListingPath))
	}
	if r := c.Crawler.Retry; r.Jitter < 0 || r.Jitter > 1 {
		errs = append(errs, fmt.Errorf("crawler.retry.jitter %v must be within [0, 1]", r.Jitter))
	}
	if c.Alert.SMTPPort <= 0 || c.Alert.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("alert.smtp_port %d out of range", c.Alert.SMTPPort))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// SplitList 逗号分隔的列表，去掉空项
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
