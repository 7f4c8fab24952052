package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PixelBoard/pkg/logger"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "PIXELBOARD_CONFIG"
	// DefaultPath 是未设置环境变量时使用的配置文件。
	DefaultPath = "configs/pixelboard.json"
)

// Config 描述了 PixelBoard 服务端与智能体在启动阶段需要加载的全部配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Grid        GridConfig        `json:"grid"`
	Payment     PaymentConfig     `json:"payment"`
	Facilitator FacilitatorConfig `json:"facilitator"`
	Images      ImagesConfig      `json:"images"`
	Events      EventsConfig      `json:"events"`
	LLM         LLMConfig         `json:"llm"`
	Agent       AgentConfig       `json:"agent"`
	Storage     StorageConfig     `json:"storage"`
	Logging     logger.Config     `json:"logging"`
	Catalog     FileConfig        `json:"catalog"`
	Chains      FileConfig        `json:"chains"`
	Runtime     RuntimeConfig     `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
	// PublicURL 覆盖 402 响应中 resource 字段使用的外部地址。
	PublicURL string `json:"public_url"`
}

// GridConfig 描述网格尺寸与单价。
type GridConfig struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	UnitPriceUSD float64 `json:"unit_price_usd"`
}

// PaymentConfig 描述 x402 收款参数。
type PaymentConfig struct {
	Enabled           bool   `json:"enabled"`
	Network           string `json:"network"`
	PayTo             string `json:"pay_to"`
	Asset             string `json:"asset"`
	TokenName         string `json:"token_name"`
	TokenVersion      string `json:"token_version"`
	MaxTimeoutSeconds int    `json:"max_timeout_seconds"`
}

// FacilitatorConfig 描述远端 facilitator 服务，APIKey 从 api_key_env 指定的环境变量读取。
type FacilitatorConfig struct {
	URL            string `json:"url"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	APIKey         string `json:"-"`
}

// Timeout 返回请求超时时间。
func (c FacilitatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ImagesConfig 描述图片生成与存储。
type ImagesConfig struct {
	Generator          GeneratorConfig  `json:"generator"`
	Store              ImageStoreConfig `json:"store"`
	TimeoutSeconds     int              `json:"timeout_seconds"`
	RateLimitPerMinute float64          `json:"rate_limit_per_minute"`
	RateLimitBurst     int              `json:"rate_limit_burst"`
}

// Timeout 返回单次生成的超时时间。
func (c ImagesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GeneratorConfig 选择图片生成后端：openai、gemini 或 placeholder。
type GeneratorConfig struct {
	Provider  string `json:"provider"`
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"-"`
}

// ImageStoreConfig 选择图片存储：memory、redis 或 minio。
type ImageStoreConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
	Minio  MinioConfig `json:"minio"`
}

// RedisConfig 描述 Redis 连接，密码从 password_env 读取。
type RedisConfig struct {
	Address     string `json:"address"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Prefix      string `json:"prefix"`
	Channel     string `json:"channel"`
	TTLSeconds  int    `json:"ttl_seconds"`
	Password    string `json:"-"`
}

// TTL 返回键过期时间，0 表示不过期。
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MinioConfig 描述对象存储，访问密钥从环境变量读取。
type MinioConfig struct {
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	UseSSL       bool   `json:"use_ssl"`
	AccessKeyEnv string `json:"access_key_env"`
	SecretKeyEnv string `json:"secret_key_env"`
	AccessKey    string `json:"-"`
	SecretKey    string `json:"-"`
}

// EventsConfig 描述事件总线。memory 驱动始终启用，用于查看器的 SSE 推送。
type EventsConfig struct {
	Drivers  []string       `json:"drivers"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// Has 判断是否启用了指定驱动。
func (c EventsConfig) Has(driver string) bool {
	for _, d := range c.Drivers {
		if strings.EqualFold(strings.TrimSpace(d), driver) {
			return true
		}
	}
	return false
}

// RabbitMQConfig 描述 AMQP 连接，URL 可以来自 url_env。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	URLEnv  string `json:"url_env"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	APIKey         string `json:"-"`
}

// Timeout 返回 HTTP 超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// AgentConfig 描述决策智能体的运行参数。
type AgentConfig struct {
	APIURL            string  `json:"api_url"`
	IntervalSeconds   int     `json:"interval_seconds"`
	MaxSteps          int     `json:"max_steps"`
	LLMTimeoutSeconds int     `json:"llm_timeout_seconds"`
	Temperature       float64 `json:"temperature"`
	Owner             string  `json:"owner"`
	MaxPaymentAtomic  int64   `json:"max_payment_atomic"`
	Network           string  `json:"network"`
	PrivateKeyEnv     string  `json:"private_key_env"`
	RPCURL            string  `json:"rpc_url"`
	PrivateKey        string  `json:"-"`
}

// Interval 返回两轮之间的间隔。
func (c AgentConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LLMTimeout 返回单次推理的超时时间。
func (c AgentConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// StorageConfig 统一描述持久化后端。
type StorageConfig struct {
	Decisions DecisionStoreConfig `json:"decisions"`
}

// DecisionStoreConfig 选择决策日志的存储：memory（JSON 行文件）或 mysql。
type DecisionStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// FileConfig 指向一个辅助配置文件。
type FileConfig struct {
	Path string `json:"path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Resolve 按 PIXELBOARD_CONFIG 或默认路径加载配置。
func Resolve() (*Config, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigPath))
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。相对路径以配置文件所在目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Grid.Width <= 0 {
		c.Grid.Width = 1000
	}
	if c.Grid.Height <= 0 {
		c.Grid.Height = 1000
	}
	if c.Grid.UnitPriceUSD == 0 {
		c.Grid.UnitPriceUSD = 0.001
	}

	if c.Payment.Network == "" {
		c.Payment.Network = "base-sepolia"
	}
	if c.Payment.MaxTimeoutSeconds <= 0 {
		c.Payment.MaxTimeoutSeconds = 60
	}
	if c.Facilitator.URL == "" {
		c.Facilitator.URL = "https://x402.org/facilitator"
	}
	if c.Facilitator.TimeoutSeconds <= 0 {
		c.Facilitator.TimeoutSeconds = 15
	}

	if c.Images.Generator.Provider == "" {
		c.Images.Generator.Provider = "placeholder"
	}
	if c.Images.Store.Driver == "" {
		c.Images.Store.Driver = "memory"
	}
	if c.Images.Store.Redis.Prefix == "" {
		c.Images.Store.Redis.Prefix = "pixelboard:image:"
	}
	if c.Images.Store.Minio.Bucket == "" {
		c.Images.Store.Minio.Bucket = "pixelboard-images"
	}
	if c.Images.TimeoutSeconds <= 0 {
		c.Images.TimeoutSeconds = 120
	}
	if c.Images.RateLimitPerMinute <= 0 {
		c.Images.RateLimitPerMinute = 10
	}
	if c.Images.RateLimitBurst <= 0 {
		c.Images.RateLimitBurst = 3
	}

	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 64
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "pixelboard.events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "pixelboard.events"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.Agent.APIURL == "" {
		c.Agent.APIURL = "http://localhost:8080"
	}
	if c.Agent.IntervalSeconds <= 0 {
		c.Agent.IntervalSeconds = 60
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 16
	}
	if c.Agent.LLMTimeoutSeconds <= 0 {
		c.Agent.LLMTimeoutSeconds = 90
	}
	if c.Agent.Owner == "" {
		c.Agent.Owner = "pixel-agent"
	}
	if c.Agent.MaxPaymentAtomic <= 0 {
		c.Agent.MaxPaymentAtomic = 10_000_000
	}
	if c.Agent.Network == "" {
		c.Agent.Network = c.Payment.Network
	}
	if c.Agent.PrivateKeyEnv == "" {
		c.Agent.PrivateKeyEnv = "PIXELBOARD_WALLET_KEY"
	}

	if c.Storage.Decisions.Driver == "" {
		c.Storage.Decisions.Driver = "memory"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
	if c.Catalog.Path != "" {
		c.Catalog.Path = resolvePath(baseDir, c.Catalog.Path, "")
	}
	if c.Chains.Path != "" {
		c.Chains.Path = resolvePath(baseDir, c.Chains.Path, "")
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// resolveSecrets 从配置中声明的环境变量读取密钥，密钥本身不写入配置文件。
func (c *Config) resolveSecrets() {
	c.Facilitator.APIKey = env(c.Facilitator.APIKeyEnv)
	c.Images.Generator.APIKey = env(c.Images.Generator.APIKeyEnv)
	c.Images.Store.Redis.Password = env(c.Images.Store.Redis.PasswordEnv)
	c.Images.Store.Minio.AccessKey = env(c.Images.Store.Minio.AccessKeyEnv)
	c.Images.Store.Minio.SecretKey = env(c.Images.Store.Minio.SecretKeyEnv)
	c.Events.Redis.Password = env(c.Events.Redis.PasswordEnv)
	if url := env(c.Events.RabbitMQ.URLEnv); url != "" {
		c.Events.RabbitMQ.URL = url
	}
	c.LLM.OpenAI.APIKey = env(c.LLM.OpenAI.APIKeyEnv)
	c.Agent.PrivateKey = env(c.Agent.PrivateKeyEnv)
	if dsn := env(c.Storage.Decisions.DSNEnv); dsn != "" {
		c.Storage.Decisions.DSN = dsn
	}
}

// Validate 检查驱动名称与互相依赖的字段。
func (c *Config) Validate() error {
	var errs []error
	if c.Grid.UnitPriceUSD < 0 {
		errs = append(errs, errors.New("grid.unit_price_usd 不能为负数"))
	}
	if c.Payment.Enabled && strings.TrimSpace(c.Payment.PayTo) == "" {
		errs = append(errs, errors.New("payment.enabled 为 true 时必须配置 payment.pay_to"))
	}
	if !oneOf(c.Images.Generator.Provider, "placeholder", "openai", "gemini") {
		errs = append(errs, fmt.Errorf("未知的 images.generator.provider: %s", c.Images.Generator.Provider))
	}
	if !oneOf(c.Images.Store.Driver, "memory", "redis", "minio") {
		errs = append(errs, fmt.Errorf("未知的 images.store.driver: %s", c.Images.Store.Driver))
	}
	for _, d := range c.Events.Drivers {
		if !oneOf(d, "memory", "redis", "rabbitmq") {
			errs = append(errs, fmt.Errorf("未知的 events.drivers 项: %s", d))
		}
	}
	if !oneOf(c.LLM.Provider, "openai", "python_bridge") {
		errs = append(errs, fmt.Errorf("未知的 llm.provider: %s", c.LLM.Provider))
	}
	if !oneOf(c.Storage.Decisions.Driver, "memory", "mysql") {
		errs = append(errs, fmt.Errorf("未知的 storage.decisions.driver: %s", c.Storage.Decisions.Driver))
	}
	if strings.EqualFold(c.Storage.Decisions.Driver, "mysql") && c.Storage.Decisions.DSN == "" {
		errs = append(errs, errors.New("storage.decisions.driver 为 mysql 时必须提供 dsn 或 dsn_env"))
	}
	return errors.Join(errs...)
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

func env(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func oneOf(value string, options ...string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, o := range options {
		if value == o {
			return true
		}
	}
	return false
}
