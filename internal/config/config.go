package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "PromptForge-MCP/internal/errors"
)

// 与原始部署保持一致的默认值，便于零配置启动本地推理服务。
const (
	DefaultServerName   = "promptforge-mcp"
	DefaultAddress      = ":8321"
	DefaultProviderName = "local"
	DefaultAPIEndpoint  = "http://localhost:1234/v1"
	DefaultAPIKey       = "mykey"
	DefaultModel        = "qwen/qwen3-8b"
)

// Config 描述 promptforged 启动阶段需要加载的全部配置。
// 加载完成后即为只读快照，请求处理过程中不会被修改。
type Config struct {
	Server          ServerConfig              `yaml:"server"`
	Log             LogConfig                 `yaml:"log"`
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	Refinement      RefinementConfig          `yaml:"refinement"`
	LLM             LLMConfig                 `yaml:"llm"`
	Breakdown       BreakdownConfig           `yaml:"breakdown"`
}

// ServerConfig 控制 MCP 服务的名称与传输方式。
type ServerConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`
	Address   string `yaml:"address"`
	AuthToken string `yaml:"auth_token"`
}

// LogConfig 透传给 pkg/logger。
type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"`
	OutputPaths []string       `yaml:"output_paths"`
	Audit       AuditLogConfig `yaml:"audit"`
}

// AuditLogConfig 控制审计日志输出。
type AuditLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ProviderConfig 描述一个大模型后端。
// type 可选 openai（兼容 OpenAI 协议的服务，如 LM Studio、vLLM）、
// anthropic（官方 SDK）、command（本地进程）。
type ProviderConfig struct {
	Type         string `yaml:"type"`
	APIEndpoint  string `yaml:"api_endpoint"`
	APIKey       string `yaml:"api_key"`
	APIKeyEnv    string `yaml:"api_key_env"`
	DefaultModel string `yaml:"default_model"`
}

// RefinementConfig 控制提示词模板的来源。
// templates 内联覆盖内置模板，prompts_directory 中的 <type>.md 优先级最高。
type RefinementConfig struct {
	PromptsDirectory string            `yaml:"prompts_directory"`
	Templates        map[string]string `yaml:"templates"`
}

// LLMConfig 控制单次模型调用的公共参数。
type LLMConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// Timeout 返回单次调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BreakdownConfig 控制子任务解析的容错参数。
type BreakdownConfig struct {
	MinComplexity       int  `yaml:"min_complexity"`
	MaxComplexity       int  `yaml:"max_complexity"`
	DisableJSONFallback bool `yaml:"disable_json_fallback"`
}

// DefaultPath 返回默认配置文件位置 ~/.promptforge-mcp/config.yml。
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yml"
	}
	return filepath.Join(home, ".promptforge-mcp", "config.yml")
}

// Load 解析指定路径的 YAML 配置文件。文件不存在时返回默认配置，
// 解析或校验失败时返回 CONFIGURATION 错误。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置文件失败",
				xerrors.WithMetadata("path", path))
		}
	case errors.Is(err, fs.ErrNotExist):
		// 与原始实现一致：缺少配置文件时退回默认值。
	default:
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败",
			xerrors.WithMetadata("path", path))
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Name == "" {
		c.Server.Name = DefaultServerName
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if len(c.Log.OutputPaths) == 0 {
		c.Log.OutputPaths = []string{"stderr"}
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}

	if len(c.Providers) == 0 {
		c.Providers = map[string]ProviderConfig{
			DefaultProviderName: {
				Type:         "openai",
				APIEndpoint:  DefaultAPIEndpoint,
				APIKey:       DefaultAPIKey,
				DefaultModel: DefaultModel,
			},
		}
	}
	for name, provider := range c.Providers {
		if provider.Type == "" {
			provider.Type = "openai"
			c.Providers[name] = provider
		}
	}

	if c.DefaultProvider == "" {
		if len(c.Providers) == 1 {
			for name := range c.Providers {
				c.DefaultProvider = name
			}
		} else if _, ok := c.Providers[DefaultProviderName]; ok {
			c.DefaultProvider = DefaultProviderName
		}
	}

	if c.Refinement.PromptsDirectory != "" && !filepath.IsAbs(c.Refinement.PromptsDirectory) {
		c.Refinement.PromptsDirectory = filepath.Join(baseDir, c.Refinement.PromptsDirectory)
	}

	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}

	if c.Breakdown.MinComplexity <= 0 {
		c.Breakdown.MinComplexity = 1
	}
	if c.Breakdown.MaxComplexity <= 0 {
		c.Breakdown.MaxComplexity = 10
	}
}

// validate 检查配置快照是否自洽。所有错误都带 CONFIGURATION 错误码。
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio":
		// stdout 承载 MCP 协议本身，日志写入 stdout 会破坏通信。
		for _, out := range c.Log.OutputPaths {
			if strings.EqualFold(out, "stdout") {
				return xerrors.New(xerrors.CodeConfiguration, "stdio 传输下日志不能写入 stdout")
			}
		}
	case "http":
		if c.Server.Address == "" {
			return xerrors.New(xerrors.CodeConfiguration, "http 传输需要配置监听地址")
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, "不支持的传输方式",
			xerrors.WithMetadata("transport", c.Server.Transport))
	}

	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return xerrors.New(xerrors.CodeConfiguration, "默认 provider 未在配置中定义",
			xerrors.WithMetadata("default_provider", c.DefaultProvider))
	}

	for _, name := range c.ProviderNames() {
		if err := c.Providers[name].validate(name); err != nil {
			return err
		}
	}

	if c.Breakdown.MinComplexity > c.Breakdown.MaxComplexity {
		return xerrors.New(xerrors.CodeConfiguration, "复杂度下限不能大于上限",
			xerrors.WithMetadata("min_complexity", fmt.Sprintf("%d", c.Breakdown.MinComplexity)),
			xerrors.WithMetadata("max_complexity", fmt.Sprintf("%d", c.Breakdown.MaxComplexity)))
	}

	if c.LLM.Temperature > 2 {
		return xerrors.New(xerrors.CodeConfiguration, "temperature 超出有效范围",
			xerrors.WithMetadata("temperature", fmt.Sprintf("%v", c.LLM.Temperature)))
	}
	return nil
}

func (p ProviderConfig) validate(name string) error {
	switch p.Type {
	case "openai":
		if err := validateEndpoint(name, p.APIEndpoint, true); err != nil {
			return err
		}
	case "anthropic":
		// 留空时走官方 SDK 的默认地址。
		if err := validateEndpoint(name, p.APIEndpoint, false); err != nil {
			return err
		}
	case "command":
		if strings.TrimSpace(p.APIEndpoint) == "" {
			return xerrors.New(xerrors.CodeConfiguration, "command 类型 provider 需要在 api_endpoint 中指定可执行文件",
				xerrors.WithMetadata("provider", name))
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, "未知的 provider 类型",
			xerrors.WithMetadata("provider", name),
			xerrors.WithMetadata("type", p.Type))
	}

	if strings.TrimSpace(p.DefaultModel) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "provider 缺少 default_model",
			xerrors.WithMetadata("provider", name))
	}
	return nil
}

func validateEndpoint(name, endpoint string, required bool) error {
	if endpoint == "" {
		if !required {
			return nil
		}
		return xerrors.New(xerrors.CodeConfiguration, "provider 缺少 api_endpoint",
			xerrors.WithMetadata("provider", name))
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return xerrors.New(xerrors.CodeConfiguration, "api_endpoint 不是合法的 HTTP 地址",
			xerrors.WithMetadata("provider", name),
			xerrors.WithMetadata("api_endpoint", endpoint))
	}
	return nil
}

// ProviderNames 返回排序后的 provider 名称，保证遍历顺序稳定。
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
