package provider

import (
	"os"
	"sort"
	"strings"

	"PromptForge-MCP/internal/config"
	xerrors "PromptForge-MCP/internal/errors"
	"PromptForge-MCP/internal/llm"
	"PromptForge-MCP/internal/llm/anthropic"
	"PromptForge-MCP/internal/llm/command"
	"PromptForge-MCP/internal/llm/openai"
)

// CodeUnknownProvider 表示请求指定的 provider 未在配置中定义。
const CodeUnknownProvider xerrors.Code = "UNKNOWN_PROVIDER"

func init() {
	xerrors.Register(CodeUnknownProvider, xerrors.Attributes{
		Message:   "unknown provider",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// DefaultAlias 是请求参数中表示"使用默认值"的占位名称。
const DefaultAlias = "default"

// Info 描述一个已注册的 provider，不包含任何凭证信息。
type Info struct {
	Name         string
	Type         string
	Endpoint     string
	DefaultModel string
}

// Entry 将 provider 元信息与其底层客户端绑定，供注册表构建使用。
type Entry struct {
	Type         string
	Endpoint     string
	DefaultModel string
	Client       llm.Client
}

// Resolved 是一次解析的结果：生效的 provider、模型与对应客户端。
type Resolved struct {
	Provider string
	Model    string
	Client   llm.Client
}

// Registry 管理按名称索引的大模型后端。启动时构建完成后只读，
// 可被任意数量的并发请求安全使用。
type Registry struct {
	defaultProvider string
	entries         map[string]Entry
}

// NewRegistry 依据配置为每个 provider 实例化具体客户端。
func NewRegistry(cfg *config.Config) (*Registry, error) {
	entries := make(map[string]Entry, len(cfg.Providers))
	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		client, err := buildClient(name, pc, cfg.LLM)
		if err != nil {
			return nil, err
		}
		entries[name] = Entry{
			Type:         pc.Type,
			Endpoint:     pc.APIEndpoint,
			DefaultModel: pc.DefaultModel,
			Client:       client,
		}
	}
	return NewRegistryWithClients(cfg.DefaultProvider, entries)
}

// NewRegistryWithClients 由调用方提供已构建的客户端，用于嵌入与测试。
func NewRegistryWithClients(defaultProvider string, entries map[string]Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置任何 provider")
	}
	if _, ok := entries[defaultProvider]; !ok {
		return nil, xerrors.New(xerrors.CodeConfiguration, "默认 provider 未在注册表中",
			xerrors.WithMetadata("default_provider", defaultProvider))
	}
	cloned := make(map[string]Entry, len(entries))
	for name, entry := range entries {
		cloned[name] = entry
	}
	return &Registry{defaultProvider: defaultProvider, entries: cloned}, nil
}

func buildClient(name string, pc config.ProviderConfig, llmCfg config.LLMConfig) (llm.Client, error) {
	apiKey := strings.TrimSpace(pc.APIKey)
	if apiKey == "" && pc.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(pc.APIKeyEnv))
	}

	switch pc.Type {
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: pc.APIEndpoint,
			Timeout: llmCfg.Timeout(),
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化 openai provider 失败",
				xerrors.WithMetadata("provider", name))
		}
		return client, nil
	case "anthropic":
		client, err := anthropic.NewClient(anthropic.Config{
			APIKey:  apiKey,
			BaseURL: pc.APIEndpoint,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化 anthropic provider 失败",
				xerrors.WithMetadata("provider", name))
		}
		return client, nil
	case "command":
		client, err := command.NewClient(pc.APIEndpoint, nil, "")
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化 command provider 失败",
				xerrors.WithMetadata("provider", name))
		}
		return client, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, "未知的 provider 类型",
			xerrors.WithMetadata("provider", name),
			xerrors.WithMetadata("type", pc.Type))
	}
}

// Resolve 确定生效的 (provider, model, client) 组合。
// provider/model 为空或为 "default" 时使用配置默认值；
// 指定了未注册的 provider 时返回 UNKNOWN_PROVIDER 错误。
func (r *Registry) Resolve(providerName, model string) (Resolved, error) {
	name := strings.TrimSpace(providerName)
	if name == "" || name == DefaultAlias {
		name = r.defaultProvider
	}

	entry, ok := r.entries[name]
	if !ok {
		return Resolved{}, xerrors.New(CodeUnknownProvider, "provider 未在配置中定义",
			xerrors.WithMetadata("provider", providerName),
			xerrors.WithMetadata("known_providers", strings.Join(r.Names(), ", ")))
	}

	resolvedModel := strings.TrimSpace(model)
	if resolvedModel == "" || resolvedModel == DefaultAlias {
		resolvedModel = entry.DefaultModel
	}

	return Resolved{Provider: name, Model: resolvedModel, Client: entry.Client}, nil
}

// Names 返回排序后的 provider 名称。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Providers 返回排序后的 provider 信息，永远不包含 API Key。
func (r *Registry) Providers() []Info {
	infos := make([]Info, 0, len(r.entries))
	for _, name := range r.Names() {
		entry := r.entries[name]
		infos = append(infos, Info{
			Name:         name,
			Type:         entry.Type,
			Endpoint:     entry.Endpoint,
			DefaultModel: entry.DefaultModel,
		})
	}
	return infos
}

// Endpoint 返回指定 provider 的接入地址，供模型列表等展示场景使用。
func (r *Registry) Endpoint(providerName string) (string, error) {
	name := strings.TrimSpace(providerName)
	if name == "" || name == DefaultAlias {
		name = r.defaultProvider
	}
	entry, ok := r.entries[name]
	if !ok {
		return "", xerrors.New(CodeUnknownProvider, "provider 未在配置中定义",
			xerrors.WithMetadata("provider", providerName))
	}
	return entry.Endpoint, nil
}

// DefaultProvider 返回配置的默认 provider 名称。
func (r *Registry) DefaultProvider() string {
	return r.defaultProvider
}
