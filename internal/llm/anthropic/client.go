package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"PromptForge-MCP/internal/llm"
)

// Anthropic 接口要求每次调用都显式声明 max_tokens。
const defaultMaxTokens = 4096

// Config 描述了通过官方 SDK 调用 Anthropic 服务所需的信息。
// BaseURL 留空时使用 SDK 内置的官方地址，测试时可指向本地伪造服务。
type Config struct {
	APIKey  string
	BaseURL string
}

// Client 基于官方 SDK 调用 Anthropic Messages 接口。
type Client struct {
	inner sdk.Client
}

// NewClient 创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{inner: sdk.NewClient(opts...)}, nil
}

// Complete 发送单轮用户消息并把返回的全部文本块拼接为一段。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("请求 Anthropic 失败: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(sdk.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, errors.New("Anthropic 响应内容为空")
	}

	return &llm.Response{Text: text.String()}, nil
}

// ListModels 按服务端返回顺序枚举可用模型。
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.inner.Models.List(ctx, sdk.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("请求 Anthropic 模型列表失败: %w", err)
	}

	models := make([]string, 0, len(page.Data))
	for _, item := range page.Data {
		if item.ID != "" {
			models = append(models, item.ID)
		}
	}
	return models, nil
}

var _ llm.Client = (*Client)(nil)
