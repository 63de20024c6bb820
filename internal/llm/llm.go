package llm

import (
	"context"

	xerrors "PromptForge-MCP/internal/errors"
)

// Request 描述一次发送给大模型的调用。
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response 是大模型返回的原始内容。
type Response struct {
	Text string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	// Complete 发送提示词并同步等待模型回复。
	Complete(ctx context.Context, req Request) (*Response, error)
	// ListModels 按服务端返回顺序枚举后端可用的模型名称。
	ListModels(ctx context.Context) ([]string, error)
}

// ErrModelListing 表示该 provider 不支持枚举模型。
var ErrModelListing = xerrors.New(CodeModelListing, "model listing not supported")

const CodeModelListing xerrors.Code = "MODEL_LISTING_UNSUPPORTED"

func init() {
	xerrors.Register(CodeModelListing, xerrors.Attributes{
		Message:   "model listing not supported",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
