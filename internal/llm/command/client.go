package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"PromptForge-MCP/internal/llm"
)

// Client 通过调用本地可执行程序完成一次模型推理。
// 请求以 JSON 形式写入子进程 stdin，stdout 的全部输出即为补全文本。
type Client struct {
	program    string
	args       []string
	workingDir string
}

// NewClient 创建本地进程客户端。
func NewClient(program string, args []string, workingDir string) (*Client, error) {
	if strings.TrimSpace(program) == "" {
		return nil, fmt.Errorf("未指定可执行程序路径")
	}
	return &Client{
		program:    program,
		args:       args,
		workingDir: workingDir,
	}, nil
}

// Complete 启动子进程并等待其输出。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.program, c.args...)
	if c.workingDir != "" {
		cmd.Dir = c.workingDir
	}
	cmd.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("执行本地模型进程失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	text := stdout.String()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("本地模型进程没有输出内容")
	}

	return &llm.Response{Text: text}, nil
}

// ListModels 本地进程后端没有模型枚举协议。
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return nil, llm.ErrModelListing
}

var _ llm.Client = (*Client)(nil)
