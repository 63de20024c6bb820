// Package promptforge provides a typed Go client for the PromptForge MCP
// server. It wraps the generic MCP tool-call protocol with one method per
// server tool and parses structured tool failures into ToolError values.
package promptforge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultInitTimeout bounds the MCP handshake performed by Connect. It is
// intentionally short: a server that cannot answer initialize quickly is not
// going to answer tool calls either.
const DefaultInitTimeout = 15 * time.Second

// SubTask mirrors one entry of the breakdown_task result.
type SubTask struct {
	Description string `json:"description"`
	Complexity  int    `json:"complexity"`
}

// ToolError represents a structured failure reported by the server. The
// server renders failures as "[CODE] message: cause"; the code survives the
// transport so callers can branch on it.
type ToolError struct {
	Tool    string
	Code    string
	Message string
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("promptforge tool %s failed (%s): %s", e.Tool, e.Code, e.Message)
	}
	return fmt.Sprintf("promptforge tool %s failed: %s", e.Tool, e.Message)
}

// codedError matches the wire rendering of server-side coded errors.
var codedError = regexp.MustCompile(`^\[([A-Z_]+)\]\s*(.*)$`)

// Client is a thin typed wrapper over an MCP client session.
type Client struct {
	inner mcpclient.MCPClient
	owned bool
}

// Connect spawns the given server command, connects over stdio and performs
// the MCP handshake. The spawned process is terminated by Close.
func Connect(ctx context.Context, command string, env []string, args ...string) (*Client, error) {
	inner, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("spawning mcp server: %w", err)
	}
	c := &Client{inner: inner, owned: true}
	if err := c.initialize(ctx); err != nil {
		_ = inner.Close()
		return nil, err
	}
	return c, nil
}

// Attach wraps an already connected MCP client and performs the handshake.
// Close leaves the underlying client open.
func Attach(ctx context.Context, inner mcpclient.MCPClient) (*Client, error) {
	c := &Client{inner: inner}
	if err := c.initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, DefaultInitTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "promptforge-go-sdk",
		Version: "1.0.0",
	}
	if _, err := c.inner.Initialize(initCtx, req); err != nil {
		return fmt.Errorf("initializing mcp session: %w", err)
	}
	return nil
}

// Close terminates the session. When the client was created via Connect the
// spawned server process is shut down as well.
func (c *Client) Close() error {
	if c == nil || c.inner == nil || !c.owned {
		return nil
	}
	return c.inner.Close()
}

// RefineOptions tunes the refinement tools. Zero values fall back to the
// server defaults.
type RefineOptions struct {
	RefinementType string
	Provider       string
	Model          string
}

// RefinePrompt refines a prompt for further processing by a model.
func (c *Client) RefinePrompt(ctx context.Context, prompt string, opts RefineOptions) (string, error) {
	return c.callText(ctx, "refine_prompt", map[string]any{
		"prompt":          prompt,
		"refinement_type": opts.RefinementType,
		"provider":        opts.Provider,
		"model":           opts.Model,
	})
}

// RefineExecuteOptions tunes the two-stage refine-and-execute tool.
type RefineExecuteOptions struct {
	RefinementType  string
	Provider        string
	RefinementModel string
	ExecutionModel  string
}

// RefineAndExecute refines a prompt and executes the refined prompt,
// returning the execution result.
func (c *Client) RefineAndExecute(ctx context.Context, prompt string, opts RefineExecuteOptions) (string, error) {
	return c.callText(ctx, "refine_and_execute_external_prompt", map[string]any{
		"prompt":           prompt,
		"refinement_type":  opts.RefinementType,
		"provider":         opts.Provider,
		"refinement_model": opts.RefinementModel,
		"execution_model":  opts.ExecutionModel,
	})
}

// HandoverOptions tunes a direct prompt execution.
type HandoverOptions struct {
	Provider    string
	Model       string
	Temperature float64
}

// Handover executes a prompt on an external model without refinement.
func (c *Client) Handover(ctx context.Context, prompt string, opts HandoverOptions) (string, error) {
	args := map[string]any{
		"prompt":   prompt,
		"provider": opts.Provider,
		"model":    opts.Model,
	}
	if opts.Temperature > 0 {
		args["temperature"] = opts.Temperature
	}
	return c.callText(ctx, "handover_prompt", args)
}

// BreakdownOptions selects the provider and model for a task breakdown.
type BreakdownOptions struct {
	Provider string
	Model    string
}

// BreakdownTask decomposes a task into sub-tasks with complexity ratings.
func (c *Client) BreakdownTask(ctx context.Context, task string, opts BreakdownOptions) ([]SubTask, error) {
	text, err := c.callText(ctx, "breakdown_task", map[string]any{
		"task":     task,
		"provider": opts.Provider,
		"model":    opts.Model,
	})
	if err != nil {
		return nil, err
	}
	var tasks []SubTask
	if err := json.Unmarshal([]byte(text), &tasks); err != nil {
		return nil, fmt.Errorf("decoding sub-tasks: %w", err)
	}
	return tasks, nil
}

// IdeaOptions tunes the idea generation tools.
type IdeaOptions struct {
	Provider    string
	Model       string
	IdeaCount   int
	Temperature float64
}

// GenerateRandomIdeas asks the server to invent a topic and generate ideas
// on it. Individual ideas are separated by "---" lines.
func (c *Client) GenerateRandomIdeas(ctx context.Context, opts IdeaOptions) (string, error) {
	return c.callText(ctx, "generate_random_ideas", ideaArgs(nil, opts))
}

// GenerateIdeasOnTopic generates ideas on the given topic.
func (c *Client) GenerateIdeasOnTopic(ctx context.Context, topic string, opts IdeaOptions) (string, error) {
	return c.callText(ctx, "generate_ideas_on_topic", ideaArgs(map[string]any{"topic": topic}, opts))
}

// ListProviders returns a markdown listing of the configured providers.
func (c *Client) ListProviders(ctx context.Context) (string, error) {
	return c.callText(ctx, "list_available_providers", map[string]any{})
}

// ListModels returns a markdown listing of the models accessible through the
// given provider. An empty provider selects the server default.
func (c *Client) ListModels(ctx context.Context, provider string) (string, error) {
	return c.callText(ctx, "list_available_models", map[string]any{
		"provider": provider,
	})
}

func ideaArgs(base map[string]any, opts IdeaOptions) map[string]any {
	args := map[string]any{
		"provider": opts.Provider,
		"model":    opts.Model,
	}
	for k, v := range base {
		args[k] = v
	}
	if opts.IdeaCount > 0 {
		args["idea_count"] = opts.IdeaCount
	}
	if opts.Temperature > 0 {
		args["temperature"] = opts.Temperature
	}
	return args
}

// callText performs a tool call and returns the first text content block.
func (c *Client) callText(ctx context.Context, tool string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = pruneEmpty(args)

	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", tool, err)
	}

	text := firstText(result)
	if result.IsError {
		return "", parseToolError(tool, text)
	}
	return text, nil
}

// pruneEmpty drops empty string arguments so server-side defaults apply.
func pruneEmpty(args map[string]any) map[string]any {
	pruned := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		pruned[k] = v
	}
	return pruned
}

func firstText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// parseToolError recovers the error code from the server's wire rendering.
func parseToolError(tool, text string) *ToolError {
	text = strings.TrimSpace(text)
	if match := codedError.FindStringSubmatch(text); match != nil {
		return &ToolError{Tool: tool, Code: match[1], Message: strings.TrimSpace(match[2])}
	}
	return &ToolError{Tool: tool, Message: text}
}
