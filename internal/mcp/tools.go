package mcp

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	xerrors "PromptForge-MCP/internal/errors"
	"PromptForge-MCP/internal/observability/metrics"
	"PromptForge-MCP/internal/workflow"
)

// registerTools 在启动阶段显式注册全部工具：名称、参数 schema 与处理函数。
func (s *Server) registerTools() {
	s.addTool(defaultTool("refine_prompt",
		mcp.WithDescription("Refines a given prompt by enriching it with additional context and improving clarity for further processing by large language models. The refinement_type can be used to improve the results: e.g. for a coding task this should be set to the code type."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Input prompt that should be refined.")),
		mcp.WithString("refinement_type", mcp.Description("The type of the refinement: 'code' for coding tasks or 'default' for general tasks."), mcp.DefaultString("default")),
		mcp.WithString("provider", mcp.Description("Name of the configured provider to use. 'default' picks the server's default provider."), mcp.DefaultString("")),
		mcp.WithString("model", mcp.Description("Model name used for the refinement. 'default' picks the provider's default model."), mcp.DefaultString("")),
	), s.handleRefinePrompt)

	s.addTool(defaultTool("refine_and_execute_external_prompt",
		mcp.WithDescription("Refines a given prompt and then executes the refined prompt with an external llm, delivering back the execution result."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Input prompt that should be refined and then processed.")),
		mcp.WithString("refinement_type", mcp.Description("The type of the refinement: 'code' or 'default'."), mcp.DefaultString("default")),
		mcp.WithString("provider", mcp.Description("Name of the configured provider used for both stages."), mcp.DefaultString("")),
		mcp.WithString("refinement_model", mcp.Description("Model used for the refinement stage."), mcp.DefaultString("")),
		mcp.WithString("execution_model", mcp.Description("Model used for the execution stage."), mcp.DefaultString("")),
	), s.handleRefineAndExecute)

	s.addTool(defaultTool("handover_prompt",
		mcp.WithDescription("Hands over a prompt to an external llm for processing and delivers back the processed result."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt that should be executed externally.")),
		mcp.WithString("provider", mcp.Description("Name of the configured provider."), mcp.DefaultString("")),
		mcp.WithString("model", mcp.Description("Model name used for the execution."), mcp.DefaultString("")),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature for the execution."), mcp.DefaultNumber(0.7)),
	), s.handleHandover)

	s.addTool(defaultTool("breakdown_task",
		mcp.WithDescription("Breaks down a task into sub-tasks and returns a json list of sub-tasks with complexity ratings."),
		mcp.WithString("task", mcp.Required(), mcp.Description("The full task description to break down further.")),
		mcp.WithString("provider", mcp.Description("Name of the configured provider."), mcp.DefaultString("")),
		mcp.WithString("model", mcp.Description("Model name used for the breakdown."), mcp.DefaultString("")),
	), s.handleBreakdown)

	s.addTool(defaultTool("generate_random_ideas",
		mcp.WithDescription("Generates ideas on a randomly invented topic and delivers back the ideas separated by '---' lines."),
		mcp.WithString("provider", mcp.Description("Name of the configured provider."), mcp.DefaultString("")),
		mcp.WithString("model", mcp.Description("Model name used for the generation."), mcp.DefaultString("")),
		mcp.WithNumber("idea_count", mcp.Description("Number of ideas to generate."), mcp.DefaultNumber(1)),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature for the generation."), mcp.DefaultNumber(0.7)),
	), s.handleRandomIdeas)

	s.addTool(defaultTool("generate_ideas_on_topic",
		mcp.WithDescription("Generates ideas on a given topic and delivers back the ideas separated by '---' lines."),
		mcp.WithString("topic", mcp.Required(), mcp.Description("The topic to generate ideas on.")),
		mcp.WithString("provider", mcp.Description("Name of the configured provider."), mcp.DefaultString("")),
		mcp.WithString("model", mcp.Description("Model name used for the generation."), mcp.DefaultString("")),
		mcp.WithNumber("idea_count", mcp.Description("Number of ideas to generate."), mcp.DefaultNumber(1)),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature for the generation."), mcp.DefaultNumber(0.7)),
	), s.handleTopicIdeas)

	s.addTool(readOnlyTool("list_available_providers",
		mcp.WithDescription("Lists all providers configured on the server with their type and api endpoint."),
	), s.handleListProviders)

	s.addTool(readOnlyTool("list_available_models",
		mcp.WithDescription("Lists all large language models accessible through a configured provider."),
		mcp.WithString("provider", mcp.Description("Name of the configured provider. Empty picks the server's default provider."), mcp.DefaultString("")),
	), s.handleListModels)
}

// addTool 注册工具并套上调用指标采集。
func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, instrumented(tool.Name, handler))
}

// resultCode 从错误结果的文本中恢复错误码，用于指标标签。
var resultCode = regexp.MustCompile(`^\[([A-Z_]+)\]`)

// instrumented 记录每次工具调用的结果与耗时。
func instrumented(name string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		result, err := handler(ctx, request)

		code := ""
		switch {
		case err != nil:
			code = string(xerrors.CodeOf(err))
		case result != nil && result.IsError:
			code = string(xerrors.CodeUnknown)
			if len(result.Content) > 0 {
				if text, ok := result.Content[0].(mcp.TextContent); ok {
					if match := resultCode.FindStringSubmatch(text.Text); match != nil {
						code = match[1]
					}
				}
			}
		}
		metrics.ObserveToolCall(name, code, time.Since(start))
		return result, err
	}
}

// readOnlyTool 标注不触达外部世界的纯查询工具。
func readOnlyTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(true),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// defaultTool 标注会调用外部模型、但不产生破坏性副作用的工具。
func defaultTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}))
	return mcp.NewTool(name, opts...)
}

// toolError 把内部错误渲染为结构化工具错误，文本固定为 [CODE] message: cause。
func toolError(err error) *mcp.CallToolResult {
	if _, ok := xerrors.From(err); ok {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(xerrors.Wrap(xerrors.CodeUnknown, err, "").Error())
}

func (s *Server) handleRefinePrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.workflow.RefinePrompt(ctx, workflow.RefineRequest{
		Prompt:         prompt,
		RefinementType: request.GetString("refinement_type", "default"),
		Provider:       request.GetString("provider", ""),
		Model:          request.GetString("model", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleRefineAndExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.workflow.RefineAndExecute(ctx, workflow.RefineExecuteRequest{
		Prompt:          prompt,
		RefinementType:  request.GetString("refinement_type", "default"),
		Provider:        request.GetString("provider", ""),
		RefinementModel: request.GetString("refinement_model", ""),
		ExecutionModel:  request.GetString("execution_model", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(result.CleanText()), nil
}

func (s *Server) handleHandover(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.workflow.Handover(ctx, workflow.HandoverRequest{
		Prompt:      prompt,
		Provider:    request.GetString("provider", ""),
		Model:       request.GetString("model", ""),
		Temperature: request.GetFloat("temperature", 0.7),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleBreakdown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tasks, err := s.workflow.Breakdown(ctx, workflow.BreakdownRequest{
		Task:     task,
		Provider: request.GetString("provider", ""),
		Model:    request.GetString("model", ""),
	})
	if err != nil {
		return toolError(err), nil
	}

	encoded, err := json.Marshal(tasks)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func (s *Server) handleRandomIdeas(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.workflow.GenerateRandomIdeas(ctx, workflow.RandomIdeasRequest{
		Provider:    request.GetString("provider", ""),
		Model:       request.GetString("model", ""),
		IdeaCount:   request.GetInt("idea_count", 1),
		Temperature: request.GetFloat("temperature", 0.7),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleTopicIdeas(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := request.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.workflow.GenerateTopicIdeas(ctx, workflow.TopicIdeasRequest{
		Topic:       topic,
		Provider:    request.GetString("provider", ""),
		Model:       request.GetString("model", ""),
		IdeaCount:   request.GetInt("idea_count", 1),
		Temperature: request.GetFloat("temperature", 0.7),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleListProviders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.workflow.ListProviders()), nil
}

func (s *Server) handleListModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.workflow.ListModels(ctx, request.GetString("provider", ""))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(result), nil
}
