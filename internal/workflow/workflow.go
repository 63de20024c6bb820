package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"PromptForge-MCP/internal/breakdown"
	xerrors "PromptForge-MCP/internal/errors"
	"PromptForge-MCP/internal/llm"
	"PromptForge-MCP/internal/llm/provider"
	"PromptForge-MCP/internal/observability/alerting"
	"PromptForge-MCP/internal/refine"
	"PromptForge-MCP/pkg/logger"
)

// CompletionMessage 是每个工作流成功结束时记录的固定消息。
const CompletionMessage = "Workflow completed."

// ExecutionResult 汇总一次外部模型调用的结果。
// RawText 与传输层返回的内容逐字节一致，不做任何加工。
type ExecutionResult struct {
	RawText  string `json:"raw_text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// CleanText 返回去掉 <think> 思考块后的文本，供面向用户的输出使用。
func (r *ExecutionResult) CleanText() string {
	if r == nil {
		return ""
	}
	return refine.CleanResponse(r.RawText)
}

// RefineRequest 描述一次提示词润色调用。
type RefineRequest struct {
	Prompt         string
	RefinementType string
	Provider       string
	Model          string
}

// RefineExecuteRequest 描述"先润色、再执行"的两段式调用。
// 两个阶段使用同一个 provider，可分别指定模型。
type RefineExecuteRequest struct {
	Prompt          string
	RefinementType  string
	Provider        string
	RefinementModel string
	ExecutionModel  string
}

// HandoverRequest 描述一次不经润色的直接执行。
type HandoverRequest struct {
	Prompt      string
	Provider    string
	Model       string
	Temperature float64
}

// BreakdownRequest 描述一次任务拆解调用。
type BreakdownRequest struct {
	Task     string
	Provider string
	Model    string
}

// RandomIdeasRequest 描述一次随机创意生成调用。
type RandomIdeasRequest struct {
	Provider    string
	Model       string
	IdeaCount   int
	Temperature float64
}

// TopicIdeasRequest 描述一次指定主题的创意生成调用。
type TopicIdeasRequest struct {
	Topic       string
	Provider    string
	Model       string
	IdeaCount   int
	Temperature float64
}

// Workflow 按工具调用编排解析、润色、执行与结果解释。
// 实例自身无可变状态，单个实例可服务任意数量的并发调用。
type Workflow struct {
	registry    *provider.Registry
	refiner     *refine.Refiner
	callTimeout time.Duration
	temperature float64
	maxTokens   int
	parseOpts   breakdown.Options
	alerts      alerting.Dispatcher
	log         *slog.Logger
}

// Option 定义可选的 Workflow 配置。
type Option func(*Workflow)

// WithCallTimeout 设置单次模型调用的超时时间。
func WithCallTimeout(timeout time.Duration) Option {
	return func(w *Workflow) {
		if timeout > 0 {
			w.callTimeout = timeout
		}
	}
}

// WithCallDefaults 设置默认采样温度与单次回复的 token 上限。
func WithCallDefaults(temperature float64, maxTokens int) Option {
	return func(w *Workflow) {
		if temperature > 0 {
			w.temperature = temperature
		}
		if maxTokens > 0 {
			w.maxTokens = maxTokens
		}
	}
}

// WithParseOptions 设置任务拆解的解析容错参数。
func WithParseOptions(opts breakdown.Options) Option {
	return func(w *Workflow) {
		w.parseOpts = opts
	}
}

// WithAlertDispatcher 接入告警分发器。为 nil 时不发送告警。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(w *Workflow) {
		w.alerts = dispatcher
	}
}

// WithLogger 覆盖默认日志器，测试时可静音。
func WithLogger(log *slog.Logger) Option {
	return func(w *Workflow) {
		if log != nil {
			w.log = log
		}
	}
}

// New 创建 Workflow。
func New(registry *provider.Registry, refiner *refine.Refiner, opts ...Option) *Workflow {
	w := &Workflow{
		registry:    registry,
		refiner:     refiner,
		callTimeout: 120 * time.Second,
		temperature: 0.7,
		maxTokens:   4096,
		parseOpts:   breakdown.DefaultOptions(),
		log:         logger.Named("workflow"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// RefinePrompt 解析 provider/model，将提示词合入润色模板并交给模型执行，
// 返回清理后的润色结果。
func (w *Workflow) RefinePrompt(ctx context.Context, req RefineRequest) (string, error) {
	requestID := uuid.New().String()

	resolved, err := w.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return "", err
	}
	w.log.Info("提示词润色工作流启动",
		slog.String("request_id", requestID),
		slog.String("provider", resolved.Provider),
		slog.String("refinement_model", resolved.Model))

	merged, err := w.refiner.Refine(req.Prompt, req.RefinementType)
	if err != nil {
		return "", err
	}

	result, err := w.execute(ctx, requestID, "refine_prompt", resolved, merged, w.temperature)
	if err != nil {
		return "", err
	}

	w.finish(requestID, "refine_prompt", resolved.Provider, resolved.Model)
	return result.CleanText(), nil
}

// RefineAndExecute 先用润色模型改写提示词，再用执行模型运行改写结果。
func (w *Workflow) RefineAndExecute(ctx context.Context, req RefineExecuteRequest) (*ExecutionResult, error) {
	requestID := uuid.New().String()

	refinement, err := w.registry.Resolve(req.Provider, req.RefinementModel)
	if err != nil {
		return nil, err
	}
	execution, err := w.registry.Resolve(req.Provider, req.ExecutionModel)
	if err != nil {
		return nil, err
	}
	w.log.Info("润色并外部执行工作流启动",
		slog.String("request_id", requestID),
		slog.String("provider", refinement.Provider),
		slog.String("refinement_model", refinement.Model),
		slog.String("execution_model", execution.Model))

	merged, err := w.refiner.Refine(req.Prompt, req.RefinementType)
	if err != nil {
		return nil, err
	}

	refinedResult, err := w.execute(ctx, requestID, "refine_and_execute_external_prompt", refinement, merged, w.temperature)
	if err != nil {
		return nil, err
	}

	final, err := w.execute(ctx, requestID, "refine_and_execute_external_prompt", execution, refinedResult.CleanText(), w.temperature)
	if err != nil {
		return nil, err
	}

	w.finish(requestID, "refine_and_execute_external_prompt", execution.Provider, execution.Model)
	return final, nil
}

// Handover 不经润色直接把提示词交给模型执行，返回清理后的文本。
func (w *Workflow) Handover(ctx context.Context, req HandoverRequest) (string, error) {
	requestID := uuid.New().String()

	if strings.TrimSpace(req.Prompt) == "" {
		return "", xerrors.New(refine.CodeEmptyPrompt, "提示词不能为空")
	}

	resolved, err := w.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return "", err
	}
	w.log.Info("外部执行工作流启动",
		slog.String("request_id", requestID),
		slog.String("provider", resolved.Provider),
		slog.String("model", resolved.Model))

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = w.temperature
	}

	result, err := w.execute(ctx, requestID, "handover_prompt", resolved, req.Prompt, temperature)
	if err != nil {
		return "", err
	}

	w.finish(requestID, "handover_prompt", resolved.Provider, resolved.Model)
	return result.CleanText(), nil
}

// Breakdown 将任务描述拆解为带复杂度评分的有序子任务列表。
// 阶段依次为解析、润色、执行、解释，任一阶段失败立即终止，不做重试。
func (w *Workflow) Breakdown(ctx context.Context, req BreakdownRequest) ([]breakdown.SubTask, error) {
	requestID := uuid.New().String()

	resolved, err := w.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}
	w.log.Info("任务拆解工作流启动",
		slog.String("request_id", requestID),
		slog.String("provider", resolved.Provider),
		slog.String("model", resolved.Model))

	merged, err := w.refiner.Refine(req.Task, "task_breakdown")
	if err != nil {
		return nil, err
	}

	result, err := w.execute(ctx, requestID, "breakdown_task", resolved, merged, w.temperature)
	if err != nil {
		return nil, err
	}

	tasks, err := breakdown.Parse(result.RawText, w.parseOpts)
	if err != nil {
		return nil, err
	}

	w.finish(requestID, "breakdown_task", resolved.Provider, resolved.Model)
	return tasks, nil
}

// GenerateRandomIdeas 先让模型造一个主题，再基于该主题生成创意。
func (w *Workflow) GenerateRandomIdeas(ctx context.Context, req RandomIdeasRequest) (string, error) {
	requestID := uuid.New().String()

	resolved, err := w.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return "", err
	}

	topicTemplate, err := w.refiner.Template("topic_generation")
	if err != nil {
		return "", err
	}
	w.log.Info("随机创意工作流启动",
		slog.String("request_id", requestID),
		slog.String("provider", resolved.Provider),
		slog.String("model", resolved.Model))

	topicResult, err := w.execute(ctx, requestID, "generate_random_ideas", resolved, topicTemplate, req.Temperature)
	if err != nil {
		return "", err
	}
	topic := firstLine(topicResult.CleanText())
	if topic == "" {
		return "", xerrors.New(breakdown.CodeUnparsableResponse, "模型没有生成可用的主题",
			xerrors.WithMetadata("raw_response", topicResult.RawText))
	}

	return w.GenerateTopicIdeas(ctx, TopicIdeasRequest{
		Topic:       topic,
		Provider:    req.Provider,
		Model:       req.Model,
		IdeaCount:   req.IdeaCount,
		Temperature: req.Temperature,
	})
}

// GenerateTopicIdeas 基于给定主题生成创意，条目之间以 "---" 行分隔。
func (w *Workflow) GenerateTopicIdeas(ctx context.Context, req TopicIdeasRequest) (string, error) {
	requestID := uuid.New().String()

	if strings.TrimSpace(req.Topic) == "" {
		return "", xerrors.New(refine.CodeEmptyPrompt, "主题不能为空")
	}
	if req.IdeaCount < 1 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "idea_count 必须至少为 1",
			xerrors.WithMetadata("idea_count", strconv.Itoa(req.IdeaCount)))
	}

	resolved, err := w.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return "", err
	}

	template, err := w.refiner.Template("idea_generation")
	if err != nil {
		return "", err
	}
	prompt := refine.Render(template, map[string]string{
		"topic": req.Topic,
		"count": strconv.Itoa(req.IdeaCount),
	})
	w.log.Info("主题创意工作流启动",
		slog.String("request_id", requestID),
		slog.String("provider", resolved.Provider),
		slog.String("model", resolved.Model),
		slog.Int("idea_count", req.IdeaCount))

	result, err := w.execute(ctx, requestID, "generate_ideas_on_topic", resolved, prompt, req.Temperature)
	if err != nil {
		return "", err
	}

	w.finish(requestID, "generate_ideas_on_topic", resolved.Provider, resolved.Model)
	return result.CleanText(), nil
}

// ListProviders 以 Markdown 枚举配置的 provider，永远不输出 API Key。
func (w *Workflow) ListProviders() string {
	var b strings.Builder
	b.WriteString("# Configured providers")
	for _, info := range w.registry.Providers() {
		b.WriteString(fmt.Sprintf("\n-%s : type: %s - api_endpoint: %s", info.Name, info.Type, info.Endpoint))
	}
	return b.String()
}

// ListModels 枚举指定 provider 的可用模型并渲染为 Markdown。
func (w *Workflow) ListModels(ctx context.Context, providerName string) (string, error) {
	requestID := uuid.New().String()

	resolved, err := w.registry.Resolve(providerName, "")
	if err != nil {
		return "", err
	}
	endpoint, err := w.registry.Endpoint(providerName)
	if err != nil {
		return "", err
	}
	w.log.Info("获取模型列表",
		slog.String("request_id", requestID),
		slog.String("provider", resolved.Provider))

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	models, err := resolved.Client.ListModels(callCtx)
	if err != nil {
		if coded, ok := xerrors.From(err); ok {
			return "", coded
		}
		return "", xerrors.Wrap(xerrors.CodeExecutionFailure, err, "获取模型列表失败",
			xerrors.WithMetadata("provider", resolved.Provider))
	}
	if len(models) == 0 {
		return "# No models available", nil
	}

	lines := make([]string, 0, len(models))
	for _, model := range models {
		lines = append(lines, "- "+model)
	}
	result := fmt.Sprintf("# Target API Endpoint\n%s\n\n# List of available models\n%s",
		endpoint, strings.Join(lines, "\n"))

	w.finish(requestID, "list_available_models", resolved.Provider, "")
	return result, nil
}

// execute 在超时上下文内完成一次模型调用，失败时包装统一错误码并按需告警。
func (w *Workflow) execute(ctx context.Context, requestID, tool string, resolved provider.Resolved, prompt string, temperature float64) (*ExecutionResult, error) {
	if temperature <= 0 {
		temperature = w.temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	started := time.Now()
	resp, err := resolved.Client.Complete(callCtx, llm.Request{
		Model:       resolved.Model,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   w.maxTokens,
	})
	if err != nil {
		var wrapped *xerrors.Error
		if stdErrors.Is(err, context.DeadlineExceeded) {
			wrapped = xerrors.Wrap(xerrors.CodeTimeout, err, "模型调用超时",
				xerrors.WithMetadata("provider", resolved.Provider),
				xerrors.WithMetadata("model", resolved.Model))
		} else {
			wrapped = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "模型调用失败",
				xerrors.WithMetadata("provider", resolved.Provider),
				xerrors.WithMetadata("model", resolved.Model))
		}
		w.emitAlert(ctx, requestID, tool, resolved, wrapped)
		return nil, wrapped
	}

	logger.Audit().Info("llm call completed",
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.String("provider", resolved.Provider),
		slog.String("model", resolved.Model),
		slog.Duration("duration", time.Since(started)))

	return &ExecutionResult{
		RawText:  resp.Text,
		Provider: resolved.Provider,
		Model:    resolved.Model,
	}, nil
}

// emitAlert 将执行失败投递给告警分发器。告警失败只记日志，不影响调用结果。
func (w *Workflow) emitAlert(ctx context.Context, requestID, tool string, resolved provider.Resolved, err *xerrors.Error) {
	if w.alerts == nil || !err.ShouldAlert() {
		return
	}
	event := alerting.Event{
		RequestID:  requestID,
		Tool:       tool,
		Provider:   resolved.Provider,
		Model:      resolved.Model,
		Code:       err.Code(),
		Message:    err.Message(),
		Severity:   err.Severity(),
		Metadata:   err.Metadata(),
		OccurredAt: time.Now(),
	}
	if notifyErr := w.alerts.Notify(ctx, event); notifyErr != nil {
		w.log.Warn("告警发送失败",
			slog.String("request_id", requestID),
			slog.String("error", notifyErr.Error()))
	}
}

func (w *Workflow) finish(requestID, tool, providerName, model string) {
	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.String("provider", providerName),
	}
	if model != "" {
		attrs = append(attrs, slog.String("model", model))
	}
	w.log.Info(CompletionMessage, attrs...)
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
