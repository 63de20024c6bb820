package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"PromptForge-MCP/internal/breakdown"
	"PromptForge-MCP/internal/config"
	xerrors "PromptForge-MCP/internal/errors"
	"PromptForge-MCP/internal/llm"
	"PromptForge-MCP/internal/llm/provider"
	"PromptForge-MCP/internal/observability/alerting"
	"PromptForge-MCP/internal/refine"
)

type stubClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	wait      time.Duration
	requests  []llm.Request
	models    []string
}

func (s *stubClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	text := "stub response"
	if len(s.responses) > 0 {
		text = s.responses[0]
		if len(s.responses) > 1 {
			s.responses = s.responses[1:]
		}
	}
	return &llm.Response{Text: text}, nil
}

func (s *stubClient) ListModels(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.models, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(ctx context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func testRefinementConfig() config.RefinementConfig {
	return config.RefinementConfig{}
}

func newTestWorkflow(t *testing.T, client *stubClient, opts ...Option) *Workflow {
	t.Helper()
	registry, err := provider.NewRegistryWithClients("local", map[string]provider.Entry{
		"local": {
			Type:         "openai",
			Endpoint:     "http://localhost:1234/v1",
			DefaultModel: "test-model",
			Client:       client,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refiner, err := refine.NewRefiner(testRefinementConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(registry, refiner, opts...)
}

func TestRefinePromptSuccess(t *testing.T) {
	client := &stubClient{responses: []string{"<think>reasoning</think>Refined: hello"}}
	w := newTestWorkflow(t, client)

	result, err := w.RefinePrompt(context.Background(), RefineRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Refined: hello" {
		t.Fatalf("unexpected result: %q", result)
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected exactly one llm call, got %d", len(client.requests))
	}
	if client.requests[0].Model != "test-model" {
		t.Fatalf("default model not resolved: %+v", client.requests[0])
	}
	if !strings.Contains(client.requests[0].Prompt, "hello") {
		t.Fatalf("merged prompt does not contain raw prompt: %q", client.requests[0].Prompt)
	}
}

func TestRefinePromptEmpty(t *testing.T) {
	w := newTestWorkflow(t, &stubClient{})

	_, err := w.RefinePrompt(context.Background(), RefineRequest{Prompt: "   "})
	if xerrors.CodeOf(err) != refine.CodeEmptyPrompt {
		t.Fatalf("expected EMPTY_PROMPT, got %v", err)
	}
}

func TestRefinePromptUnknownProvider(t *testing.T) {
	client := &stubClient{}
	w := newTestWorkflow(t, client)

	_, err := w.RefinePrompt(context.Background(), RefineRequest{Prompt: "hello", Provider: "nonexistent-provider"})
	if xerrors.CodeOf(err) != provider.CodeUnknownProvider {
		t.Fatalf("expected UNKNOWN_PROVIDER, got %v", err)
	}
	if len(client.requests) != 0 {
		t.Fatalf("no network call may happen for a rejected request")
	}
}

func TestExecutionFailureCarriesContextAndAlerts(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	client := &stubClient{err: errors.New("connection refused")}
	w := newTestWorkflow(t, client, WithAlertDispatcher(dispatcher))

	_, err := w.Handover(context.Background(), HandoverRequest{Prompt: "hello"})
	if xerrors.CodeOf(err) != xerrors.CodeExecutionFailure {
		t.Fatalf("expected EXECUTION_FAILURE, got %v", err)
	}
	typed, _ := xerrors.From(err)
	if typed.Metadata()["provider"] != "local" || typed.Metadata()["model"] != "test-model" {
		t.Fatalf("provider/model context missing: %v", typed.Metadata())
	}
	if len(dispatcher.events) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(dispatcher.events))
	}
	if dispatcher.events[0].Code != xerrors.CodeExecutionFailure || dispatcher.events[0].Tool != "handover_prompt" {
		t.Fatalf("unexpected alert event: %+v", dispatcher.events[0])
	}
}

func TestExecutionTimeout(t *testing.T) {
	client := &stubClient{wait: 100 * time.Millisecond}
	w := newTestWorkflow(t, client, WithCallTimeout(10*time.Millisecond))

	_, err := w.Handover(context.Background(), HandoverRequest{Prompt: "hello"})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cause should be deadline exceeded, got %v", err)
	}
}

func TestHandoverEmptyPrompt(t *testing.T) {
	client := &stubClient{}
	w := newTestWorkflow(t, client)

	_, err := w.Handover(context.Background(), HandoverRequest{Prompt: "\n"})
	if xerrors.CodeOf(err) != refine.CodeEmptyPrompt {
		t.Fatalf("expected EMPTY_PROMPT, got %v", err)
	}
	if len(client.requests) != 0 {
		t.Fatalf("no network call may happen for a rejected request")
	}
}

func TestHandoverTemperatureOverride(t *testing.T) {
	client := &stubClient{responses: []string{"<think>x</think>  answer  "}}
	w := newTestWorkflow(t, client)

	result, err := w.Handover(context.Background(), HandoverRequest{Prompt: "translate this", Temperature: 0.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "answer" {
		t.Fatalf("think block not stripped: %q", result)
	}
	if client.requests[0].Temperature != 0.2 {
		t.Fatalf("temperature override lost: %+v", client.requests[0])
	}
	if client.requests[0].Prompt != "translate this" {
		t.Fatalf("handover must not refine the prompt: %q", client.requests[0].Prompt)
	}
}

func TestRefineAndExecuteTwoStage(t *testing.T) {
	client := &stubClient{responses: []string{"REFINED PROMPT", "FINAL ANSWER"}}
	w := newTestWorkflow(t, client)

	result, err := w.RefineAndExecute(context.Background(), RefineExecuteRequest{
		Prompt:          "summarize the report",
		RefinementModel: "refiner-model",
		ExecutionModel:  "executor-model",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RawText != "FINAL ANSWER" {
		t.Fatalf("unexpected final text: %q", result.RawText)
	}
	if result.Provider != "local" || result.Model != "executor-model" {
		t.Fatalf("unexpected result context: %+v", result)
	}
	if len(client.requests) != 2 {
		t.Fatalf("expected two llm calls, got %d", len(client.requests))
	}
	if client.requests[0].Model != "refiner-model" || client.requests[1].Model != "executor-model" {
		t.Fatalf("stage models wrong: %+v", client.requests)
	}
	if client.requests[1].Prompt != "REFINED PROMPT" {
		t.Fatalf("execution stage must run the refined prompt: %q", client.requests[1].Prompt)
	}
}

func TestBreakdownRoundTrip(t *testing.T) {
	client := &stubClient{responses: []string{
		"Sure, here is the plan:\n1. Design wings (complexity: 7)\n2. Build frame (complexity: 5)\nSome closing remark.",
	}}
	w := newTestWorkflow(t, client)

	tasks, err := w.Breakdown(context.Background(), BreakdownRequest{Task: "build a glider"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []breakdown.SubTask{
		{Description: "Design wings", Complexity: 7},
		{Description: "Build frame", Complexity: 5},
	}
	if len(tasks) != len(want) {
		t.Fatalf("expected %d sub-tasks, got %d: %+v", len(want), len(tasks), tasks)
	}
	for i := range want {
		if tasks[i] != want[i] {
			t.Fatalf("sub-task %d mismatch: got %+v want %+v", i, tasks[i], want[i])
		}
	}
	if !strings.Contains(client.requests[0].Prompt, "build a glider") {
		t.Fatalf("task missing from breakdown prompt: %q", client.requests[0].Prompt)
	}
}

func TestBreakdownUnparsable(t *testing.T) {
	client := &stubClient{responses: []string{"I cannot help with that."}}
	w := newTestWorkflow(t, client)

	_, err := w.Breakdown(context.Background(), BreakdownRequest{Task: "build a glider"})
	if xerrors.CodeOf(err) != breakdown.CodeUnparsableResponse {
		t.Fatalf("expected UNPARSABLE_RESPONSE, got %v", err)
	}
}

func TestGenerateTopicIdeasValidation(t *testing.T) {
	w := newTestWorkflow(t, &stubClient{})

	_, err := w.GenerateTopicIdeas(context.Background(), TopicIdeasRequest{Topic: "", IdeaCount: 1})
	if xerrors.CodeOf(err) != refine.CodeEmptyPrompt {
		t.Fatalf("expected EMPTY_PROMPT, got %v", err)
	}

	_, err = w.GenerateTopicIdeas(context.Background(), TopicIdeasRequest{Topic: "caching", IdeaCount: 0})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestGenerateRandomIdeas(t *testing.T) {
	client := &stubClient{responses: []string{"Edge caching\n", "idea one\n---\nidea two"}}
	w := newTestWorkflow(t, client)

	result, err := w.GenerateRandomIdeas(context.Background(), RandomIdeasRequest{IdeaCount: 2, Temperature: 0.7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "idea one\n---\nidea two" {
		t.Fatalf("unexpected ideas text: %q", result)
	}
	if len(client.requests) != 2 {
		t.Fatalf("expected topic + ideas calls, got %d", len(client.requests))
	}
	if !strings.Contains(client.requests[1].Prompt, "Edge caching") {
		t.Fatalf("generated topic missing from ideas prompt: %q", client.requests[1].Prompt)
	}
	if !strings.Contains(client.requests[1].Prompt, "2") {
		t.Fatalf("idea count missing from ideas prompt: %q", client.requests[1].Prompt)
	}
}

func TestListProvidersNeverLeaksKey(t *testing.T) {
	w := newTestWorkflow(t, &stubClient{})

	listing := w.ListProviders()
	if !strings.HasPrefix(listing, "# Configured providers") {
		t.Fatalf("unexpected listing header: %q", listing)
	}
	if !strings.Contains(listing, "-local : type: openai - api_endpoint: http://localhost:1234/v1") {
		t.Fatalf("provider line missing: %q", listing)
	}
	if strings.Contains(listing, "mykey") {
		t.Fatalf("listing leaks api key: %q", listing)
	}
}

func TestListModels(t *testing.T) {
	client := &stubClient{models: []string{"test-model", "other-model"}}
	w := newTestWorkflow(t, client)

	result, err := w.ListModels(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "# Target API Endpoint\nhttp://localhost:1234/v1\n\n# List of available models\n- test-model\n- other-model"
	if result != want {
		t.Fatalf("unexpected listing:\n%q\nwant:\n%q", result, want)
	}
}

func TestListModelsEmpty(t *testing.T) {
	w := newTestWorkflow(t, &stubClient{})

	result, err := w.ListModels(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "# No models available" {
		t.Fatalf("unexpected listing: %q", result)
	}
}
