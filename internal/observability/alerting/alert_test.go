package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "PromptForge-MCP/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(ctx context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func sampleEvent() Event {
	return Event{
		RequestID:  "req-1",
		Tool:       "handover_prompt",
		Provider:   "local",
		Model:      "qwen/qwen3-8b",
		Code:       xerrors.CodeExecutionFailure,
		Message:    "backend returned 500",
		Severity:   xerrors.SeverityCritical,
		OccurredAt: time.Now(),
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	first := &recordingNotifier{channel: ChannelLog}
	second := &recordingNotifier{channel: ChannelSlack}
	dispatcher := NewFanout(first, second)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected one event per channel, got %d and %d", len(first.events), len(second.events))
	}
}

func TestFanoutCollectsFailures(t *testing.T) {
	sentinel := errors.New("webhook down")
	failing := &recordingNotifier{channel: ChannelDingTalk, err: sentinel}
	healthy := &recordingNotifier{channel: ChannelLog}
	dispatcher := NewFanout(failing, healthy)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected joined error to carry the failure, got %v", err)
	}
	// The healthy channel must still receive the event.
	if len(healthy.events) != 1 {
		t.Fatalf("expected delivery despite sibling failure, got %d", len(healthy.events))
	}
}

func TestLogNotifierHandlesNilLogger(t *testing.T) {
	notifier := &LogNotifier{}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
}
