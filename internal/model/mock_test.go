package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockChatModelReturnsResponsesInOrderThenRepeatsLast(t *testing.T) {
	m := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}

	out1, _ := m.Chat(context.Background(), nil, nil)
	out2, _ := m.Chat(context.Background(), nil, nil)
	out3, _ := m.Chat(context.Background(), nil, nil)

	if out1.Text != "first" || out2.Text != "second" || out3.Text != "second" {
		t.Errorf("unexpected sequence: %q %q %q", out1.Text, out2.Text, out3.Text)
	}
	if m.CallCount() != 3 {
		t.Errorf("expected 3 recorded calls, got %d", m.CallCount())
	}
}

func TestMockChatModelReturnsConfiguredError(t *testing.T) {
	wantErr := errors.New("boom")
	m := &MockChatModel{Err: wantErr}

	_, err := m.Chat(context.Background(), nil, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected configured error, got %v", err)
	}
}

func TestMockChatModelRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &MockChatModel{Responses: []ChatOut{{Text: "should not be reached"}}}

	_, err := m.Chat(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if m.CallCount() != 0 {
		t.Error("expected a cancelled context to skip recording the call")
	}
}

func TestMockChatModelRecordsMessagesAndTools(t *testing.T) {
	m := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	tools := []ToolSpec{{Name: "search"}}

	_, _ = m.Chat(context.Background(), msgs, tools)

	if len(m.Calls) != 1 {
		t.Fatalf("expected one call recorded, got %d", len(m.Calls))
	}
	if m.Calls[0].Messages[0].Content != "hi" || m.Calls[0].Tools[0].Name != "search" {
		t.Errorf("unexpected recorded call: %+v", m.Calls[0])
	}
}

func TestMockChatModelResetClearsCallHistory(t *testing.T) {
	m := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
	_, _ = m.Chat(context.Background(), nil, nil)
	_, _ = m.Chat(context.Background(), nil, nil)

	m.Reset()

	if m.CallCount() != 0 {
		t.Errorf("expected call count reset to 0, got %d", m.CallCount())
	}
	out, _ := m.Chat(context.Background(), nil, nil)
	if out.Text != "a" {
		t.Errorf("expected response index reset to the first response, got %q", out.Text)
	}
}
