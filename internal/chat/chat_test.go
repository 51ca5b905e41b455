package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/pkg/provider/llm"
	"github.com/MrWong99/animetalk/pkg/provider/llm/mock"
)

var sage = character.Character{
	ID:                 "sage",
	Name:               "Sage",
	Role:               "Mentor",
	SystemInstruction:  "You are a patient mentor.",
	CustomInstructions: []string{"Answer briefly."},
}

func TestReply(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Reply: "  Patience, young one.  "}
	s := New(p, WithTemperature(0.4), WithMaxTokens(256))

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "Hi"},
		{Role: llm.RoleAssistant, Content: "Hello."},
	}
	reply, updated, err := s.Reply(context.Background(), sage, history, " How do I learn? ")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "Patience, young one." {
		t.Errorf("reply = %q", reply)
	}
	if len(updated) != 4 || updated[2].Content != "How do I learn?" || updated[3].Role != llm.RoleAssistant {
		t.Errorf("updated history = %+v", updated)
	}
	if len(history) != 2 {
		t.Errorf("input history modified: %+v", history)
	}

	req := p.Calls()[0]
	if req.SystemPrompt != character.ChatInstruction(sage) {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.4 || req.MaxTokens != 256 {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 3 || req.Messages[2].Role != llm.RoleUser {
		t.Errorf("request messages = %+v", req.Messages)
	}
}

func TestReply_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("rate limited")
	tests := []struct {
		name    string
		p       *mock.Provider
		text    string
		wantErr error
	}{
		{"blank message", &mock.Provider{Reply: "x"}, "   ", ErrEmptyMessage},
		{"provider error", &mock.Provider{Err: boom}, "hi", boom},
		{"empty reply", &mock.Provider{Reply: " "}, "hi", ErrEmptyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := New(tt.p).Reply(context.Background(), sage, nil, tt.text)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReply_CapsHistory(t *testing.T) {
	t.Parallel()
	var history []llm.Message
	for i := range 120 {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: fmt.Sprint(i)})
	}
	p := &mock.Provider{Reply: "ok"}
	_, updated, err := New(p).Reply(context.Background(), sage, history, "latest")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated) != MaxHistory {
		t.Errorf("len(updated) = %d, want %d", len(updated), MaxHistory)
	}
	if updated[len(updated)-1].Content != "ok" || updated[len(updated)-2].Content != "latest" {
		t.Errorf("tail = %+v", updated[len(updated)-2:])
	}
	if got := len(p.Calls()[0].Messages); got != MaxHistory {
		t.Errorf("sent %d messages, want %d", got, MaxHistory)
	}
}

func TestSay_KeepsConversation(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Reply: "Indeed."}
	s := New(p)
	ctx := context.Background()

	if _, err := s.Say(ctx, sage, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Say(ctx, sage, "second"); err != nil {
		t.Fatal(err)
	}
	if got := len(s.History("sage")); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
	if got := len(p.Calls()[1].Messages); got != 3 {
		t.Errorf("second request carried %d messages, want 3", got)
	}
	if got := len(s.History("other")); got != 0 {
		t.Errorf("unrelated history = %d messages", got)
	}

	s.Clear("sage")
	if got := len(s.History("sage")); got != 0 {
		t.Errorf("history after Clear = %d", got)
	}
}

func TestSay_FailureKeepsHistory(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Reply: "yes"}
	s := New(p)
	_, _ = s.Say(context.Background(), sage, "one")

	failing := New(&mock.Provider{Err: errors.New("down")})
	failing.histories["sage"] = s.History("sage")
	if _, err := failing.Say(context.Background(), sage, "two"); err == nil {
		t.Fatal("Say = nil error")
	}
	if got := len(failing.History("sage")); got != 2 {
		t.Errorf("history = %d messages after failure, want 2", got)
	}
}
