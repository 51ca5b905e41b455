package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/animetalk/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Rei.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Oi"},
			{Role: llm.RoleAssistant, Content: "..."},
			{Role: llm.RoleUser, Content: "Tudo bem?"},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	})

	if params.Model != "gemini-2.5-flash" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are Rei." {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[3].Role != "user" || params.Messages[3].ContentString() != "Tudo bem?" {
		t.Errorf("last message = %+v", params.Messages[3])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if len(params.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1 without a system prompt", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens must be left unset")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		opts     []anyllmlib.Option
		wantErr  bool
	}{
		{"empty provider", "", "gpt-4o", nil, true},
		{"empty model", "openai", "", nil, true},
		{"unsupported", "fakecloud", "m", []anyllmlib.Option{anyllmlib.WithAPIKey("dummy")}, true},
		{"openai with key", "openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}, false},
		{"anthropic with key", "Anthropic", "claude-sonnet-4", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}, false},
		{"ollama without key", "ollama", "llama3", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.provider, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}

func TestNew_OpenAIMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
