package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/animetalk/pkg/provider/tts"
)

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("New(\"\") = nil error")
	}
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	type request struct {
		Model          string  `json:"model"`
		Input          string  `json:"input"`
		Voice          string  `json:"voice"`
		ResponseFormat string  `json:"response_format"`
		Instructions   string  `json:"instructions"`
		Speed          float64 `json:"speed"`
	}
	got := make(chan request, 1)
	pcm := make([]byte, chunkBytes+101)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)
		got <- req
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	t.Cleanup(srv.Close)

	p, err := New("k", WithBaseURL(srv.URL+"/"), WithSpeed(1.25))
	if err != nil {
		t.Fatal(err)
	}

	text := make(chan string, 2)
	text <- "Hello "
	text <- "world"
	close(text)

	audio, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "nova", Instructions: "Act sad"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var sizes []int
	for chunk := range audio {
		sizes = append(sizes, len(chunk))
	}
	if len(sizes) != 2 || sizes[0] != chunkBytes || sizes[1] != 100 {
		t.Errorf("chunk sizes = %v, want [%d 100]", sizes, chunkBytes)
	}

	req := <-got
	if req.Model != defaultModel || req.Input != "Hello world" || req.Voice != "nova" {
		t.Errorf("request = %+v", req)
	}
	if req.ResponseFormat != "pcm" || req.Instructions != "Act sad" || req.Speed != 1.25 {
		t.Errorf("request options = %+v", req)
	}
}

func TestSynthesizeStream_Validation(t *testing.T) {
	t.Parallel()
	p, _ := New("k")
	if _, err := p.SynthesizeStream(context.Background(), tts.Text("x"), tts.VoiceProfile{}); !errors.Is(err, tts.ErrNoVoice) {
		t.Errorf("no voice: err = %v", err)
	}
	if _, err := p.SynthesizeStream(context.Background(), tts.Text("   "), tts.VoiceProfile{ID: "nova"}); err == nil {
		t.Error("blank text: err = nil")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	p, _ := New("k")
	vs, err := p.ListVoices(context.Background())
	if err != nil || len(vs) != len(voices) {
		t.Fatalf("ListVoices = %d voices, %v", len(vs), err)
	}
	if p.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d", p.SampleRate())
	}
}
