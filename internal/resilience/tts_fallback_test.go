package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/animetalk/pkg/provider/tts"
	ttsmock "github.com/MrWong99/animetalk/pkg/provider/tts/mock"
)

func drain(ch <-chan []byte) [][]byte {
	var out [][]byte
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestTTSFallback_SynthesizeStream_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Chunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", BreakerConfig{MaxFailures: 3})
	fb.AddFallback("secondary", secondary)

	audioCh, err := fb.SynthesizeStream(context.Background(), tts.Text("hello"), tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := drain(audioCh)
	if len(chunks) != 2 || string(chunks[0]) != "audio1" {
		t.Fatalf("chunks = %q, want [audio1 audio2]", chunks)
	}
	if n := len(primary.Calls()); n != 1 {
		t.Fatalf("primary called %d times, want 1", n)
	}
	if n := len(secondary.Calls()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestTTSFallback_SynthesizeStream_FailoverReplaysText(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Chunks: [][]byte{{1, 0, 2, 0}}}

	fb := NewTTSFallback(primary, "primary", BreakerConfig{MaxFailures: 3})
	fb.AddFallback("secondary", secondary)

	text := make(chan string, 2)
	text <- "Olá, "
	text <- "mundo"
	close(text)

	audioCh, err := fb.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks := drain(audioCh); len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].Text != "Olá, mundo" {
		t.Errorf("secondary calls = %+v, want full text", calls)
	}
}

func TestTTSFallback_ResamplesFallbackRate(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Rate: 24000, SynthesizeErr: errors.New("down")}
	// 4 samples at 12 kHz become 8 samples at 24 kHz.
	secondary := &ttsmock.Provider{Rate: 12000, Chunks: [][]byte{make([]byte, 8)}}

	fb := NewTTSFallback(primary, "primary", BreakerConfig{})
	fb.AddFallback("secondary", secondary)

	if got := fb.SampleRate(); got != 24000 {
		t.Fatalf("SampleRate() = %d, want 24000", got)
	}
	audioCh, err := fb.SynthesizeStream(context.Background(), tts.Text("x"), tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := drain(audioCh)
	if len(chunks) != 1 || len(chunks[0]) != 16 {
		t.Fatalf("chunks = %v, want one 16-byte chunk", chunks)
	}
}

func TestTTSFallback_SynthesizeStream_AllFail(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", BreakerConfig{MaxFailures: 3})
	fb.AddFallback("secondary", secondary)

	_, err := fb.SynthesizeStream(context.Background(), tts.Text(""), tts.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Voices: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}, {ID: "v2", Name: "Bob"}}}

	fb := NewTTSFallback(primary, "primary", BreakerConfig{MaxFailures: 3})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Alice" {
		t.Fatalf("voices = %+v", voices)
	}
}

func TestTTSFallback_Backends(t *testing.T) {
	t.Parallel()
	fb := NewTTSFallback(&ttsmock.Provider{}, "elevenlabs", BreakerConfig{})
	fb.AddFallback("openai", &ttsmock.Provider{})
	if got := fb.Backends(); len(got) != 2 || got[0] != "elevenlabs" || got[1] != "openai" {
		t.Errorf("Backends() = %v, want [elevenlabs openai]", got)
	}
}

func TestTTSFallback_Check(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	fb := NewTTSFallback(primary, "elevenlabs", BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	fb.AddFallback("openai", secondary)
	ctx := context.Background()

	if err := fb.Check(ctx); err != nil {
		t.Fatalf("Check() before failures = %v", err)
	}
	if _, err := fb.SynthesizeStream(ctx, tts.Text("olá"), tts.VoiceProfile{ID: "v"}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("SynthesizeStream() = %v, want ErrAllFailed", err)
	}
	if err := fb.Check(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Check() = %v, want ErrCircuitOpen", err)
	}
}
