package speech

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/pkg/provider/tts/mock"
	"github.com/MrWong99/animetalk/pkg/voice"
)

var aria = character.Character{
	ID:                "aria",
	Name:              "Aria",
	Role:              "Guide",
	SystemInstruction: "You are a calm and friendly guide.",
	VoiceName:         "Kore",
}

// tone returns seconds of 24 kHz PCM16 at a constant level.
func tone(seconds float64) []byte {
	n := int(seconds * 24000)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		pcm[i*2] = 0x40
		pcm[i*2+1] = 0x1f
	}
	return pcm
}

func TestStrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Hello there.", "Hello there."},
		{"*waves* Hello!", "Hello!"},
		{"I *sighs* suppose  so *shrugs*", "I suppose so"},
		{"*bows deeply*", ""},
		{"  ", ""},
		{"a * b", "a * b"},
	}
	for _, tt := range tests {
		if got := Strip(tt.in); got != tt.want {
			t.Errorf("Strip(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_RequiresTTS(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Error("New without TTS = nil error")
	}
}

func TestSpeak(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Chunks: [][]byte{tone(0.25), tone(0.25)}}
	s, err := New(Config{TTS: p, Voices: map[string]string{"Kore": "nova"}})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Speak(context.Background(), aria, "*draws sword* STOP RIGHT THERE, TRAVELER!!")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if !bytes.HasPrefix(res.WAV, []byte("RIFF")) || !bytes.Contains(res.WAV[:16], []byte("WAVE")) {
		t.Errorf("output is not a WAV file: % x", res.WAV[:16])
	}
	if res.Emotion != voice.KindShout {
		t.Errorf("emotion = %v, want shout", res.Emotion)
	}
	if res.Text != "STOP RIGHT THERE, TRAVELER!!" {
		t.Errorf("text = %q", res.Text)
	}
	// Half a second of speech plus at least a second of tail.
	if res.Duration < 1200*time.Millisecond || res.Duration > 5*time.Second {
		t.Errorf("duration = %v", res.Duration)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	if calls[0].Text != res.Text {
		t.Errorf("synthesized %q, want stripped text", calls[0].Text)
	}
	if calls[0].Voice.ID != "nova" || calls[0].Voice.Name != "Kore" {
		t.Errorf("voice = %+v", calls[0].Voice)
	}
	if !strings.Contains(calls[0].Voice.Instructions, "SHOUT") || !strings.Contains(calls[0].Voice.Instructions, "Act as Aria") {
		t.Errorf("instructions = %q", calls[0].Voice.Instructions)
	}
}

func TestSpeak_WhisperCueInAction(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Chunks: [][]byte{tone(0.1)}}
	s, _ := New(Config{TTS: p})

	res, err := s.Speak(context.Background(), aria, "*whispers* come closer")
	if err != nil {
		t.Fatal(err)
	}
	if res.Emotion != voice.KindWhisper {
		t.Errorf("emotion = %v, want whisper", res.Emotion)
	}
	if got := p.Calls()[0].Voice.ID; got != "Kore" {
		t.Errorf("unmapped voice id = %q, want Kore", got)
	}
}

func TestSpeak_SpeedAndFlash(t *testing.T) {
	t.Parallel()
	slow, _ := New(Config{TTS: &mock.Provider{Chunks: [][]byte{tone(1)}}, Speed: 0.5})
	fast, _ := New(Config{TTS: &mock.Provider{Chunks: [][]byte{tone(1)}}, Speed: 2, Flash: true})

	a, err := slow.Speak(context.Background(), aria, "Hello there.")
	if err != nil {
		t.Fatal(err)
	}
	b, err := fast.Speak(context.Background(), aria, "Hello there.")
	if err != nil {
		t.Fatal(err)
	}
	if a.Duration <= b.Duration {
		t.Errorf("half speed rendered %v, double speed %v; want slower to be longer", a.Duration, b.Duration)
	}
}

func TestSpeak_SplitSamples(t *testing.T) {
	t.Parallel()
	pcm := tone(0.1)
	p := &mock.Provider{Chunks: [][]byte{pcm[:101], pcm[101:2001], pcm[2001:]}}
	s, _ := New(Config{TTS: p})
	if _, err := s.Speak(context.Background(), aria, "Hello."); err != nil {
		t.Errorf("Speak with odd chunk boundaries: %v", err)
	}
}

func TestSpeak_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("quota exceeded")
	tests := []struct {
		name    string
		p       *mock.Provider
		text    string
		wantErr error
	}{
		{"only actions", &mock.Provider{Chunks: [][]byte{tone(0.1)}}, "*nods* *smiles*", ErrNothingToSay},
		{"provider error", &mock.Provider{SynthesizeErr: boom}, "Hi.", boom},
		{"no audio", &mock.Provider{}, "Hi.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := New(Config{TTS: tt.p})
			_, err := s.Speak(context.Background(), aria, tt.text)
			if err == nil {
				t.Fatal("Speak = nil error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSpeak_NothingToSaySkipsSynthesis(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Chunks: [][]byte{tone(0.1)}}
	s, _ := New(Config{TTS: p})
	_, _ = s.Speak(context.Background(), aria, "*silence*")
	if len(p.Calls()) != 0 {
		t.Error("synthesizer called for an action-only line")
	}
}
