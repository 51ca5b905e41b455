package audio_test

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/animetalk/pkg/audio"
)

func TestFloatToPCM16_Clips(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.FloatToPCM16([]float32{0, 1.5, -1.5, 0.5, -0.5}))
	equalSamples(t, got, []int16{0, 32767, -32768, 16383, -16384})
}

func TestPCM16ToFloat(t *testing.T) {
	t.Parallel()
	got := audio.PCM16ToFloat(samplesToBytes([]int16{0, -32768, 16384}))
	want := []float32{0, -1, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestInterleaveStereo16(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.InterleaveStereo16([]float32{0.5, 0}, []float32{-0.5, 1, 7}))
	equalSamples(t, got, []int16{16383, -16384, 0, 32767})
}

func TestDecodeBase64PCM16(t *testing.T) {
	t.Parallel()

	valid := base64.StdEncoding.EncodeToString(samplesToBytes([]int16{16384, -16384}))

	tests := []struct {
		name     string
		data     string
		channels int
		wantLen  int
		wantErr  bool
	}{
		{name: "mono", data: valid, channels: 1, wantLen: 2},
		{name: "stereo", data: valid, channels: 2, wantLen: 2},
		{name: "not base64", data: "!!!not-base64", channels: 1, wantErr: true},
		{name: "empty", data: "", channels: 1, wantErr: true},
		{name: "odd bytes", data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), channels: 1, wantErr: true},
		{name: "zero channels", data: valid, channels: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.DecodeBase64PCM16(tt.data, tt.channels)
			if tt.wantErr {
				if !errors.Is(err, audio.ErrMalformedPCM) {
					t.Fatalf("err = %v, want ErrMalformedPCM", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(square 0.5) = %v, want 0.5", got)
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	t.Parallel()
	f := audio.AudioFrame{Data: make([]byte, 24000*2*2), SampleRate: 24000, Channels: 2}
	if got := f.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want 1s", got)
	}
	if got := (audio.AudioFrame{}).Samples(); got != 0 {
		t.Errorf("zero frame Samples() = %d, want 0", got)
	}
}
