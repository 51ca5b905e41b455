package discord

import (
	"slices"
	"testing"
)

func TestPCMByteConversion(t *testing.T) {
	t.Parallel()
	pcm := []int16{0, 1, -1, 32767, -32768, 1234}
	b := int16sToBytes(pcm)
	if len(b) != 2*len(pcm) || b[2] != 0x01 || b[3] != 0x00 || b[4] != 0xff || b[5] != 0xff {
		t.Fatalf("int16sToBytes = %v", b)
	}
	if got := bytesToInt16s(b); !slices.Equal(got, pcm) {
		t.Errorf("bytesToInt16s = %v, want %v", got, pcm)
	}
}

func TestOpusEncoderRejectsShortFrame(t *testing.T) {
	t.Parallel()
	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatalf("newOpusEncoder: %v", err)
	}
	if _, err := enc.encode(make([]byte, opusFrameBytes-2)); err == nil {
		t.Error("encode(short frame) = nil error")
	}
	if _, err := enc.encode(make([]byte, opusFrameBytes)); err != nil {
		t.Errorf("encode(full frame) = %v", err)
	}
}
