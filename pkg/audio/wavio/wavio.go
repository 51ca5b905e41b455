// Package wavio reads and writes WAV files for rendered voice audio and
// reverb impulse responses.
package wavio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/animetalk/pkg/audio/dsp"
)

// ErrInvalidFile is returned when a reader does not hold a decodable WAV
// stream.
var ErrInvalidFile = errors.New("wavio: invalid wav file")

const bitDepth = 16

// Encode writes interleaved float samples as a 16-bit PCM WAV stream.
func Encode(w io.WriteSeeker, samples []float32, sampleRate, channels int) error {
	enc := wav.NewEncoder(w, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           toInts(samples),
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavio: write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavio: close encoder: %w", err)
	}
	return nil
}

func toInts(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		s = max(-1, min(1, s))
		if s < 0 {
			out[i] = int(s * 32768)
		} else {
			out[i] = int(s * 32767)
		}
	}
	return out
}

// ── Streaming writer ────────────────────────────────────────────────────────

// Recorder streams stereo frames into a WAV file on disk. It is safe for
// concurrent use and Close is idempotent.
type Recorder struct {
	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	format *audio.Format
	closed bool
	frames int
}

// Create opens path for writing and prepares a stereo WAV header at
// sampleRate.
func Create(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: create %s: %w", path, err)
	}
	return &Recorder{
		f:      f,
		enc:    wav.NewEncoder(f, sampleRate, bitDepth, 2, 1),
		format: &audio.Format{NumChannels: 2, SampleRate: sampleRate},
	}, nil
}

// WriteStereo interleaves left and right and appends them to the file.
func (r *Recorder) WriteStereo(left, right []float32) error {
	inter := make([]float32, 2*len(left))
	for i := range left {
		inter[2*i] = left[i]
		inter[2*i+1] = right[i]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}
	buf := &audio.IntBuffer{Format: r.format, Data: toInts(inter), SourceBitDepth: bitDepth}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("wavio: record: %w", err)
	}
	r.frames += len(left)
	return nil
}

// Frames reports how many stereo frames have been written.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close finalises the WAV header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	encErr := r.enc.Close()
	fileErr := r.f.Close()
	if encErr != nil {
		return fmt.Errorf("wavio: close encoder: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("wavio: close file: %w", fileErr)
	}
	return nil
}

// ── Impulse responses ───────────────────────────────────────────────────────

// LoadImpulse decodes a WAV impulse response, folds it to mono, resamples it
// to sampleRate and normalises it the same way as a synthetic impulse.
func LoadImpulse(r io.ReadSeeker, sampleRate int) ([]float64, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrInvalidFile
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavio: decode impulse: %w", err)
	}
	chans := int(d.NumChans)
	if chans <= 0 || len(buf.Data) < chans {
		return nil, ErrInvalidFile
	}

	full := math.Pow(2, float64(d.BitDepth)-1)
	frames := len(buf.Data) / chans
	channels := make([][]float64, chans)
	for c := range channels {
		channels[c] = make([]float64, frames)
		for i := range frames {
			channels[c][i] = float64(buf.Data[i*chans+c]) / full
		}
	}

	srcRate := int(d.SampleRate)
	for c := range channels {
		channels[c] = resampleLinear(channels[c], srcRate, sampleRate)
	}
	scale := dsp.NormalizationScale(channels, sampleRate)

	mono := make([]float64, len(channels[0]))
	for i := range mono {
		var sum float64
		for _, ch := range channels {
			sum += ch[i]
		}
		mono[i] = sum / float64(chans) * scale
	}
	return mono, nil
}

// LoadImpulseFile is [LoadImpulse] reading from path.
func LoadImpulseFile(path string, sampleRate int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: open impulse: %w", err)
	}
	defer f.Close()
	return LoadImpulse(f, sampleRate)
}

func resampleLinear(in []float64, srcRate, dstRate int) []float64 {
	if srcRate == dstRate || srcRate <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	out := make([]float64, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		k := int(pos)
		frac := pos - float64(k)
		a := in[k]
		b := a
		if k+1 < len(in) {
			b = in[k+1]
		}
		out[i] = a + (b-a)*frac
	}
	return out
}

// ── In-memory target ────────────────────────────────────────────────────────

// Buffer is an in-memory [io.WriteSeeker] for encoding WAV data that is
// served from memory rather than written to disk.
type Buffer struct {
	data []byte
	pos  int
}

// Write writes p at the current offset, growing the buffer as needed.
func (b *Buffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

// Seek sets the offset for the next Write.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("wavio: seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("wavio: seek: negative position %d", abs)
	}
	b.pos = int(abs)
	return abs, nil
}

// Bytes returns the encoded data.
func (b *Buffer) Bytes() []byte { return b.data }
