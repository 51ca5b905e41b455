package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/animetalk/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64

	// mixWindow is how long decoded participant frames wait for other
	// speakers before the mixed frame is emitted.
	mixWindow = opusFrameSizeMs * time.Millisecond
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are decoded with one
// decoder per SSRC and summed into a single 48 kHz stereo microphone stream.
// Outgoing frames are converted to 48 kHz stereo and Opus-encoded.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc *discordgo.VoiceConnection

	input  chan audio.AudioFrame
	output chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection starts the receive and send loops for an already-joined
// voice channel.
func newConnection(vc *discordgo.VoiceConnection) *Connection {
	c := &Connection{
		vc:           vc,
		input:        make(chan audio.AudioFrame, inputChannelBuffer),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	go c.recvLoop()
	go c.sendLoop()
	return c
}

// InputStream returns the mixed participant audio at 48 kHz stereo.
func (c *Connection) InputStream() <-chan audio.AudioFrame { return c.input }

// OutputStream returns the channel for rendered call audio.
func (c *Connection) OutputStream() chan<- audio.AudioFrame { return c.output }

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Disconnect leaves the voice channel and stops the background loops. It is
// safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// ── Receive ─────────────────────────────────────────────────────────────────

// recvLoop decodes packets per SSRC and mixes the speakers heard within one
// window into a single frame. A second packet from an SSRC that is already
// pending closes the window early.
func (c *Connection) recvLoop() {
	defer close(c.input)

	decoders := make(map[uint32]*opusDecoder)
	pending := make(map[uint32][]int16)
	var start time.Duration

	flush := func() {
		if len(pending) == 0 {
			return
		}
		frame := audio.AudioFrame{
			Data:       int16sToBytes(mixInt16(pending)),
			SampleRate: opusSampleRate,
			Channels:   opusChannels,
			Timestamp:  start,
		}
		clear(pending)
		select {
		case c.input <- frame:
		default:
			slog.Debug("discord: input stream full, frame dropped")
		}
	}

	ticker := time.NewTicker(mixWindow)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			flush()
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				flush()
				_ = c.Disconnect()
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			if _, dup := pending[pkt.SSRC]; dup {
				flush()
			}
			if len(pending) == 0 {
				start = time.Duration(pkt.Timestamp) * time.Second / opusSampleRate
			}
			pending[pkt.SSRC] = pcm
		}
	}
}

// mixInt16 sums the buffers with saturation. The result is as long as the
// longest buffer.
func mixInt16(bufs map[uint32][]int16) []int16 {
	n := 0
	for _, b := range bufs {
		n = max(n, len(b))
	}
	acc := make([]int32, n)
	for _, b := range bufs {
		for i, s := range b {
			acc[i] += int32(s)
		}
	}
	out := make([]int16, n)
	for i, v := range acc {
		out[i] = int16(max(-32768, min(32767, v)))
	}
	return out
}

// ── Send ────────────────────────────────────────────────────────────────────

// sendLoop converts rendered frames to 48 kHz stereo, cuts them into exact
// Opus frames and sends them. The speaking flag follows the stream.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "error", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}
	speaking := false

	var buf []byte

	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case frame := <-c.output:
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}

			buf = append(buf, conv.Convert(frame).Data...)
			for len(buf) >= opusFrameBytes {
				packet, eErr := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if eErr != nil {
					slog.Warn("discord: opus encode error", "error", eErr)
					continue
				}
				select {
				case c.vc.OpusSend <- packet:
				case <-c.done:
					return
				}
			}
		}
	}
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
