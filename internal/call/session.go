package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/animetalk/internal/calllog"
	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/internal/observe"
	"github.com/MrWong99/animetalk/pkg/audio"
	"github.com/MrWong99/animetalk/pkg/audio/capture"
	"github.com/MrWong99/animetalk/pkg/audio/dsp"
	"github.com/MrWong99/animetalk/pkg/audio/playback"
	"github.com/MrWong99/animetalk/pkg/audio/visualizer"
	"github.com/MrWong99/animetalk/pkg/audio/wavio"
	"github.com/MrWong99/animetalk/pkg/provider/live"
	"github.com/MrWong99/animetalk/pkg/voice"
)

// AudioSettings holds the per-call audio parameters. Zero values take the
// package defaults of the audio packages.
type AudioSettings struct {
	OutputSampleRate int
	GateThreshold    float64
	BlockSize        int
	Epsilon          float64
	BlockQuanta      int

	// Impulse replaces the synthesized reverb impulse when non-nil.
	Impulse []float64
}

func (a AudioSettings) withDefaults() AudioSettings {
	if a.OutputSampleRate <= 0 {
		a.OutputSampleRate = live.DefaultOutputSampleRate
	}
	if a.GateThreshold <= 0 {
		a.GateThreshold = capture.DefaultThreshold
	}
	if a.BlockSize <= 0 {
		a.BlockSize = capture.DefaultBlockSize
	}
	if a.Epsilon <= 0 {
		a.Epsilon = playback.DefaultEpsilon
	}
	if a.BlockQuanta <= 0 {
		a.BlockQuanta = playback.DefaultBlockQuanta
	}
	return a
}

// Config describes one call.
type Config struct {
	// Character answers the call.
	Character character.Character

	// Upstream opens the live session.
	Upstream live.Provider

	// Device binds the audio device; Target is passed to its Connect.
	Device audio.Platform
	Target string

	// CallLog receives one entry when the call is hung up. Optional.
	CallLog calllog.Store

	// Greeting is sent as a text turn after connecting. Optional.
	Greeting string

	Temperature     float64
	TopP            float64
	MaxOutputTokens int

	Audio AudioSettings

	// RecordPath, when set, tees the rendered output of the call into a WAV
	// file. The call id is appended to the base name.
	RecordPath string

	// InterruptHold is how long the interrupted indicator stays up.
	InterruptHold time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnEvent receives state transitions and indicator changes. It is called
	// from the controller and timer goroutines and must not block.
	OnEvent func(Event)
}

// ── Messages ──────────────────────────────────────────────────────────────

type msgKind int

const (
	msgRetry msgKind = iota
	msgHangup
	msgUpstream
	msgPipeline
	msgDeviceGone
)

// message is the controller's only input. gen ties attempt-scoped messages
// to the attempt that produced them so that late messages from a released
// attempt are ignored.
type message struct {
	kind msgKind
	gen  uint64
	ev   live.Event
	err  error
}

// attempt owns every resource of one connection attempt.
type attempt struct {
	gen      uint64
	profile  voice.EffectiveProfile
	graph    *dsp.Graph
	clock    *playback.SampleClock
	sched    *playback.Scheduler
	gate     *capture.Gate
	queue    *capture.Queue
	viz      *visualizer.Sampler
	conn     audio.Connection
	upstream live.Session

	cancel  context.CancelFunc
	stopped chan struct{}
}

// Session is one call. Create it with [New], start it with [Run] and end it
// with [Hangup].
type Session struct {
	cfg     Config
	id      string
	log     *slog.Logger
	metrics *observe.Metrics

	msgs chan message
	done chan struct{}

	indicator *Indicator
	logOnce   sync.Once
	recorder  *wavio.Recorder
	startedAt time.Time

	// Owned by the controller goroutine.
	gen     uint64
	counted bool

	mu            sync.Mutex
	state         State
	lastErr       error
	att           *attempt
	connectCancel context.CancelFunc
	hangingUp     bool
}

// New validates cfg and returns an idle session.
func New(cfg Config) (*Session, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("call: upstream provider is required")
	}
	if cfg.Device == nil {
		return nil, errors.New("call: device is required")
	}
	if err := cfg.Character.Validate(); err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	cfg.Audio = cfg.Audio.withDefaults()
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	id := uuid.NewString()
	s := &Session{
		cfg:       cfg,
		id:        id,
		log:       slog.With("call_id", id, "character", cfg.Character.ID),
		metrics:   cfg.Metrics,
		msgs:      make(chan message, 64),
		done:      make(chan struct{}),
		state:     StateConnecting,
		startedAt: time.Now(),
	}
	s.indicator = NewIndicator(cfg.InterruptHold, func(on bool) {
		s.emit(Event{Kind: EventInterrupted, Interrupted: on})
	})
	return s, nil
}

// ID returns the call id.
func (s *Session) ID() string { return s.id }

// Character returns the character answering the call.
func (s *Session) Character() character.Character { return s.cfg.Character }

// StartedAt returns when the call was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed when the controller has exited after a hangup.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state and, in StateError, its cause.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Interrupted reports whether the interrupted indicator is up.
func (s *Session) Interrupted() bool { return s.indicator.Active() }

// Playback reports the number of chunks still scheduled and the time at
// which the next chunk would start. Both are zero outside StateConnected.
func (s *Session) Playback() (active int, nextStart float64) {
	s.mu.Lock()
	att := s.att
	s.mu.Unlock()
	if att == nil {
		return 0, 0
	}
	return att.sched.ActiveCount(), att.sched.NextStartTime()
}

// Visualizer samples the output analyser and the capture level. ok is false
// when no attempt is connected.
func (s *Session) Visualizer() (snap visualizer.Snapshot, ok bool) {
	s.mu.Lock()
	att := s.att
	s.mu.Unlock()
	if att == nil {
		return visualizer.Snapshot{}, false
	}
	return att.viz.Sample(), true
}

// ── Commands ──────────────────────────────────────────────────────────────

// Retry tears down the current attempt, if any, and connects again.
func (s *Session) Retry() {
	select {
	case s.msgs <- message{kind: msgRetry}:
	case <-s.done:
	}
}

// Hangup ends the call and waits for the controller to release every
// resource. It is idempotent and requires [Run] to have been started.
func (s *Session) Hangup() {
	s.mu.Lock()
	s.hangingUp = true
	if s.connectCancel != nil {
		s.connectCancel()
	}
	s.mu.Unlock()

	select {
	case s.msgs <- message{kind: msgHangup}:
	case <-s.done:
	}
	<-s.done
}

// OnUpstreamInterrupt stops every scheduled chunk and raises the
// interrupted indicator. Calling it with nothing scheduled still raises the
// indicator once.
func (s *Session) OnUpstreamInterrupt() {
	s.mu.Lock()
	att := s.att
	s.mu.Unlock()

	stopped := 0
	if att != nil {
		stopped = att.sched.Reset()
	}
	s.metrics.Interruptions.Add(context.Background(), 1)
	s.indicator.Raise()
	s.log.Debug("call interrupted", "stopped_chunks", stopped)
}

// ── Controller ────────────────────────────────────────────────────────────

// Run connects and then serves commands and events until the call is hung
// up or ctx is cancelled. It always releases the call's resources before
// returning.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	if s.cfg.RecordPath != "" {
		path := recordPath(s.cfg.RecordPath, s.id)
		rec, err := wavio.Create(path, s.cfg.Audio.OutputSampleRate)
		if err != nil {
			s.log.Warn("call: recording disabled", "path", path, "err", err)
		} else {
			s.recorder = rec
			s.log.Info("recording call", "path", path)
		}
	}

	s.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			s.hangup()
			return nil
		case m := <-s.msgs:
			switch m.kind {
			case msgHangup:
				s.hangup()
				return nil
			case msgRetry:
				if s.isHangingUp() {
					continue
				}
				s.log.Info("retrying call")
				if s.att != nil {
					s.release(s.att)
				}
				s.connect(ctx)
			case msgUpstream:
				if s.current(m.gen) {
					s.handleUpstream(m.ev)
				}
			case msgPipeline:
				if s.current(m.gen) {
					s.fail(m.err)
				}
			case msgDeviceGone:
				if s.current(m.gen) {
					s.log.Info("device went away, hanging up")
					s.hangup()
					return nil
				}
			}
		}
	}
}

func (s *Session) current(gen uint64) bool {
	return gen == s.gen && s.att != nil
}

func (s *Session) isHangingUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hangingUp
}

// connect runs one attempt up to StateConnected or StateError.
func (s *Session) connect(parent context.Context) {
	s.gen++
	s.setState(StateConnecting, nil)

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.connectCancel = cancel
	s.mu.Unlock()

	att, err := s.open(ctx, s.gen)
	if err != nil {
		cancel()
		if s.isHangingUp() {
			return
		}
		s.metrics.RecordProviderError(context.Background(), "call", "connect")
		s.setState(StateError, err)
		return
	}
	att.cancel = cancel

	s.mu.Lock()
	s.att = att
	s.mu.Unlock()

	s.start(ctx, att)
	if s.cfg.Greeting != "" {
		if err := att.queue.SendText(ctx, s.cfg.Greeting); err != nil {
			s.log.Warn("call: greeting not sent", "err", err)
		}
	}
	s.setState(StateConnected, nil)
}

// open builds the graph, binds the device and opens the upstream session.
// On error everything already acquired is released.
func (s *Session) open(ctx context.Context, gen uint64) (*attempt, error) {
	a := s.cfg.Audio
	profile := s.cfg.Character.Profile().Identity()

	opts := []dsp.Option{dsp.WithSampleRate(a.OutputSampleRate)}
	if a.Impulse != nil {
		opts = append(opts, dsp.WithImpulse(a.Impulse))
	}
	graph, err := dsp.Build(profile, dsp.Call, opts...)
	if err != nil {
		return nil, fmt.Errorf("call: build graph: %w", err)
	}

	conn, err := s.cfg.Device.Connect(ctx, s.cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("call: bind device: %w", err)
	}

	c := s.cfg.Character
	sessCfg := live.DefaultSessionConfig(c.Voice(), character.FullInstruction(c))
	if s.cfg.Temperature > 0 {
		sessCfg.Temperature = s.cfg.Temperature
	}
	if s.cfg.TopP > 0 {
		sessCfg.TopP = s.cfg.TopP
	}
	if s.cfg.MaxOutputTokens > 0 {
		sessCfg.MaxOutputTokens = s.cfg.MaxOutputTokens
	}

	start := time.Now()
	up, err := s.cfg.Upstream.Connect(ctx, sessCfg)
	s.metrics.ConnectDuration.Record(context.Background(), time.Since(start).Seconds())
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("call: connect upstream: %w", err)
	}

	bg := context.Background()
	clock := playback.NewSampleClock(a.OutputSampleRate)
	sched := playback.NewScheduler(clock, playback.WithEpsilon(a.Epsilon))
	queue := capture.NewQueue(0)
	gate := capture.NewGate(queue,
		capture.WithBlockSize(a.BlockSize),
		capture.WithThreshold(a.GateThreshold),
		capture.WithBlockHook(func(o capture.Outcome) {
			s.metrics.RecordGateBlock(bg, o.String())
		}),
	)

	s.log.Info("call connected",
		"voice", sessCfg.Voice,
		"detune", profile.Detune,
		"connect_ms", time.Since(start).Milliseconds(),
	)
	return &attempt{
		gen:      gen,
		profile:  profile,
		graph:    graph,
		clock:    clock,
		sched:    sched,
		gate:     gate,
		queue:    queue,
		viz:      visualizer.New(graph.Analyser(), gate),
		conn:     conn,
		upstream: up,
		stopped:  make(chan struct{}),
	}, nil
}

// start launches the attempt's workers: renderer, capture gate, outbound
// queue, event pump and device watcher.
func (s *Session) start(ctx context.Context, att *attempt) {
	rendererOpts := []playback.RendererOption{
		playback.WithBlockQuanta(s.cfg.Audio.BlockQuanta),
		playback.WithDropHook(func() {
			s.metrics.RenderBlocksDropped.Add(context.Background(), 1)
		}),
	}
	if s.recorder != nil {
		rendererOpts = append(rendererOpts, playback.WithTee(s.recorder))
	}
	renderer := playback.NewRenderer(att.clock, att.sched, att.graph, rendererOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return renderer.Run(gctx, att.conn.OutputStream()) })
	g.Go(func() error { return att.gate.Run(gctx, att.conn.InputStream()) })
	g.Go(func() error { return att.queue.Run(gctx, att.upstream) })
	g.Go(func() error {
		select {
		case <-att.conn.Done():
			s.post(ctx, message{kind: msgDeviceGone, gen: att.gen})
		case <-gctx.Done():
		}
		return nil
	})

	// The pump is outside the group: it must deliver EventClosed even when
	// a worker failure has already cancelled the group.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range att.upstream.Events() {
			s.post(ctx, message{kind: msgUpstream, gen: att.gen, ev: ev})
		}
	}()

	go func() {
		err := g.Wait()
		if err != nil && ctx.Err() == nil && !errors.Is(err, live.ErrSessionClosed) {
			s.post(ctx, message{kind: msgPipeline, gen: att.gen, err: err})
		}
		<-pumpDone
		close(att.stopped)
	}()
}

// post delivers m unless the attempt or the controller is gone.
func (s *Session) post(ctx context.Context, m message) {
	select {
	case s.msgs <- m:
	case <-ctx.Done():
	case <-s.done:
	}
}

func (s *Session) handleUpstream(ev live.Event) {
	att := s.att
	switch ev.Kind {
	case live.EventAudio:
		ctx := context.Background()
		if _, err := att.sched.EnqueueBase64(ev.Audio, ev.SampleRate, att.profile.Rate, att.profile.Detune); err != nil {
			s.metrics.ChunksSkipped.Add(ctx, 1)
			s.log.Debug("call: skipping audio chunk", "err", err)
			return
		}
		s.metrics.ChunksScheduled.Add(ctx, 1)
	case live.EventInterrupted:
		s.OnUpstreamInterrupt()
	case live.EventTurnComplete:
		s.log.Debug("turn complete", "scheduled", att.sched.ActiveCount())
	case live.EventClosed:
		s.log.Info("upstream closed the session")
		s.release(att)
		s.setState(StateDisconnected, nil)
	case live.EventError:
		s.metrics.RecordProviderError(context.Background(), "upstream", "session")
		s.fail(fmt.Errorf("call: upstream: %w", ev.Err))
	}
}

// fail releases the current attempt and enters StateError. There is no
// automatic retry.
func (s *Session) fail(err error) {
	if s.att != nil {
		s.release(s.att)
	}
	s.log.Warn("call failed", "err", err)
	s.setState(StateError, err)
}

// release stops playback and frees every resource of att. It is only called
// from the controller, once per attempt.
func (s *Session) release(att *attempt) {
	att.cancel()
	att.sched.Reset()
	att.queue.Close()
	var errs []error
	if err := att.upstream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close upstream: %w", err))
	}
	if err := att.conn.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect device: %w", err))
	}
	<-att.stopped
	att.graph.Reset()

	s.mu.Lock()
	if s.att == att {
		s.att = nil
	}
	s.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		s.log.Warn("call: release", "err", err)
	}
}

// hangup is the terminal transition. The call log entry is written once no
// matter how many hangups arrive.
func (s *Session) hangup() {
	s.mu.Lock()
	s.hangingUp = true
	s.mu.Unlock()

	if s.att != nil {
		s.release(s.att)
	}
	s.indicator.Stop()
	s.logOnce.Do(s.appendLog)
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.Warn("call: close recording", "err", err)
		}
		s.recorder = nil
	}
	s.setState(StateDisconnected, nil)
}

func (s *Session) appendLog() {
	d := time.Since(s.startedAt)
	s.log.Info("call ended", "duration", d.Round(time.Millisecond))
	if s.cfg.CallLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.CallLog.Append(ctx, calllog.NewEntry(s.cfg.Character, s.startedAt, d)); err != nil {
		s.log.Warn("call: append call log", "err", err)
	}
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	prev := s.state
	s.state, s.lastErr = st, err
	s.mu.Unlock()

	if prev == st && st.Terminal() {
		return
	}

	ctx := context.Background()
	active := st == StateConnecting || st == StateConnected
	if active != s.counted {
		delta := int64(1)
		if !active {
			delta = -1
		}
		s.metrics.ActiveCalls.Add(ctx, delta, metric.WithAttributes(observe.Attr("character", s.cfg.Character.ID)))
		s.counted = active
	}
	s.metrics.RecordTransition(ctx, st.String())
	s.log.Debug("call state", "from", prev.String(), "to", st.String())
	s.emit(Event{Kind: EventState, State: st, Err: err})
}

func (s *Session) emit(ev Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}

// recordPath inserts id before the extension of base.
func recordPath(base, id string) string {
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".wav"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "-" + id + ext
}
