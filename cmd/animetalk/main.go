// Command animetalk serves voice calls and text chat with anime characters.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/animetalk/internal/call"
	"github.com/MrWong99/animetalk/internal/calllog"
	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/internal/chat"
	"github.com/MrWong99/animetalk/internal/config"
	discordbot "github.com/MrWong99/animetalk/internal/discord"
	"github.com/MrWong99/animetalk/internal/health"
	"github.com/MrWong99/animetalk/internal/observe"
	"github.com/MrWong99/animetalk/internal/resilience"
	"github.com/MrWong99/animetalk/internal/speech"
	"github.com/MrWong99/animetalk/internal/web"
	"github.com/MrWong99/animetalk/pkg/audio"
	"github.com/MrWong99/animetalk/pkg/audio/wavio"
	"github.com/MrWong99/animetalk/pkg/provider/live"
	"github.com/MrWong99/animetalk/pkg/provider/live/gemini"
	"github.com/MrWong99/animetalk/pkg/provider/llm"
	"github.com/MrWong99/animetalk/pkg/provider/llm/anyllm"
	"github.com/MrWong99/animetalk/pkg/provider/tts"
	"github.com/MrWong99/animetalk/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/animetalk/pkg/provider/tts/openai"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	recordPath := flag.String("record", "", "record every call's rendered output to this WAV path; the call id is appended")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher performs the initial load and then hot-reloads characters
	// and the log level.
	var storage atomic.Pointer[stores]
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged && *logLevel == "" {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if st := storage.Load(); d.CharactersChanged && st != nil {
			st.reloadCharacters(new.Characters, d.CharacterChanges)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "animetalk: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "animetalk: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	lvl := cfg.Server.LogLevel
	if *logLevel != "" {
		lvl = config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "animetalk: invalid -log-level %q\n", *logLevel)
			return 1
		}
	}
	level.Set(slogLevel(lvl))

	slog.Info("animetalk starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", lvl,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "animetalk"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Storage ───────────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "err", err)
		return 1
	}
	defer st.close()
	storage.Store(st)

	// ── Providers ─────────────────────────────────────────────────────────────
	bots := newBotSet(ctx)
	defer bots.close()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, bots)

	checkers := st.checkers()
	upstream, breaker, err := buildUpstream(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build upstream provider", "err", err)
		return 1
	}
	checkers = append(checkers, health.Checker{Name: "upstream", Check: breaker.Check})

	var impulse []float64
	if path := cfg.Audio.ImpulseResponse; path != "" {
		impulse, err = wavio.LoadImpulseFile(path, cfg.Audio.OutputSampleRate)
		if err != nil {
			slog.Error("failed to load impulse response", "path", path, "err", err)
			return 1
		}
	}

	speaker, speakChecks, err := buildSpeaker(cfg, reg, impulse, metrics)
	if err != nil {
		slog.Error("failed to build speak provider", "err", err)
		return 1
	}
	checkers = append(checkers, speakChecks...)
	chatSvc, err := buildChat(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build chat provider", "err", err)
		return 1
	}

	// ── Calls ─────────────────────────────────────────────────────────────────
	calls := call.NewManager(call.Config{
		Upstream:        upstream,
		CallLog:         st.callLog,
		Greeting:        cfg.Upstream.Greeting,
		Temperature:     cfg.Upstream.Temperature,
		TopP:            cfg.Upstream.TopP,
		MaxOutputTokens: cfg.Upstream.MaxOutputTokens,
		RecordPath:      *recordPath,
		Metrics:         metrics,
		Audio: call.AudioSettings{
			OutputSampleRate: cfg.Audio.OutputSampleRate,
			GateThreshold:    cfg.Audio.GateThreshold,
			BlockSize:        cfg.Audio.BlockSize,
			Epsilon:          cfg.Audio.SchedulerEpsilon,
			BlockQuanta:      cfg.Audio.BlockQuanta,
			Impulse:          impulse,
		},
	})

	if err := startDevices(ctx, cfg, reg, bots, calls, st.characters); err != nil {
		slog.Error("failed to start devices", "err", err)
		calls.HangupAll()
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	probes := health.New(checkers...)
	srv, err := web.New(web.Config{
		Characters:      st.characters,
		CallLog:         st.callLog,
		Calls:           calls,
		Chat:            chatSvc,
		Speaker:         speaker,
		Health:          probes,
		Metrics:         metrics,
		MetricsPath:     cfg.Server.MetricsPath,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		InputSampleRate: cfg.Audio.InputSampleRate,
	})
	if err != nil {
		slog.Error("failed to build http server", "err", err)
		return 1
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, *recordPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	for _, b := range bots.all() {
		g.Go(func() error {
			if err := b.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		probes.Drain()
		calls.HangupAll()
		return httpServer.Shutdown(sctx)
	})

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// chatProviders are the any-llm backends that take an API key.
var chatProviders = []string{"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, bots *botSet) {
	// ── Upstream ──────────────────────────────────────────────────────────────
	reg.RegisterLive("gemini", func(up config.UpstreamConfig) (live.Provider, error) {
		if up.APIKey == "" {
			return nil, errors.New("gemini: api_key is required")
		}
		var opts []gemini.Option
		if up.Model != "" {
			opts = append(opts, gemini.WithModel(up.Model))
		}
		if up.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(up.BaseURL))
		}
		return gemini.New(up.APIKey, opts...), nil
	})

	// ── Chat ──────────────────────────────────────────────────────────────────
	for _, providerName := range chatProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Speak ─────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	// ── Devices ───────────────────────────────────────────────────────────────
	reg.RegisterDevice("discord", func(entry config.DeviceEntry) (audio.Platform, error) {
		b, err := bots.get(entry)
		if err != nil {
			return nil, err
		}
		return b.Platform(), nil
	})
}

// breakerHook feeds breaker transitions into the metrics.
func breakerHook(m *observe.Metrics) func(name string, from, to resilience.State) {
	return func(name string, _, to resilience.State) {
		m.RecordBreakerTransition(context.Background(), name, to.String())
	}
}

func buildUpstream(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (live.Provider, *resilience.LiveBreaker, error) {
	p, err := reg.CreateLive(cfg.Upstream)
	if err != nil {
		return nil, nil, fmt.Errorf("create upstream %q: %w", cfg.Upstream.Name, err)
	}
	breaker := resilience.NewLiveBreaker(p, resilience.BreakerConfig{
		Name:          "upstream/" + cfg.Upstream.Name,
		MaxFailures:   cfg.Upstream.Breaker.MaxFailures,
		ResetTimeout:  time.Duration(cfg.Upstream.Breaker.ResetSeconds * float64(time.Second)),
		OnStateChange: breakerHook(m),
	})
	slog.Info("provider created", "kind", "upstream", "name", cfg.Upstream.Name)
	return breaker, breaker, nil
}

// buildSpeaker returns a nil speaker when no speak provider is configured.
// With a fallback configured, the chain's breakers become an optional
// readiness check.
func buildSpeaker(cfg *config.Config, reg *config.Registry, impulse []float64, m *observe.Metrics) (*speech.Speaker, []health.Checker, error) {
	sc := cfg.Speak
	if sc.Name == "" {
		return nil, nil, nil
	}
	primary, err := reg.CreateTTS(sc.ProviderEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("create speak provider %q: %w", sc.Name, err)
	}
	provider := primary
	var checks []health.Checker
	if sc.Fallback != nil && sc.Fallback.Name != "" {
		fb, err := reg.CreateTTS(*sc.Fallback)
		if err != nil {
			return nil, nil, fmt.Errorf("create speak fallback %q: %w", sc.Fallback.Name, err)
		}
		group := resilience.NewTTSFallback(primary, "speak/"+sc.Name, resilience.BreakerConfig{OnStateChange: breakerHook(m)})
		group.AddFallback("speak/"+sc.Fallback.Name, fb)
		provider = group
		checks = append(checks, health.Checker{Name: "speak", Check: group.Check, Optional: true})
		slog.Info("provider created", "kind", "speak_fallback", "name", sc.Fallback.Name, "chain", group.Backends())
	}
	slog.Info("provider created", "kind", "speak", "name", sc.Name)
	speaker, err := speech.New(speech.Config{
		TTS:        provider,
		Voices:     sc.Voices,
		Speed:      sc.Speed,
		Flash:      sc.Flash,
		SampleRate: cfg.Audio.OutputSampleRate,
		Impulse:    impulse,
		Metrics:    m,
	})
	if err != nil {
		return nil, nil, err
	}
	return speaker, checks, nil
}

// buildChat returns nil when no chat provider is configured.
func buildChat(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*chat.Service, error) {
	cc := cfg.Chat
	if cc.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateLLM(cc.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create chat provider %q: %w", cc.Name, err)
	}
	opts := []chat.Option{chat.WithMetrics(m)}
	if cc.Temperature > 0 {
		opts = append(opts, chat.WithTemperature(cc.Temperature))
	}
	if cc.MaxTokens > 0 {
		opts = append(opts, chat.WithMaxTokens(cc.MaxTokens))
	}
	slog.Info("provider created", "kind", "chat", "name", cc.Name)
	return chat.New(p, opts...), nil
}

// ── Devices ───────────────────────────────────────────────────────────────────

// startDevices joins every configured device and places its call.
func startDevices(ctx context.Context, cfg *config.Config, reg *config.Registry, bots *botSet, calls *call.Manager, chars character.Store) error {
	for i, d := range cfg.Devices {
		platform, err := reg.CreateDevice(d)
		if err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		c, err := chars.Get(ctx, d.Character)
		if err != nil {
			return fmt.Errorf("devices[%d]: character %q: %w", i, d.Character, err)
		}
		cmds, ok := bots.commands(d, calls, chars, platform)
		if !ok {
			return fmt.Errorf("devices[%d]: %q has no bot to place calls", i, d.Name)
		}
		if err := cmds.AutoJoin(d.GuildID, d.ChannelID, c); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		slog.Info("device call started", "device", d.Name, "guild_id", d.GuildID, "channel_id", d.ChannelID, "character", c.ID)
	}
	return nil
}

// botSet shares one Discord bot between device entries with the same token
// and guild.
type botSet struct {
	ctx  context.Context
	bots map[string]*discordbot.Bot
	cmds map[string]*discordbot.CallCommands
}

func newBotSet(ctx context.Context) *botSet {
	return &botSet{
		ctx:  ctx,
		bots: make(map[string]*discordbot.Bot),
		cmds: make(map[string]*discordbot.CallCommands),
	}
}

func botKey(d config.DeviceEntry) string { return d.Token + "/" + d.GuildID }

func (s *botSet) get(d config.DeviceEntry) (*discordbot.Bot, error) {
	if b, ok := s.bots[botKey(d)]; ok {
		return b, nil
	}
	b, err := discordbot.New(s.ctx, discordbot.Config{
		Token:        d.Token,
		GuildID:      d.GuildID,
		CallerRoleID: d.CallerRoleID,
	})
	if err != nil {
		return nil, err
	}
	s.bots[botKey(d)] = b
	slog.Info("discord bot connected", "guild_id", d.GuildID)
	return b, nil
}

// commands returns the bot's call commands, registering them on first use.
func (s *botSet) commands(d config.DeviceEntry, calls *call.Manager, chars character.Store, platform audio.Platform) (*discordbot.CallCommands, bool) {
	key := botKey(d)
	if cc, ok := s.cmds[key]; ok {
		return cc, true
	}
	b, ok := s.bots[key]
	if !ok {
		return nil, false
	}
	cc := discordbot.NewCallCommands(s.ctx, discordbot.CallCommandsConfig{
		Calls:        calls,
		Characters:   chars,
		Platform:     platform,
		Perms:        b.Permissions(),
		VoiceChannel: b.VoiceChannel,
	})
	cc.Register(b.Router())
	s.cmds[key] = cc
	return cc, true
}

func (s *botSet) all() []*discordbot.Bot {
	out := make([]*discordbot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	return out
}

func (s *botSet) close() {
	for _, b := range s.bots {
		if err := b.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}
}

// ── Storage ───────────────────────────────────────────────────────────────────

type stores struct {
	pool       *pgxpool.Pool
	characters character.Store
	callLog    calllog.Store
	mem        *character.MemStore
}

// openStores connects to PostgreSQL when a DSN is configured and falls back
// to memory otherwise. Configured characters seed the database without
// overwriting rows edited there.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	dsn := cfg.Storage.PostgresDSN
	if dsn == "" {
		mem, err := character.NewMemStore(cfg.Characters...)
		if err != nil {
			return nil, err
		}
		slog.Info("storage: in memory", "characters", len(cfg.Characters))
		return &stores{characters: mem, callLog: calllog.NewMemStore(), mem: mem}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	chars := character.NewPostgresStore(pool)
	log := calllog.NewPostgresStore(pool)
	err = errors.Join(chars.Migrate(ctx), log.Migrate(ctx))
	if err == nil {
		err = chars.Seed(ctx, cfg.Characters)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: prepare: %w", err)
	}
	slog.Info("storage: postgres", "seeded", len(cfg.Characters))
	return &stores{pool: pool, characters: chars, callLog: log}, nil
}

func (s *stores) checkers() []health.Checker {
	if s.pool == nil {
		return nil
	}
	return []health.Checker{health.PingChecker("postgres", s.pool)}
}

// reloadCharacters applies a config change. The in-memory store is replaced
// wholesale; the database only receives the characters that changed.
func (s *stores) reloadCharacters(chars []character.Character, changes []config.CharacterDiff) {
	if s.mem != nil {
		if err := s.mem.Replace(chars); err != nil {
			slog.Warn("config reload: some characters were skipped", "err", err)
		}
		slog.Info("config reload: characters replaced", "count", len(chars))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	byID := make(map[string]character.Character, len(chars))
	for _, c := range chars {
		byID[c.ID] = c
	}
	for _, d := range changes {
		var err error
		if d.Removed {
			err = s.characters.Delete(ctx, d.ID)
		} else if d.Changed() {
			err = s.characters.Put(ctx, byID[d.ID])
		}
		if err != nil {
			slog.Warn("config reload: character update failed", "id", d.ID, "err", err)
		}
	}
	slog.Info("config reload: characters updated", "changes", len(changes))
}

func (s *stores) close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, record string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        animetalk startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Upstream", cfg.Upstream.Name, cfg.Upstream.Model)
	printProvider("Speak", cfg.Speak.Name, cfg.Speak.Model)
	printProvider("Chat", cfg.Chat.Name, cfg.Chat.Model)
	storage := "memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}
	fmt.Printf("║  Storage         : %-19s ║\n", storage)
	fmt.Printf("║  Characters      : %-19d ║\n", len(cfg.Characters))
	fmt.Printf("║  Devices         : %-19d ║\n", len(cfg.Devices))
	if record != "" {
		fmt.Printf("║  Recording       : %-19s ║\n", truncate(record))
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
