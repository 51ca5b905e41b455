package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/animetalk/internal/call"
	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/pkg/audio"
)

// maxChoices is Discord's limit on autocomplete choices.
const maxChoices = 25

// CallCommandsConfig holds the dependencies of [CallCommands].
type CallCommandsConfig struct {
	Calls      *call.Manager
	Characters character.Store
	Platform   audio.Platform
	Perms      *PermissionChecker

	// VoiceChannel resolves the voice channel a member is in. Used when
	// /call is given no channel.
	VoiceChannel func(guildID, userID string) (string, error)
}

// CallCommands implements /call, /hangup and /characters. At most one call
// runs per guild.
type CallCommands struct {
	ctx context.Context
	cfg CallCommandsConfig

	mu    sync.Mutex
	calls map[string]*call.Session // guild id → call
}

// NewCallCommands returns the call commands. Calls started by them run until
// hung up or ctx is cancelled.
func NewCallCommands(ctx context.Context, cfg CallCommandsConfig) *CallCommands {
	if cfg.Perms == nil {
		cfg.Perms = NewPermissionChecker("")
	}
	if cfg.VoiceChannel == nil {
		cfg.VoiceChannel = func(string, string) (string, error) { return "", errors.New("discord: voice state unknown") }
	}
	return &CallCommands{ctx: ctx, cfg: cfg, calls: make(map[string]*call.Session)}
}

// Register adds the commands to r.
func (cc *CallCommands) Register(r *CommandRouter) {
	r.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "call",
		Description: "Call a character into a voice channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionString,
				Name:         "character",
				Description:  "Who to call",
				Required:     true,
				Autocomplete: true,
			},
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Voice channel to join; defaults to yours",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
			},
		},
	}, cc.handleCall)
	r.RegisterAutocomplete("call", cc.autocompleteCharacter)

	r.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "hangup",
		Description: "End the current call",
	}, cc.handleHangup)

	r.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "characters",
		Description: "List the characters you can call",
	}, cc.handleCharacters)
}

// Active returns the call running in guildID, if any.
func (cc *CallCommands) Active(guildID string) (*call.Session, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	s, ok := cc.calls[guildID]
	return s, ok
}

func (cc *CallCommands) handleCall(r Responder, i *discordgo.InteractionCreate) {
	if !cc.cfg.Perms.CanCall(i) {
		RespondEphemeral(r, i, "You are not allowed to start calls.")
		return
	}
	var id, channelID string
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "character":
			id = opt.StringValue()
		case "channel":
			channelID = opt.ChannelValue(nil).ID
		}
	}

	c, err := cc.cfg.Characters.Get(cc.ctx, id)
	if errors.Is(err, character.ErrNotFound) {
		RespondEphemeral(r, i, fmt.Sprintf("No character called %q.", id))
		return
	}
	if err != nil {
		RespondError(r, i, err)
		return
	}

	if channelID == "" {
		channelID, err = cc.cfg.VoiceChannel(i.GuildID, userID(i))
		if err != nil || channelID == "" {
			RespondEphemeral(r, i, "Join a voice channel first, or pick one with the channel option.")
			return
		}
	}

	if prev, ok := cc.Active(i.GuildID); ok {
		RespondEphemeral(r, i, fmt.Sprintf("%s is already on a call. Use /hangup first.", prev.Character().Name))
		return
	}

	DeferReply(r, i)
	if err := cc.start(i.GuildID, channelID, c); err != nil {
		FollowUp(r, i, fmt.Sprintf("Could not start the call: %v", err))
		return
	}
	FollowUp(r, i, fmt.Sprintf("Calling %s in <#%s>.", c.Name, channelID))
}

func (cc *CallCommands) handleHangup(r Responder, i *discordgo.InteractionCreate) {
	if !cc.cfg.Perms.CanCall(i) {
		RespondEphemeral(r, i, "You are not allowed to end calls.")
		return
	}
	sess, ok := cc.Active(i.GuildID)
	if !ok {
		RespondEphemeral(r, i, "No call in progress.")
		return
	}
	DeferReply(r, i)
	sess.Hangup()
	d := time.Since(sess.StartedAt()).Round(time.Second)
	FollowUp(r, i, fmt.Sprintf("Hung up on %s after %s.", sess.Character().Name, d))
}

func (cc *CallCommands) handleCharacters(r Responder, i *discordgo.InteractionCreate) {
	chars, err := cc.cfg.Characters.List(cc.ctx)
	if err != nil {
		RespondError(r, i, err)
		return
	}
	if len(chars) == 0 {
		RespondEphemeral(r, i, "No characters configured.")
		return
	}
	embed := &discordgo.MessageEmbed{Title: "Characters"}
	for _, c := range chars {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   c.Name,
			Value:  fmt.Sprintf("%s · `%s`", c.Role, c.ID),
			Inline: true,
		})
	}
	RespondEmbed(r, i, embed)
}

func (cc *CallCommands) autocompleteCharacter(r Responder, i *discordgo.InteractionCreate) {
	var q string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			q, _ = opt.Value.(string)
		}
	}
	chars, err := cc.cfg.Characters.List(cc.ctx)
	if err != nil {
		slog.Warn("discord: list characters", "err", err)
	}
	matches := character.Filter(chars, q)
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, min(len(matches), maxChoices))
	for _, c := range matches[:min(len(matches), maxChoices)] {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.ID})
	}
	RespondChoices(r, i, choices)
}

func userID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// AutoJoin starts a call with c in channelID. It is tracked like a call
// started with /call, so /hangup ends it.
func (cc *CallCommands) AutoJoin(guildID, channelID string, c character.Character) error {
	return cc.start(guildID, channelID, c)
}

func (cc *CallCommands) start(guildID, channelID string, c character.Character) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if prev, ok := cc.calls[guildID]; ok {
		return fmt.Errorf("discord: %s is already on a call in guild %s", prev.Character().Name, guildID)
	}

	log := slog.With("guild_id", guildID, "channel_id", channelID, "character", c.ID)
	sess, err := cc.cfg.Calls.Start(cc.ctx, c, cc.cfg.Platform, channelID, func(ev call.Event) {
		if ev.Kind == call.EventState {
			log.Info("discord call state", "state", ev.State.String(), "err", ev.Err)
		}
	})
	if err != nil {
		return err
	}
	cc.calls[guildID] = sess

	go func() {
		<-sess.Done()
		cc.mu.Lock()
		if cc.calls[guildID] == sess {
			delete(cc.calls, guildID)
		}
		cc.mu.Unlock()
	}()
	return nil
}
