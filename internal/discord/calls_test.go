package discord

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/animetalk/internal/call"
	calllogmock "github.com/MrWong99/animetalk/internal/calllog/mock"
	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/internal/discord/mock"
	"github.com/MrWong99/animetalk/pkg/audio"
	audiomock "github.com/MrWong99/animetalk/pkg/audio/mock"
	livemock "github.com/MrWong99/animetalk/pkg/provider/live/mock"
)

var kratos = character.Character{
	ID:                "kratos",
	Name:              "Kratos",
	Role:              "God of War",
	SystemInstruction: "You are Kratos.",
	VoiceName:         "Charon",
}

type callFixture struct {
	cc       *CallCommands
	manager  *call.Manager
	device   *audiomock.Platform
	callLog  *calllogmock.Store
	upstream *livemock.Provider
}

func newCallFixture(t *testing.T, perms *PermissionChecker) *callFixture {
	t.Helper()
	chars, err := character.NewMemStore(kratos)
	if err != nil {
		t.Fatal(err)
	}
	f := &callFixture{
		device:   &audiomock.Platform{NewConnection: func() audio.Connection { return audiomock.NewConnection(64) }},
		callLog:  &calllogmock.Store{},
		upstream: &livemock.Provider{},
	}
	f.manager = call.NewManager(call.Config{Upstream: f.upstream, CallLog: f.callLog})
	t.Cleanup(f.manager.HangupAll)

	f.cc = NewCallCommands(context.Background(), CallCommandsConfig{
		Calls:      f.manager,
		Characters: chars,
		Platform:   f.device,
		Perms:      perms,
		VoiceChannel: func(guildID, userID string) (string, error) {
			if userID == "user-1" {
				return "voice-7", nil
			}
			return "", errors.New("not in voice")
		},
	})
	return f
}

func stringOpt(name, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func lastText(r *mock.InteractionResponder) string {
	if f := r.LastFollowUp(); f != nil {
		return f.Content
	}
	if resp := r.LastResponse(); resp != nil && resp.Data != nil {
		return resp.Data.Content
	}
	return ""
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCallCommands_CallAndHangup(t *testing.T) {
	t.Parallel()
	f := newCallFixture(t, nil)
	router := NewCommandRouter()
	f.cc.Register(router)

	resp := &mock.InteractionResponder{}
	router.Handle(resp, command("call", stringOpt("character", "kratos")))

	if got := lastText(resp); !strings.Contains(got, "Calling Kratos in <#voice-7>") {
		t.Fatalf("reply = %q", got)
	}
	if resp.Responses[0].Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("first response type = %v, want deferred", resp.Responses[0].Type)
	}
	sess, ok := f.cc.Active("guild-1")
	if !ok {
		t.Fatal("no active call for guild")
	}
	waitFor(t, "connected", func() bool { st, _ := sess.State(); return st == call.StateConnected })
	if got := f.device.Calls(); len(got) != 1 || got[0] != "voice-7" {
		t.Errorf("device targets = %v, want [voice-7]", got)
	}

	// A second call in the same guild is refused.
	resp = &mock.InteractionResponder{}
	router.Handle(resp, command("call", stringOpt("character", "kratos")))
	if got := lastText(resp); !strings.Contains(got, "already on a call") {
		t.Errorf("second call reply = %q", got)
	}

	resp = &mock.InteractionResponder{}
	router.Handle(resp, command("hangup"))
	if got := lastText(resp); !strings.HasPrefix(got, "Hung up on Kratos") {
		t.Errorf("hangup reply = %q", got)
	}
	waitFor(t, "call released", func() bool { _, ok := f.cc.Active("guild-1"); return !ok })
	if n := len(f.callLog.Entries()); n != 1 {
		t.Errorf("call log entries = %d, want 1", n)
	}
}

func TestCallCommands_Refusals(t *testing.T) {
	t.Parallel()

	noVoice := command("call", stringOpt("character", "kratos"))
	noVoice.Member.User.ID = "user-2"

	tests := []struct {
		name  string
		perms *PermissionChecker
		inter *discordgo.InteractionCreate
		want  string
	}{
		{"unknown character", nil, command("call", stringOpt("character", "zeus")), `No character called "zeus".`},
		{"caller not in voice", nil, noVoice, "Join a voice channel first"},
		{"missing role", NewPermissionChecker("callers"), command("call", stringOpt("character", "kratos")), "not allowed"},
		{"hangup without call", nil, command("hangup"), "No call in progress."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newCallFixture(t, tt.perms)
			router := NewCommandRouter()
			f.cc.Register(router)

			resp := &mock.InteractionResponder{}
			router.Handle(resp, tt.inter)
			if got := lastText(resp); !strings.Contains(got, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.want)
			}
			if _, ok := f.cc.Active("guild-1"); ok {
				t.Error("a call was started")
			}
		})
	}
}

func TestCallCommands_ExplicitChannel(t *testing.T) {
	t.Parallel()
	f := newCallFixture(t, nil)
	router := NewCommandRouter()
	f.cc.Register(router)

	inter := command("call",
		stringOpt("character", "kratos"),
		&discordgo.ApplicationCommandInteractionDataOption{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "voice-9"},
	)
	inter.Member.User.ID = "user-2"
	router.Handle(&mock.InteractionResponder{}, inter)

	waitFor(t, "device connect", func() bool { return len(f.device.Calls()) == 1 })
	if got := f.device.Calls()[0]; got != "voice-9" {
		t.Errorf("target = %q, want voice-9", got)
	}
}

func TestCallCommands_AutoJoin(t *testing.T) {
	t.Parallel()
	f := newCallFixture(t, nil)

	if err := f.cc.AutoJoin("guild-1", "voice-3", kratos); err != nil {
		t.Fatalf("AutoJoin: %v", err)
	}
	if err := f.cc.AutoJoin("guild-1", "voice-3", kratos); err == nil {
		t.Error("second AutoJoin = nil error, want error")
	}
	if _, ok := f.cc.Active("guild-1"); !ok {
		t.Error("auto joined call is not tracked")
	}
}

func TestCallCommands_Characters(t *testing.T) {
	t.Parallel()
	f := newCallFixture(t, nil)
	router := NewCommandRouter()
	f.cc.Register(router)

	resp := &mock.InteractionResponder{}
	router.Handle(resp, command("characters"))
	last := resp.LastResponse()
	if last == nil || len(last.Data.Embeds) != 1 {
		t.Fatalf("response = %+v, want one embed", last)
	}
	if fields := last.Data.Embeds[0].Fields; len(fields) != 1 || fields[0].Name != "Kratos" {
		t.Errorf("fields = %+v", fields)
	}
}

func TestCallCommands_Autocomplete(t *testing.T) {
	t.Parallel()
	f := newCallFixture(t, nil)
	router := NewCommandRouter()
	f.cc.Register(router)

	tests := []struct {
		query string
		want  int
	}{
		{"", 1},
		{"krat", 1},
		{"war", 1},
		{"zeus", 0},
	}
	for _, tt := range tests {
		opt := stringOpt("character", tt.query)
		opt.Focused = true
		inter := command("call", opt)
		inter.Type = discordgo.InteractionApplicationCommandAutocomplete

		resp := &mock.InteractionResponder{}
		router.Handle(resp, inter)
		choices := resp.LastResponse().Data.Choices
		if len(choices) != tt.want {
			t.Errorf("query %q: %d choices, want %d", tt.query, len(choices), tt.want)
		}
		if len(choices) == 1 && choices[0].Value != "kratos" {
			t.Errorf("query %q: choice value = %v", tt.query, choices[0].Value)
		}
	}
}
