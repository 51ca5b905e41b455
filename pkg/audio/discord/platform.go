// Package discord binds a call to a Discord voice channel.
//
// The bot joins the target channel, mixes everything the participants say
// into one microphone stream and speaks the rendered character audio back as
// Opus. The *discordgo.Session is owned by the caller.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/animetalk/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] for one guild.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New returns a platform that joins voice channels in guildID.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{session: session, guildID: guildID}
}

// Connect joins the voice channel channelID. The bot is neither muted nor
// deafened. ctx is checked before joining; the join itself is bounded by
// discordgo's own timeout.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc), nil
}
