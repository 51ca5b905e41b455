// Package character defines the characters a user can call, chat with or
// hear speak, and the stores that hold them.
package character

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/animetalk/pkg/voice"
)

// ErrNotFound is returned by stores when no character has the requested id.
var ErrNotFound = errors.New("character: not found")

// Voices lists the prebuilt upstream voices a character may use.
var Voices = []string{"Puck", "Charon", "Kore", "Fenrir", "Zephyr", "Aoede"}

// DefaultVoice is used when a character does not name one.
const DefaultVoice = "Puck"

// Character is a persona with a fixed voice.
type Character struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Role      string `json:"role" yaml:"role"`
	Color     string `json:"color,omitempty" yaml:"color"`
	AvatarURL string `json:"avatarUrl,omitempty" yaml:"avatar_url"`

	// SystemInstruction is the persona prompt. It doubles as the description
	// the acoustic profile is derived from.
	SystemInstruction string `json:"systemInstruction" yaml:"system_instruction"`

	// CustomInstructions are short behaviour rules appended to the prompt,
	// one per line.
	CustomInstructions []string `json:"customInstructions,omitempty" yaml:"custom_instructions"`

	VoiceName string `json:"voiceName" yaml:"voice_name"`
}

// Validate reports every problem with c.
func (c Character) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.VoiceName != "" && !ValidVoice(c.VoiceName) {
		errs = append(errs, fmt.Errorf("voice_name %q is invalid; valid values: %s", c.VoiceName, strings.Join(Voices, ", ")))
	}
	if len(errs) > 0 {
		return fmt.Errorf("character %q: %w", c.ID, errors.Join(errs...))
	}
	return nil
}

// ValidVoice reports whether name is one of [Voices].
func ValidVoice(name string) bool {
	return slices.Contains(Voices, name)
}

// Voice returns the character's voice, or [DefaultVoice] if unset.
func (c Character) Voice() string {
	if c.VoiceName == "" {
		return DefaultVoice
	}
	return c.VoiceName
}

// Identity returns the attributes the acoustic profile is derived from.
func (c Character) Identity() voice.Identity {
	return voice.Identity{
		ID:          c.ID,
		Name:        c.Name,
		Role:        c.Role,
		Description: c.SystemInstruction,
	}
}

// Profile derives the character's acoustic profile.
func (c Character) Profile() voice.AcousticProfile {
	return voice.DeriveIdentity(c.Identity())
}

// Matches reports whether q appears, case-insensitively, in the name, role
// or system instruction. An empty query matches everything.
func (c Character) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Name), q) ||
		strings.Contains(strings.ToLower(c.Role), q) ||
		strings.Contains(strings.ToLower(c.SystemInstruction), q)
}

// Filter returns the characters matching q, preserving order.
func Filter(chars []Character, q string) []Character {
	out := make([]Character, 0, len(chars))
	for _, c := range chars {
		if c.Matches(q) {
			out = append(out, c)
		}
	}
	return out
}
