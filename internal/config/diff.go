package config

import (
	"reflect"
	"slices"

	"github.com/MrWong99/animetalk/internal/character"
)

// ConfigDiff describes what changed between two configs. Characters and the
// log level are applied live; every other changed section is listed in
// RestartRequired.
type ConfigDiff struct {
	CharactersChanged bool
	CharacterChanges  []CharacterDiff // sorted by id
	LogLevelChanged   bool
	NewLogLevel       LogLevel

	// RestartRequired names the top-level sections that changed but only
	// take effect after a restart, in file order.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.CharactersChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// CharacterDiff describes what changed for a single character.
type CharacterDiff struct {
	ID string

	// PromptChanged covers the system instruction and custom instructions.
	PromptChanged bool

	// VoiceChanged is set when the voice name changed. Name and role
	// changes also set it because they feed the acoustic profile.
	VoiceChanged bool

	// DisplayChanged covers color and avatar.
	DisplayChanged bool

	Added   bool
	Removed bool
}

// Changed reports whether anything about the character differs.
func (d CharacterDiff) Changed() bool {
	return d.PromptChanged || d.VoiceChanged || d.DisplayChanged || d.Added || d.Removed
}

// Diff compares old and new configs and returns what changed.
// Calls already in progress keep the character they started with; the
// changes apply to the next call.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldChars := index(old.Characters)
	newChars := index(new.Characters)

	for id, oc := range oldChars {
		nc, ok := newChars[id]
		if !ok {
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{ID: id, Removed: true})
			continue
		}
		if cd := diffCharacter(oc, nc); cd.Changed() {
			d.CharacterChanges = append(d.CharacterChanges, cd)
		}
	}
	for id := range newChars {
		if _, ok := oldChars[id]; !ok {
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{ID: id, Added: true})
		}
	}

	slices.SortFunc(d.CharacterChanges, func(a, b CharacterDiff) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	d.CharactersChanged = len(d.CharacterChanges) > 0
	d.RestartRequired = restartSections(old, new)
	return d
}

func restartSections(old, new *Config) []string {
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"upstream", old.Upstream, new.Upstream},
		{"audio", old.Audio, new.Audio},
		{"speak", old.Speak, new.Speak},
		{"chat", old.Chat, new.Chat},
		{"storage", old.Storage, new.Storage},
		{"devices", old.Devices, new.Devices},
	}
	var out []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			out = append(out, s.name)
		}
	}
	return out
}

func index(chars []character.Character) map[string]character.Character {
	m := make(map[string]character.Character, len(chars))
	for _, c := range chars {
		m[c.ID] = c
	}
	return m
}

func diffCharacter(old, new character.Character) CharacterDiff {
	cd := CharacterDiff{ID: new.ID}
	if old.SystemInstruction != new.SystemInstruction || !slices.Equal(old.CustomInstructions, new.CustomInstructions) {
		cd.PromptChanged = true
	}
	if old.Voice() != new.Voice() || old.Name != new.Name || old.Role != new.Role {
		cd.VoiceChanged = true
	}
	if old.Color != new.Color || old.AvatarURL != new.AvatarURL {
		cd.DisplayChanged = true
	}
	return cd
}
