// Package calllog records finished calls. Only the most recent [MaxEntries]
// entries are kept.
package calllog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/animetalk/internal/character"
)

// MaxEntries is the number of entries a store keeps.
const MaxEntries = 50

// Entry is one finished call.
type Entry struct {
	ID              string        `json:"id"`
	CharacterID     string        `json:"characterId"`
	CharacterName   string        `json:"characterName"`
	CharacterAvatar string        `json:"characterAvatar,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
	Duration        time.Duration `json:"duration"`
}

// NewEntry builds an entry for a call with c that started at start and
// lasted d. The id is a fresh UUID.
func NewEntry(c character.Character, start time.Time, d time.Duration) Entry {
	return Entry{
		ID:              uuid.NewString(),
		CharacterID:     c.ID,
		CharacterName:   c.Name,
		CharacterAvatar: c.AvatarURL,
		Timestamp:       start.UTC(),
		Duration:        d,
	}
}

// Store persists call log entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds e and drops everything beyond the newest MaxEntries.
	Append(ctx context.Context, e Entry) error

	// List returns the entries, newest first.
	List(ctx context.Context) ([]Entry, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}
