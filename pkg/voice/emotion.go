package voice

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Kind classifies the delivery of an utterance.
type Kind int

const (
	KindNeutral Kind = iota
	KindWhisper
	KindShout
	KindSad
)

// String returns the label shown to listeners for k.
func (k Kind) String() string {
	switch k {
	case KindWhisper:
		return "WHISPER / INTIMATE"
	case KindShout:
		return "SHOUT / INTENSE"
	case KindSad:
		return "SAD / MELANCHOLY"
	default:
		return "NEUTRAL / WARM"
	}
}

// EmotionalProfile is a transient override computed for one utterance.
type EmotionalProfile struct {
	Kind Kind `json:"kind"`

	// Rate is the playback speed multiplier.
	Rate float64 `json:"rate"`

	// Detune is added to the character's pitch shift, in cents.
	Detune float64 `json:"detune"`

	BassBoost   float64 `json:"bassBoost"`
	TrebleBoost float64 `json:"trebleBoost"`
	Saturation  float64 `json:"saturation"`

	// CompressionThreshold is the compressor threshold in dBFS.
	CompressionThreshold float64 `json:"compressionThreshold"`

	ReverbMix float64 `json:"reverbMix"`
}

// Neutral returns the baseline profile used when no cue is detected.
func Neutral() EmotionalProfile {
	return EmotionalProfile{
		Kind:                 KindNeutral,
		Rate:                 1.0,
		Saturation:           15,
		CompressionThreshold: -20,
		ReverbMix:            0.1,
	}
}

type classifier struct {
	kind    Kind
	matches func(text, lower string) bool
	profile EmotionalProfile
}

// classifiers are evaluated in order; the first match wins.
var classifiers = []classifier{
	{
		kind: KindWhisper,
		matches: func(text, lower string) bool {
			return strings.Contains(text, "(") ||
				strings.Contains(lower, "*sussurra*") ||
				strings.Contains(lower, "*whispers*") ||
				strings.Contains(text, "...") ||
				strings.Contains(text, "…")
		},
		profile: EmotionalProfile{Rate: 0.95, Detune: -50, BassBoost: -5, TrebleBoost: 8, Saturation: 5, CompressionThreshold: -30, ReverbMix: 0.05},
	},
	{
		kind: KindShout,
		matches: func(text, _ string) bool {
			return (text == strings.ToUpper(text) && utf8.RuneCountInString(text) > 10) ||
				strings.Contains(text, "!!") ||
				strings.Contains(text, "?!")
		},
		profile: EmotionalProfile{Rate: 1.05, Detune: 50, BassBoost: 2, TrebleBoost: 4, Saturation: 45, CompressionThreshold: -12, ReverbMix: 0.25},
	},
	{
		kind: KindSad,
		matches: func(_, lower string) bool {
			for _, m := range []string{"sorry", "sad", "triste", "desculpa"} {
				if strings.Contains(lower, m) {
					return true
				}
			}
			return false
		},
		profile: EmotionalProfile{Rate: 0.85, Detune: -100, BassBoost: 4, TrebleBoost: -2, Saturation: 25, CompressionThreshold: -24, ReverbMix: 0.3},
	},
}

// Analyze classifies text and returns the emotional override for it, with a
// small deterministic bass/treble tilt derived from characterID so that two
// characters saying the same line still sound different.
func Analyze(text, characterID string) EmotionalProfile {
	p := Neutral()
	lower := strings.ToLower(text)
	for _, c := range classifiers {
		if c.matches(text, lower) {
			p = c.profile
			p.Kind = c.kind
			break
		}
	}

	mod := characterMod(characterID)
	p.BassBoost += mod * 3
	p.TrebleBoost += (1 - mod) * 3
	return p
}

// characterMod sums the UTF-16 code units of id and maps the sum onto one of
// ten steps in [0, 0.9].
func characterMod(id string) float64 {
	var sum int
	for _, u := range utf16.Encode([]rune(id)) {
		sum += int(u)
	}
	return float64(sum%10) / 10
}
