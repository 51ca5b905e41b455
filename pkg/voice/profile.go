// Package voice derives the DSP parameters that give a character its voice.
//
// Three pure functions cover the whole package:
//
//   - [Derive] maps a character's identity to an [AcousticProfile] (timbre).
//   - [Analyze] maps one utterance to an [EmotionalProfile] (momentary
//     expressiveness).
//   - [Merge] combines the two into the [EffectiveProfile] that is bound to
//     the DSP graph.
//
// None of the functions hold state; identical inputs always produce
// bit-identical outputs.
package voice

import (
	"strings"
	"unicode/utf16"
)

// AcousticProfile is the stable timbre identity of a character. It is
// derived once per session and never mutated.
type AcousticProfile struct {
	// BassGain is the low-shelf gain in dB.
	BassGain float64 `json:"bassGain"`

	// MidFreq is the centre frequency of the presence peak in Hz.
	MidFreq float64 `json:"midFreq"`

	// TrebleGain is the high-shelf gain in dB.
	TrebleGain float64 `json:"trebleGain"`

	// ReverbMix is the wet gain of the convolution reverb.
	ReverbMix float64 `json:"reverbMix"`

	// FormantShift moves the formant peak away from 1 kHz, in Hz.
	FormantShift float64 `json:"formantShift"`

	// PitchShift is the playback detune in cents.
	PitchShift float64 `json:"pitchShift"`

	// Saturation drives the exciter waveshaper.
	Saturation float64 `json:"saturation"`
}

// Identity is the subset of a character's attributes the deriver looks at.
type Identity struct {
	ID          string
	Name        string
	Role        string
	Description string
}

const (
	baselineSaturation = 15
	darkSaturation     = 40
)

// Derive computes the acoustic profile for a character. It never fails:
// empty fields simply match no keyword and yield the baseline profile for the
// id's hash.
func Derive(id, name, role, description string) AcousticProfile {
	return DeriveIdentity(Identity{ID: id, Name: name, Role: role, Description: description})
}

// DeriveIdentity is [Derive] taking an [Identity].
func DeriveIdentity(c Identity) AcousticProfile {
	norm := hashNorm(c.ID)

	p := AcousticProfile{
		BassGain:   2 + norm*6,
		MidFreq:    1000 + norm*1000,
		TrebleGain: 2 + (1-norm)*4,
		ReverbMix:  0.1 + norm*0.1,
		Saturation: baselineSaturation,
	}

	formant, pitch := DefaultRules.resolve(c)
	p.FormantShift = formant
	p.PitchShift = pitch

	if isDark(c) {
		p.Saturation = darkSaturation
	}
	return p
}

// hashNorm maps id onto [0, 1) through a 31-multiplier rolling hash over its
// UTF-16 code units, with int32 wrap-around.
func hashNorm(id string) float64 {
	var h int32
	for _, u := range utf16.Encode([]rune(id)) {
		h = int32(u) + (h<<5 - h)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return float64(abs%100) / 100
}

var darkMarkers = []string{"arrogante", "sombrio", "arrogant"}

func isDark(c Identity) bool {
	role := wordText(c.Role)
	for _, k := range deepKeywords {
		if containsWord(role, k) {
			return true
		}
	}
	desc := strings.ToLower(c.Description)
	for _, m := range darkMarkers {
		if strings.Contains(desc, m) {
			return true
		}
	}
	return false
}
