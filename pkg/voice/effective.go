package voice

import "math"

// EffectiveProfile is the merged parameter set bound to a DSP graph.
type EffectiveProfile struct {
	BassGain             float64 `json:"bassGain"`
	MidFreq              float64 `json:"midFreq"`
	TrebleGain           float64 `json:"trebleGain"`
	ReverbMix            float64 `json:"reverbMix"`
	FormantShift         float64 `json:"formantShift"`
	Saturation           float64 `json:"saturation"`
	CompressionThreshold float64 `json:"compressionThreshold"`

	// Rate and Detune are applied per chunk by the scheduler rather than by
	// the graph.
	Rate   float64 `json:"rate"`
	Detune float64 `json:"detune"`

	Kind Kind `json:"kind"`
}

const (
	maxShelfGain    = 24.0
	defaultCompress = -20.0
)

// Identity returns the effective profile of a character speaking without an
// emotional cue, as in a live call where only audio is available.
func (a AcousticProfile) Identity() EffectiveProfile {
	return EffectiveProfile{
		BassGain:             a.BassGain,
		MidFreq:              a.MidFreq,
		TrebleGain:           a.TrebleGain,
		ReverbMix:            a.ReverbMix,
		FormantShift:         a.FormantShift,
		Saturation:           a.Saturation,
		CompressionThreshold: defaultCompress,
		Rate:                 1,
		Detune:               a.PitchShift,
		Kind:                 KindNeutral,
	}
}

// Merge binds an utterance's emotion onto a character's timbre.
//
// Timbre owns formant, presence frequency and base pitch. Emotion owns rate,
// compression and reverb, and adds its boosts on top of the character's shelf
// gains. A character with dark grit keeps its extra saturation over the
// emotional baseline.
func Merge(a AcousticProfile, e EmotionalProfile) EffectiveProfile {
	return EffectiveProfile{
		BassGain:             clampGain(a.BassGain + e.BassBoost),
		MidFreq:              a.MidFreq,
		TrebleGain:           clampGain(a.TrebleGain + e.TrebleBoost),
		ReverbMix:            e.ReverbMix,
		FormantShift:         a.FormantShift,
		Saturation:           math.Max(0, e.Saturation+(a.Saturation-baselineSaturation)),
		CompressionThreshold: e.CompressionThreshold,
		Rate:                 e.Rate,
		Detune:               a.PitchShift + e.Detune,
		Kind:                 e.Kind,
	}
}

func clampGain(g float64) float64 {
	return math.Max(-maxShelfGain, math.Min(maxShelfGain, g))
}
