package voice

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func TestDerive_Deterministic(t *testing.T) {
	t.Parallel()
	a := Derive("kratos_prime", "Kratos", "God of War", "Fantasma de Esparta.")
	b := Derive("kratos_prime", "Kratos", "God of War", "Fantasma de Esparta.")
	if a != b {
		t.Fatalf("Derive not deterministic: %+v != %+v", a, b)
	}
	if a.FormantShift != -400 {
		t.Errorf("FormantShift = %v, want -400", a.FormantShift)
	}
	if a.PitchShift != -600 {
		t.Errorf("PitchShift = %v, want -600", a.PitchShift)
	}
	if a.Saturation != 40 {
		t.Errorf("Saturation = %v, want 40 (deep keyword in role)", a.Saturation)
	}
}

func TestHashNorm(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   string
		want float64
	}{
		{"", 0},
		{"a", 0.97},  // 97
		{"ab", 0.05}, // 98 + 97*31 = 3105
	}
	for _, tt := range tests {
		if got := hashNorm(tt.id); !near(got, tt.want) {
			t.Errorf("hashNorm(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestHashNorm_RangeWithOverflow(t *testing.T) {
	t.Parallel()
	ids := []string{
		"kratos_prime",
		"anya_spy_family_forger_the_telepath",
		"a very long character identifier that wraps the hash many times over",
		"ナルト",
	}
	for _, id := range ids {
		n := hashNorm(id)
		if n < 0 || n >= 1 {
			t.Errorf("hashNorm(%q) = %v, want [0, 1)", id, n)
		}
		if n != hashNorm(id) {
			t.Errorf("hashNorm(%q) not stable", id)
		}
	}
}

func TestDerive_LinearMaps(t *testing.T) {
	t.Parallel()
	p := Derive("a", "", "", "")
	want := AcousticProfile{
		BassGain:   2 + 0.97*6,
		MidFreq:    1000 + 0.97*1000,
		TrebleGain: 2 + (1-0.97)*4,
		ReverbMix:  0.1 + 0.97*0.1,
		Saturation: 15,
	}
	if !near(p.BassGain, want.BassGain) || !near(p.MidFreq, want.MidFreq) ||
		!near(p.TrebleGain, want.TrebleGain) || !near(p.ReverbMix, want.ReverbMix) {
		t.Errorf("Derive(a) = %+v, want %+v", p, want)
	}
	if p.FormantShift != 0 || p.PitchShift != 0 || p.Saturation != 15 {
		t.Errorf("baseline identity params = (%v, %v, %v), want (0, 0, 15)", p.FormantShift, p.PitchShift, p.Saturation)
	}
}

func TestDerive_EmptyIdentity(t *testing.T) {
	t.Parallel()
	p := Derive("", "", "", "")
	want := AcousticProfile{BassGain: 2, MidFreq: 1000, TrebleGain: 6, ReverbMix: 0.1, Saturation: 15}
	if p != want {
		t.Errorf("Derive(empty) = %+v, want %+v", p, want)
	}
}

func TestDerive_Precedence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		charName    string
		role        string
		description string
		wantFormant float64
		wantPitch   float64
	}{
		{name: "named beats high archetype", charName: "Anya Forger", role: "Spy Child", wantFormant: 450, wantPitch: 500},
		{name: "named beats deep archetype", charName: "Ainz Ooal Gown", role: "Overlord Emperor", wantFormant: -400, wantPitch: -600},
		{name: "formant-only override keeps archetype pitch", charName: "Rei", role: "Princess", wantFormant: 100, wantPitch: 250},
		{name: "formant-only override alone", charName: "Rei Ayanami", role: "Pilot", wantFormant: 100, wantPitch: 0},
		{name: "pitch-only override keeps archetype formant", charName: "Zenitsu Agatsuma", role: "Demon Slayer", wantFormant: -150, wantPitch: 300},
		{name: "high archetype beats deep archetype", charName: "Rimuru", role: "Demon Lord Slime", wantFormant: 250, wantPitch: 250},
		{name: "case insensitive keyword", charName: "Raiden", role: "GOD OF THUNDER", wantFormant: -150, wantPitch: -250},
		{name: "keyword in description", charName: "Mei", role: "Assistant", description: "A tiny fairy who helps travellers.", wantFormant: 250, wantPitch: 250},
		{name: "keyword in name", charName: "King Arthur", role: "Knight", wantFormant: -150, wantPitch: -250},
		{name: "whole words only", charName: "Bob", role: "Speaking Godly Coach", wantFormant: 0, wantPitch: 0},
		{name: "fuzzy named match", charName: "Kratoss", role: "Warrior", wantFormant: -400, wantPitch: -600},
		{name: "short names need exact match", charName: "Reii", role: "Pilot", wantFormant: 0, wantPitch: 0},
		{name: "name override does not read role", charName: "Guts", role: "Anya fan club", wantFormant: 0, wantPitch: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Derive("id-"+tt.charName, tt.charName, tt.role, tt.description)
			if p.FormantShift != tt.wantFormant {
				t.Errorf("FormantShift = %v, want %v", p.FormantShift, tt.wantFormant)
			}
			if p.PitchShift != tt.wantPitch {
				t.Errorf("PitchShift = %v, want %v", p.PitchShift, tt.wantPitch)
			}
		})
	}
}

func TestDerive_Saturation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		charName    string
		role        string
		description string
		want        float64
	}{
		{name: "deep keyword in role", charName: "X", role: "Captain", want: 40},
		{name: "arrogante marker", charName: "X", role: "Mage", description: "Você é ARROGANTE e frio.", want: 40},
		{name: "sombrio marker", charName: "X", role: "Mage", description: "Tom sombrio.", want: 40},
		{name: "deep keyword only in name", charName: "King Arthur", role: "Knight", want: 15},
		{name: "plain", charName: "X", role: "Baker", description: "Friendly.", want: 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Derive("id", tt.charName, tt.role, tt.description).Saturation; got != tt.want {
				t.Errorf("Saturation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRules_ResolveLabels(t *testing.T) {
	t.Parallel()
	_, _, fr, pr := DefaultRules.Resolve(Identity{Name: "Rei", Role: "Princess"})
	if fr != "light-named" {
		t.Errorf("formant rule = %q, want light-named", fr)
	}
	if pr != "high-archetype" {
		t.Errorf("pitch rule = %q, want high-archetype", pr)
	}

	_, _, fr, pr = DefaultRules.Resolve(Identity{Name: "Nobody"})
	if fr != "" || pr != "" {
		t.Errorf("rules for unmatched identity = (%q, %q), want empty", fr, pr)
	}
}

func TestRules_CustomTable(t *testing.T) {
	t.Parallel()
	rules := Rules{
		{Label: "always", Predicate: func(Identity) bool { return true }, Override: Override{PitchShift: ptr(7)}},
		{Label: "never", Predicate: func(Identity) bool { t.Error("predicate evaluated after all parameters were set"); return false }, Override: Override{PitchShift: ptr(9)}},
	}
	f, p, _, _ := rules.Resolve(Identity{})
	if f != 0 || p != 7 {
		t.Errorf("Resolve = (%v, %v), want (0, 7)", f, p)
	}
}

func TestWordText(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"", " "},
		{"God of War", " god of war "},
		{"  Spy×Family!! ", " spy family "},
		{"Kratós", " kratós "},
	}
	for _, tt := range tests {
		if got := wordText(tt.in); got != tt.want {
			t.Errorf("wordText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
