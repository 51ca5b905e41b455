package voice

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Archetype keyword sets. Matching is case-insensitive and on whole words.
var (
	deepKeywords = []string{"god", "titan", "king", "vingador", "general", "captain", "emperor", "demon", "villain"}
	highKeywords = []string{"child", "small", "cute", "maid", "slime", "princess", "fairy", "spy"}
)

const (
	// fuzzyMinRunes is the shortest name token eligible for fuzzy matching.
	// Shorter names ("Rei", "Ainz") only match exactly.
	fuzzyMinRunes = 5

	// fuzzyThreshold is the minimum Jaro-Winkler similarity for a fuzzy hit.
	fuzzyThreshold = 0.93
)

// Predicate reports whether a rule applies to a character.
type Predicate func(Identity) bool

// Override assigns some identity parameters. Nil fields are left for later
// rules to decide.
type Override struct {
	FormantShift *float64
	PitchShift   *float64
}

// Rule is one row of the precedence table.
type Rule struct {
	// Label names the rule in logs and tests.
	Label     string
	Predicate Predicate
	Override  Override
}

// Rules is an ordered precedence table. For every parameter, the first
// matching rule that defines it wins; more specific rules come first.
type Rules []Rule

// DefaultRules is the table used by [Derive]: named characters first, then
// the high-pitched archetype, then the deep archetype.
var DefaultRules = Rules{
	{Label: "deep-named", Predicate: NameMatches("kratos", "sukuna", "ainz"), Override: Override{FormantShift: ptr(-400), PitchShift: ptr(-600)}},
	{Label: "high-named", Predicate: NameMatches("anya", "pikachu"), Override: Override{FormantShift: ptr(450), PitchShift: ptr(500)}},
	{Label: "light-named", Predicate: NameMatches("rei", "violet"), Override: Override{FormantShift: ptr(100)}},
	{Label: "zenitsu", Predicate: NameMatches("zenitsu"), Override: Override{PitchShift: ptr(300)}},
	{Label: "frieren", Predicate: NameMatches("frieren"), Override: Override{PitchShift: ptr(-100)}},
	{Label: "gojo", Predicate: NameMatches("gojo"), Override: Override{PitchShift: ptr(-50)}},
	{Label: "high-archetype", Predicate: KeywordIn(highKeywords...), Override: Override{FormantShift: ptr(250), PitchShift: ptr(250)}},
	{Label: "deep-archetype", Predicate: KeywordIn(deepKeywords...), Override: Override{FormantShift: ptr(-150), PitchShift: ptr(-250)}},
}

// Resolve returns the formant and pitch shift the table assigns to c, along
// with the labels of the rules that decided each one (empty when no rule
// matched and the parameter stayed at zero).
func (rs Rules) Resolve(c Identity) (formant, pitch float64, formantRule, pitchRule string) {
	var formantSet, pitchSet bool
	for _, r := range rs {
		if formantSet && pitchSet {
			break
		}
		if (formantSet || r.Override.FormantShift == nil) && (pitchSet || r.Override.PitchShift == nil) {
			continue
		}
		if !r.Predicate(c) {
			continue
		}
		if !formantSet && r.Override.FormantShift != nil {
			formant, formantRule, formantSet = *r.Override.FormantShift, r.Label, true
		}
		if !pitchSet && r.Override.PitchShift != nil {
			pitch, pitchRule, pitchSet = *r.Override.PitchShift, r.Label, true
		}
	}
	return formant, pitch, formantRule, pitchRule
}

func (rs Rules) resolve(c Identity) (formant, pitch float64) {
	formant, pitch, _, _ = rs.Resolve(c)
	return formant, pitch
}

// NameMatches matches when any word of the character's name equals one of
// names. Name words of at least five runes also match on a close
// Jaro-Winkler score, which absorbs accents and typos ("Kratós").
func NameMatches(names ...string) Predicate {
	return func(c Identity) bool {
		tokens := strings.Fields(wordText(c.Name))
		for _, tok := range tokens {
			for _, n := range names {
				if tok == n {
					return true
				}
				if len([]rune(tok)) >= fuzzyMinRunes && len([]rune(n)) >= fuzzyMinRunes &&
					matchr.JaroWinkler(tok, n, false) >= fuzzyThreshold {
					return true
				}
			}
		}
		return false
	}
}

// KeywordIn matches when any keyword appears as a whole word (or phrase) in
// the character's role, description or name.
func KeywordIn(keywords ...string) Predicate {
	return func(c Identity) bool {
		text := wordText(c.Role + " " + c.Description + " " + c.Name)
		for _, k := range keywords {
			if containsWord(text, k) {
				return true
			}
		}
		return false
	}
}

// wordText lower-cases s and rewrites it as space-separated words with a
// leading and trailing space, so whole-word lookups become substring checks.
func wordText(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsWord(text, phrase string) bool {
	return strings.Contains(text, " "+phrase+" ")
}

func ptr(v float64) *float64 { return &v }
