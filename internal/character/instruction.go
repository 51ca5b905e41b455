package character

import "strings"

const vocalModulation = "[VOCAL MODULATION PROTOCOL]: Use uma ampla gama de tons emocionais. " +
	"Se estiver empolgado, fale mais rápido e alto. Se triste, mais devagar. " +
	"Evite soar monótono. Seja altamente expressivo."

const (
	callRulesHeader = "[INSTRUÇÕES ADICIONAIS DE PERSONALIDADE/COMPORTAMENTO]:"
	chatRulesHeader = "=== NEURAL PROCESSING RULES (NLP) ==="
	chatMemory      = "=== CONTEXT MEMORY ===\nVocê tem acesso ao histórico desta conversa. Use-o para manter a consistência."
)

// FullInstruction is the system instruction for a live call: the persona,
// the vocal modulation protocol and then the custom instructions, if any.
func FullInstruction(c Character) string {
	var b strings.Builder
	b.WriteString(c.SystemInstruction)
	b.WriteString("\n\n")
	b.WriteString(vocalModulation)
	writeRules(&b, callRulesHeader, c.CustomInstructions)
	return b.String()
}

// ChatInstruction is the system prompt for text chat. It carries the custom
// instructions and a reminder that the history is available.
func ChatInstruction(c Character) string {
	var b strings.Builder
	b.WriteString(c.SystemInstruction)
	writeRules(&b, chatRulesHeader, c.CustomInstructions)
	b.WriteString("\n\n")
	b.WriteString(chatMemory)
	return b.String()
}

// ActingPrompt directs a speech synthesizer to perform text as c with the
// given emotion.
func ActingPrompt(c Character, emotion string) string {
	persona := c.SystemInstruction
	if r := []rune(persona); len(r) > 100 {
		persona = string(r[:100])
	}
	return "Act as " + c.Name + ". Role: " + c.Role + ". Current Emotion: " + strings.ToUpper(emotion) +
		". Speak with " + persona + "..."
}

func writeRules(b *strings.Builder, header string, rules []string) {
	if len(rules) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(strings.Join(rules, "\n"))
}
