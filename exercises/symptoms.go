package exercises

import "strings"

// symptomDictionary maps colloquial phrasings (Portuguese, lowercased) to one
// canonical symptom tag. Many phrasings fold into the same tag; matching is
// by substring over the normalized message.
var symptomDictionary = []struct {
	tag      string
	keywords []string
}{
	{"anxiety", []string{"ansiedade", "ansioso", "ansiosa", "nervoso", "nervosa", "nervosismo", "angústia", "angustia", "coração acelerado", "coracao acelerado"}},
	{"insomnia", []string{"insônia", "insonia", "não durmo", "nao durmo", "não consigo dormir", "nao consigo dormir", "durmo mal", "sono ruim", "acordo de madrugada"}},
	{"stress", []string{"estresse", "estressado", "estressada", "sobrecarregado", "sobrecarregada", "tensão", "tensao", "tenso", "tensa"}},
	{"fatigue", []string{"cansaço", "cansaco", "cansado", "cansada", "exausto", "exausta", "fadiga", "sem energia", "esgotado", "esgotada"}},
	{"sadness", []string{"tristeza", "triste", "desânimo", "desanimo", "desanimado", "desanimada", "melancolia"}},
	{"anger", []string{"raiva", "irritado", "irritada", "irritação", "irritacao", "impaciência", "impaciencia", "explosivo"}},
	{"fear", []string{"medo", "insegurança", "inseguranca", "pavor", "receio de tudo"}},
	{"back_pain", []string{"dor nas costas", "dor na lombar", "lombar", "dor na coluna", "coluna travada"}},
	{"headache", []string{"dor de cabeça", "dor de cabeca", "enxaqueca", "cabeça pesada", "cabeca pesada"}},
	{"digestion", []string{"digestão", "digestao", "má digestão", "ma digestao", "azia", "estômago", "estomago", "intestino preso", "prisão de ventre", "prisao de ventre"}},
	{"breathing", []string{"falta de ar", "respiração curta", "respiracao curta", "respiração presa", "respiracao presa"}},
}

// ExtractSymptoms returns the canonical tags whose keywords appear in the
// message, in dictionary order, deduplicated.
func ExtractSymptoms(message string) []string {
	normalized := strings.ToLower(message)
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	var tags []string
	for _, entry := range symptomDictionary {
		for _, keyword := range entry.keywords {
			if strings.Contains(normalized, keyword) {
				tags = append(tags, entry.tag)
				break
			}
		}
	}
	return tags
}

// practiceTriggers is the small "wants to practice" set that activates the
// curated introductory selection when no symptom was recognized.
var practiceTriggers = []string{
	"quero praticar",
	"quero um exercício",
	"quero um exercicio",
	"me passa um exercício",
	"me passa um exercicio",
	"quero treinar",
	"quero começar a praticar",
	"quero comecar a praticar",
	"me recomenda uma prática",
	"me recomenda uma pratica",
	"qual exercício",
	"qual exercicio",
	"me ensina uma prática",
	"me ensina uma pratica",
}

// WantsPractice reports whether the message is a generic practice request.
func WantsPractice(message string) bool {
	normalized := strings.ToLower(message)
	for _, trigger := range practiceTriggers {
		if strings.Contains(normalized, trigger) {
			return true
		}
	}
	return false
}
