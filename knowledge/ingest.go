package knowledge

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Parse converts an uploaded payload into plain UTF-8 text. Detection is by
// content signature only; anything unrecognized is treated as UTF-8 text, so
// parsing never fails on an unknown format.
func Parse(data []byte, filename string) string {
	if len(data) == 0 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		data = data[3:]
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return decodeUTF16(data[2:], false)
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return decodeUTF16(data[2:], true)
	}

	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func decodeUTF16(data []byte, bigEndian bool) string {
	if len(data) < 2 {
		return ""
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		if bigEndian {
			units = append(units, uint16(data[i])<<8|uint16(data[i+1]))
		} else {
			units = append(units, uint16(data[i+1])<<8|uint16(data[i]))
		}
	}
	return string(utf16.Decode(units))
}

// Frontmatter holds the whitelisted keys parsed from a document's leading
// metadata block. Unknown keys land in Extra.
type Frontmatter struct {
	Title    string
	Category string
	Priority int
	Tags     []string
	Element  string
	Organs   []string
	Symptoms []string
	Extra    map[string]string
}

func (f Frontmatter) Metadata() Metadata {
	return Metadata{
		Element:  f.Element,
		Organs:   f.Organs,
		Symptoms: f.Symptoms,
		Extra:    f.Extra,
	}
}

// ExtractFrontmatter parses a leading block fenced by "---" lines containing
// `key: value` and `key: [a,b,c]` entries and returns it with the remaining
// body. Malformed lines are skipped and duplicate keys follow a last-wins
// policy. Without an opening fence the whole text is the body.
func ExtractFrontmatter(text string) (Frontmatter, string) {
	fm := Frontmatter{}
	normalized := normalizeNewlines(text)
	if !strings.HasPrefix(normalized, "---\n") && strings.TrimRight(normalized, "\n") != "---" {
		return fm, text
	}

	lines := strings.Split(normalized, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return fm, text
	}

	for _, line := range lines[1:end] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		fm.apply(key, value)
	}

	body := strings.Join(lines[end+1:], "\n")
	return fm, body
}

func (f *Frontmatter) apply(key, value string) {
	switch key {
	case "title":
		f.Title = value
	case "category":
		f.Category = value
	case "priority":
		if parsed, err := strconv.Atoi(value); err == nil {
			f.Priority = parsed
		}
	case "tags":
		f.Tags = parseFrontmatterList(value)
	case "element":
		f.Element = strings.ToLower(value)
	case "organs":
		f.Organs = parseFrontmatterList(value)
	case "symptoms":
		f.Symptoms = parseFrontmatterList(value)
	default:
		if f.Extra == nil {
			f.Extra = make(map[string]string)
		}
		f.Extra[key] = value
	}
}

func parseFrontmatterList(value string) []string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	parts := strings.Split(trimmed, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.Trim(strings.TrimSpace(part), `"'`)
		if item != "" {
			result = append(result, item)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// CleanText trims each line, collapses runs of spaces and tabs, and reduces
// consecutive blank lines to a single one.
func CleanText(text string) string {
	lines := strings.Split(normalizeNewlines(text), "\n")
	cleaned := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed == "" {
			if !blank && len(cleaned) > 0 {
				cleaned = append(cleaned, "")
			}
			blank = true
			continue
		}
		blank = false
		cleaned = append(cleaned, trimmed)
	}
	for len(cleaned) > 0 && cleaned[len(cleaned)-1] == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return strings.Join(cleaned, "\n")
}

const truncationMarker = "\n[conteúdo truncado]"

// TruncateForEmbedding enforces the provider character budget on a single
// chunk. The budget is derived conservatively from the provider token ceiling;
// exceeding it is a logged warning upstream, never an error.
func TruncateForEmbedding(text string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text, false
	}
	keep := maxChars - len([]rune(truncationMarker))
	if keep < 0 {
		keep = 0
	}
	return strings.TrimRight(string(runes[:keep]), " \n") + truncationMarker, true
}
