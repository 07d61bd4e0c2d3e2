package knowledge

import "strings"

type chunkSegment struct {
	Text       string
	TokenCount int
}

// splitter divides cleaned text into bounded segments. Strategies run in
// order and the first fully valid result wins: heading-based sections,
// paragraph grouping, then a recursive character split with overlap.
type splitter struct {
	targetTokens  int
	overlapTokens int
}

const (
	defaultTargetTokens = 250
	// Sections produced by the heading pass may run up to this factor over
	// target before the pass is rejected as a whole.
	oversizeFactor = 1.5
)

func newSplitter(targetTokens int) *splitter {
	if targetTokens <= 0 {
		targetTokens = defaultTargetTokens
	}
	overlap := targetTokens / 5
	return &splitter{targetTokens: targetTokens, overlapTokens: overlap}
}

func (s *splitter) split(text string) []chunkSegment {
	cleaned := strings.TrimSpace(normalizeNewlines(text))
	if cleaned == "" {
		return nil
	}

	if segments, ok := s.splitByHeadings(cleaned); ok {
		return segments
	}
	// Paragraph grouping is rejected only when the text has no paragraph
	// structure at all: a single segment over the oversize limit means one
	// giant blob that only the recursive pass can bound.
	limit := int(float64(s.targetTokens) * oversizeFactor)
	if segments := s.groupParagraphs(cleaned); len(segments) > 1 ||
		(len(segments) == 1 && segments[0].TokenCount <= limit) {
		return segments
	}

	maxChars := s.targetTokens * 4
	overlapChars := s.overlapTokens * 4
	pieces := recursiveSplit(cleaned, recursiveSeparators, maxChars, overlapChars)
	segments := make([]chunkSegment, 0, len(pieces))
	for _, piece := range pieces {
		trimmed := strings.TrimSpace(piece)
		if trimmed == "" {
			continue
		}
		segments = append(segments, chunkSegment{Text: trimmed, TokenCount: EstimateTokens(trimmed)})
	}
	return segments
}

// splitByHeadings cuts at markdown headings. The result is only accepted when
// every section stays within the oversize factor; otherwise the next strategy
// takes over.
func (s *splitter) splitByHeadings(text string) ([]chunkSegment, bool) {
	lines := strings.Split(text, "\n")
	var sections []string
	var current []string
	sawHeading := false

	flush := func() {
		section := strings.TrimSpace(strings.Join(current, "\n"))
		if section != "" {
			sections = append(sections, section)
		}
		current = current[:0]
	}

	for _, line := range lines {
		if isHeadingLine(line) {
			sawHeading = true
			flush()
		}
		current = append(current, line)
	}
	flush()

	if !sawHeading || len(sections) < 2 {
		return nil, false
	}

	limit := int(float64(s.targetTokens) * oversizeFactor)
	segments := make([]chunkSegment, 0, len(sections))
	for _, section := range sections {
		tokens := EstimateTokens(section)
		if tokens > limit {
			return nil, false
		}
		segments = append(segments, chunkSegment{Text: section, TokenCount: tokens})
	}
	return segments, true
}

func isHeadingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	return level <= 6 && level < len(trimmed) && trimmed[level] == ' '
}

// groupParagraphs accumulates whole paragraphs until the next would push the
// chunk past target, then flushes. A single paragraph over target is emitted
// verbatim as its own chunk; paragraphs are never split here.
func (s *splitter) groupParagraphs(text string) []chunkSegment {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var segments []chunkSegment
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.Join(current, "\n\n")
		segments = append(segments, chunkSegment{Text: joined, TokenCount: EstimateTokens(joined)})
		current = current[:0]
		currentTokens = 0
	}

	for _, paragraph := range paragraphs {
		tokens := EstimateTokens(paragraph)
		if currentTokens > 0 && currentTokens+tokens > s.targetTokens {
			flush()
		}
		current = append(current, paragraph)
		currentTokens += tokens
		if currentTokens > s.targetTokens {
			flush()
		}
	}
	flush()
	return segments
}

func splitParagraphs(text string) []string {
	blocks := strings.Split(text, "\n\n")
	paragraphs := make([]string, 0, len(blocks))
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// Separator preference for the recursive pass, coarsest first.
var recursiveSeparators = []string{"\n\n", "\n", ". ", " ", ""}

func recursiveSplit(text string, separators []string, maxChars, overlapChars int) []string {
	if len([]rune(text)) <= maxChars {
		return []string{text}
	}
	if len(separators) == 0 {
		return hardSplit(text, maxChars, overlapChars)
	}

	sep := separators[0]
	if sep == "" {
		return hardSplit(text, maxChars, overlapChars)
	}

	parts := strings.Split(text, sep)
	if len(parts) < 2 {
		return recursiveSplit(text, separators[1:], maxChars, overlapChars)
	}

	var result []string
	var current string
	for _, part := range parts {
		candidate := part
		if current != "" {
			candidate = current + sep + part
		}
		if len([]rune(candidate)) <= maxChars {
			current = candidate
			continue
		}
		if current != "" {
			result = append(result, current)
			current = overlapTail(current, overlapChars)
			if current != "" {
				current = current + sep + part
			} else {
				current = part
			}
		} else {
			current = part
		}
		if len([]rune(current)) > maxChars {
			result = append(result, recursiveSplit(current, separators[1:], maxChars, overlapChars)...)
			current = ""
		}
	}
	if strings.TrimSpace(current) != "" {
		result = append(result, current)
	}
	return result
}

func hardSplit(text string, maxChars, overlapChars int) []string {
	runes := []rune(text)
	if maxChars <= 0 {
		return []string{text}
	}
	step := maxChars - overlapChars
	if step <= 0 {
		step = maxChars
	}
	var result []string
	for start := 0; start < len(runes); start += step {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		result = append(result, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return result
}

// overlapTail returns the trailing slice of text used to seed the next chunk
// so context survives the boundary.
func overlapTail(text string, overlapChars int) string {
	if overlapChars <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= overlapChars {
		return text
	}
	tail := string(runes[len(runes)-overlapChars:])
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}

// EstimateTokens approximates the provider tokenizer as ceil(chars/4). The
// same estimate is used at ingestion and reporting time.
func EstimateTokens(text string) int {
	runes := len([]rune(text))
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

func normalizeNewlines(value string) string {
	if value == "" {
		return ""
	}
	replaced := strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(replaced, "\r", "\n")
}
