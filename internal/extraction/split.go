package extraction

import (
	"strings"
	"unicode"
)

// minStatementLen filters fragments too short to carry a fact. Shorter
// pieces ("Done.", "Ratings:") lack enough semantic content for embedding
// comparison downstream.
const minStatementLen = 20

// SplitStatements breaks free text into individual candidate statements:
// markdown list items, sentences, numbered "(1) ..." items and substantial
// semicolon-separated parts, filtered by minimum length.
func SplitStatements(text string) []string {
	if len(text) == 0 {
		return nil
	}

	parts := splitListItems(text)

	var sentences []string
	for _, p := range parts {
		sentences = append(sentences, splitSentences(p)...)
	}

	var numbered []string
	for _, s := range sentences {
		numbered = append(numbered, splitNumbered(s)...)
	}

	var expanded []string
	for _, s := range numbered {
		expanded = append(expanded, splitSemicolons(s)...)
	}

	var out []string
	for _, s := range expanded {
		s = strings.TrimSpace(s)
		if len(s) >= minStatementLen {
			out = append(out, s)
		}
	}
	return out
}

// splitSentences splits on . ! ? followed by whitespace and an
// uppercase/digit/quote opener. Requiring the space keeps decimals like
// "7.2" and abbreviations like "e.g." intact.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && runes[j] == ' ' {
			j++
		}
		if j >= len(runes) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = j
			continue
		}
		if j == i+1 {
			continue
		}
		next := runes[j]
		if unicode.IsUpper(next) || unicode.IsDigit(next) || next == '(' || next == '"' || next == '\'' {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = j
		}
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitNumbered splits "(1) ... (2) ..." enumerations into items, keeping
// the numbered prefix with its item. Returns the input unchanged when no
// enumeration is present.
func splitNumbered(s string) []string {
	var parts []string
	var current strings.Builder
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		if runes[i] == '(' && i+2 < len(runes) && unicode.IsDigit(runes[i+1]) {
			j := i + 1
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			if j < len(runes) && runes[j] == ')' {
				if before := strings.TrimSpace(current.String()); before != "" {
					parts = append(parts, before)
				}
				current.Reset()
				current.WriteString(string(runes[i : j+1]))
				i = j
				continue
			}
		}
		current.WriteRune(runes[i])
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		parts = append(parts, rest)
	}
	if len(parts) <= 1 {
		return []string{s}
	}
	return parts
}

// splitListItems splits markdown-style "- " / "* " list items at line
// boundaries, preserving non-list text as its own element.
func splitListItems(text string) []string {
	lines := strings.Split(text, "\n")

	isItem := func(line string) bool {
		t := strings.TrimSpace(line)
		return (strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ")) && len(t) > 2
	}

	hasList := false
	for _, line := range lines {
		if isItem(line) {
			hasList = true
			break
		}
	}
	if !hasList {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	for _, line := range lines {
		if isItem(line) {
			if before := strings.TrimSpace(current.String()); before != "" {
				parts = append(parts, before)
			}
			current.Reset()
			parts = append(parts, strings.TrimSpace(strings.TrimSpace(line)[2:]))
			continue
		}
		if current.Len() > 0 {
			current.WriteRune(' ')
		}
		current.WriteString(strings.TrimSpace(line))
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// splitSemicolons splits on semicolons only when every part is substantial,
// so enumerations split but incidental semicolons in short text do not.
func splitSemicolons(text string) []string {
	if !strings.Contains(text, ";") {
		return []string{text}
	}
	raw := strings.Split(text, ";")
	for _, part := range raw {
		if len(strings.TrimSpace(part)) < minStatementLen {
			return []string{text}
		}
	}
	var parts []string
	for _, part := range raw {
		if t := strings.TrimSpace(part); t != "" {
			parts = append(parts, t)
		}
	}
	return parts
}
