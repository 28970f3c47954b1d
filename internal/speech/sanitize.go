package speech

import (
	"regexp"
	"strings"
)

var (
	emphasis      = regexp.MustCompile(`\*\*|__`)
	stageDirs     = regexp.MustCompile(`\*[^*\n]*\*|\([^()]*\)|\[[^\[\]]*\]`)
	directives    = regexp.MustCompile(`\{[^{}]*\}`)
	strayMarkup   = regexp.MustCompile("[*`#~{}]")
	pictographs   = regexp.MustCompile(`[\p{So}\x{FE00}-\x{FE0F}\x{200D}\x{20E3}\x{1F3FB}-\x{1F3FF}]`)
	spaceBeforePn = regexp.MustCompile(`\s+([.,!?;:…])`)
)

// Sanitize strips text the voice must not read aloud: stage directions in
// asterisks, parentheses or brackets, markdown markers, pictographic glyphs
// with their variation selectors, and any leftover directive braces.
// Whitespace is collapsed and trimmed.
func Sanitize(text string) string {
	text = emphasis.ReplaceAllString(text, "")
	text = stageDirs.ReplaceAllString(text, " ")
	text = directives.ReplaceAllString(text, " ")
	text = strayMarkup.ReplaceAllString(text, "")
	text = pictographs.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	return spaceBeforePn.ReplaceAllString(text, "$1")
}
