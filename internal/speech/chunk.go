package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChunk is the character budget of one synthesis request.
const DefaultMaxChunk = 1000

// Split breaks text into chunks of at most limit characters. It packs whole
// sentences where it can, falls back to word boundaries for a sentence that
// is too long on its own, and hard-splits a single word longer than limit.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultMaxChunk
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var p packer
	p.max = limit
	for _, s := range sentences(text) {
		if utf8.RuneCountInString(s) <= limit {
			p.add(s)
			continue
		}
		for _, w := range strings.Fields(s) {
			if utf8.RuneCountInString(w) <= limit {
				p.add(w)
				continue
			}
			p.flush()
			r := []rune(w)
			for len(r) > limit {
				p.out = append(p.out, string(r[:limit]))
				r = r[limit:]
			}
			p.add(string(r))
		}
	}
	p.flush()
	return p.out
}

// packer joins pieces with single spaces while the result fits.
type packer struct {
	max int
	cur strings.Builder
	n   int
	out []string
}

func (p *packer) add(s string) {
	l := utf8.RuneCountInString(s)
	if p.n > 0 && p.n+1+l > p.max {
		p.flush()
	}
	if p.n > 0 {
		p.cur.WriteByte(' ')
		p.n++
	}
	p.cur.WriteString(s)
	p.n += l
}

func (p *packer) flush() {
	if p.n == 0 {
		return
	}
	p.out = append(p.out, p.cur.String())
	p.cur.Reset()
	p.n = 0
}

// sentences splits after a run of terminal punctuation that is followed by
// whitespace. Closing quotes and brackets stay with their sentence.
func sentences(text string) []string {
	var out []string
	r := []rune(text)
	start := 0
	for i := 0; i < len(r); i++ {
		if !isTerminal(r[i]) {
			continue
		}
		j := i + 1
		for j < len(r) && (isTerminal(r[j]) || strings.ContainsRune(`"'”’)]`, r[j])) {
			j++
		}
		if j < len(r) && !unicode.IsSpace(r[j]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(r[start:j])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(r[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}
