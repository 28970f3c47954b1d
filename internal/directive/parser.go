// Package directive recognises inline commands embedded in generated NPC text.
//
// A directive has the form {name} or {name:p1,p2,...}. Names are
// case-sensitive and consist of ASCII letters, digits and underscores.
// Parameters are comma separated and trimmed; there is no escaping mechanism,
// so a literal brace or comma inside a parameter cannot be expressed.
//
// Well-formed directives are always removed from the clean text. Anything that
// does not match the grammar (an unterminated brace, a name with spaces, a
// nested brace) is left in the clean text verbatim.
package directive

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPattern is the standard directive grammar. The "name" group captures
// the directive name and the optional "params" group captures the raw
// parameter segment after the colon.
const DefaultPattern = `\{(?P<name>[A-Za-z0-9_]+)(?::(?P<params>[^{}]*))?\}`

// Directive is one parsed inline command.
type Directive struct {
	// Name is the directive name, e.g. "openMarket".
	Name string `json:"name"`

	// Params holds the trimmed, comma-split parameters in source order. It is
	// nil when the directive had no parameter segment or an empty one.
	Params []string `json:"params,omitempty"`

	// Raw is the exact substring that matched, braces included.
	Raw string `json:"raw"`

	// Offset is the byte offset of Raw within the parsed text.
	Offset int `json:"offset"`
}

// String renders the directive back into wire format.
func (d Directive) String() string {
	if len(d.Params) == 0 {
		return "{" + d.Name + "}"
	}
	return "{" + d.Name + ":" + strings.Join(d.Params, ",") + "}"
}

// Result is the outcome of a single [Parser.Parse] call.
type Result struct {
	// Clean is the input with every directive removed, whitespace runs
	// collapsed to a single space, and surrounding whitespace trimmed.
	Clean string

	// Directives lists the parsed directives in source order.
	Directives []Directive
}

// Parser extracts directives from text. The compiled pattern is the only
// state it holds and it is never mutated, so a Parser is safe for concurrent
// use and every call to Parse starts a fresh scan.
type Parser struct {
	re        *regexp.Regexp
	nameIdx   int
	paramsIdx int
}

var defaultParser = mustNew(DefaultPattern)

// Default returns a Parser using [DefaultPattern].
func Default() *Parser { return defaultParser }

// New compiles pattern into a Parser. The pattern must define a capture group
// named "name"; a group named "params" is optional.
func New(pattern string) (*Parser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("directive: compile pattern: %w", err)
	}
	nameIdx := re.SubexpIndex("name")
	if nameIdx < 0 {
		return nil, fmt.Errorf("directive: pattern %q has no (?P<name>...) group", pattern)
	}
	return &Parser{
		re:        re,
		nameIdx:   nameIdx,
		paramsIdx: re.SubexpIndex("params"),
	}, nil
}

func mustNew(pattern string) *Parser {
	p, err := New(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse is shorthand for Default().Parse(text).
func Parse(text string) Result {
	return defaultParser.Parse(text)
}

// Parse scans text and returns the clean text together with every directive
// found. It never fails: input that does not match the grammar is simply
// carried over into Result.Clean.
func (p *Parser) Parse(text string) Result {
	matches := p.re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Result{Clean: collapseSpace(text)}
	}

	directives := make([]Directive, 0, len(matches))
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(text[last:start])
		last = end

		d := Directive{
			Name:   text[m[2*p.nameIdx]:m[2*p.nameIdx+1]],
			Raw:    text[start:end],
			Offset: start,
		}
		if p.paramsIdx > 0 && m[2*p.paramsIdx] >= 0 {
			d.Params = splitParams(text[m[2*p.paramsIdx]:m[2*p.paramsIdx+1]])
		}
		directives = append(directives, d)
	}
	b.WriteString(text[last:])

	return Result{
		Clean:      collapseSpace(b.String()),
		Directives: directives,
	}
}

// splitParams comma-splits raw and trims each element. An empty or
// whitespace-only segment yields nil rather than a single empty parameter.
func splitParams(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
