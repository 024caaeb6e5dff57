package codeact

import (
	"regexp"
	"sort"
	"strings"
)

// BlockKind classifies a span of model output.
type BlockKind string

const (
	KindThought BlockKind = "thought"
	KindExecute BlockKind = "execute"
	KindText    BlockKind = "text"
)

// Block is one parsed span of model output.
type Block struct {
	Kind    BlockKind
	Content string
}

var (
	executeTagRE = regexp.MustCompile(`(?s)<execute>\s*\n?(.*?)\n?\s*</execute>`)
	thoughtTagRE = regexp.MustCompile(`(?s)<thought>\s*\n?(.*?)\n?\s*</thought>`)
	pythonFence  = regexp.MustCompile("(?s)```(?:python|py)\\s*\\n(.*?)\\n\\s*```")
)

type span struct {
	start, end int
	block      Block
	skip       bool
}

// Parse splits model output into thought, execute and text blocks in source
// order. Fenced python code counts as execute only when no <execute> tag is
// present. An execute block inside a thought is lifted out of it and the
// thought split around it. Text outside tagged spans is trimmed and dropped
// when empty.
func Parse(text string) []Block {
	find := func(re *regexp.Regexp, kind BlockKind) []span {
		var out []span
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			out = append(out, span{start: m[0], end: m[1], block: Block{kind, strings.TrimSpace(text[m[2]:m[3]])}})
		}
		return out
	}

	execs := find(executeTagRE, KindExecute)
	if len(execs) == 0 {
		execs = find(pythonFence, KindExecute)
	}
	spans := append([]span(nil), execs...)
	for _, m := range thoughtTagRE.FindAllStringSubmatchIndex(text, -1) {
		spans = append(spans, splitThought(text, m, execs)...)
	}

	var blocks []Block
	if len(spans) == 0 {
		if s := strings.TrimSpace(text); s != "" {
			blocks = append(blocks, Block{KindText, s})
		}
		return blocks
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	prev := 0
	for _, sp := range spans {
		if sp.start < prev {
			// Overlaps an earlier span, e.g. a thought inside an execute block.
			continue
		}
		if gap := strings.TrimSpace(text[prev:sp.start]); gap != "" {
			blocks = append(blocks, Block{KindText, gap})
		}
		if !sp.skip {
			blocks = append(blocks, sp.block)
		}
		prev = sp.end
	}
	if tail := strings.TrimSpace(text[prev:]); tail != "" {
		blocks = append(blocks, Block{KindText, tail})
	}
	return blocks
}

// splitThought returns the thought matched at m, cut around the execute
// spans its content contains. Empty pieces cover their markup but yield no
// block.
func splitThought(text string, m []int, execs []span) []span {
	var pieces []span
	cur, from := m[0], m[2]
	for _, e := range execs {
		if e.start < m[2] || e.end > m[3] {
			continue
		}
		pieces = append(pieces, thoughtPiece(text, cur, e.start, from, e.start))
		cur, from = e.end, e.end
	}
	if len(pieces) == 0 {
		return []span{{start: m[0], end: m[1], block: Block{KindThought, strings.TrimSpace(text[m[2]:m[3]])}}}
	}
	return append(pieces, thoughtPiece(text, cur, m[1], from, m[3]))
}

func thoughtPiece(text string, start, end, from, to int) span {
	content := strings.TrimSpace(text[from:to])
	return span{start: start, end: end, block: Block{KindThought, content}, skip: content == ""}
}

// HasCode reports whether text contains an executable block.
func HasCode(text string) bool {
	_, ok := ExtractCode(text)
	return ok
}

// ExtractCode returns the first executable block.
func ExtractCode(text string) (string, bool) {
	for _, b := range Parse(text) {
		if b.Kind == KindExecute {
			return b.Content, true
		}
	}
	return "", false
}

// ExtractTextResponse returns the prose of text with code and thoughts
// removed, paragraphs separated by a blank line.
func ExtractTextResponse(text string) string {
	var parts []string
	for _, b := range Parse(text) {
		if b.Kind == KindText {
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
