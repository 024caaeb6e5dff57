package codeact

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// re

// Python flag values.
const (
	reIgnoreCase = 2
	reMultiline  = 8
	reDotAll     = 16
	reVerbose    = 64
)

type rePattern struct {
	source string
	flags  int
	re     *regexp.Regexp
	full   *regexp.Regexp
}

var _ starlark.HasAttrs = (*rePattern)(nil)

func compilePattern(v starlark.Value, flags int) (*rePattern, error) {
	if p, ok := v.(*rePattern); ok {
		return p, nil
	}
	src, ok := textOf(v)
	if !ok {
		return nil, fmt.Errorf("TypeError: first argument must be string or compiled pattern")
	}
	if flags&reVerbose != 0 {
		return nil, fmt.Errorf("re.error: re.VERBOSE is not supported")
	}
	prefix := ""
	if flags&reIgnoreCase != 0 {
		prefix += "i"
	}
	if flags&reMultiline != 0 {
		prefix += "m"
	}
	if flags&reDotAll != 0 {
		prefix += "s"
	}
	if prefix != "" {
		prefix = "(?" + prefix + ")"
	}
	re, err := regexp.Compile(prefix + src)
	if err != nil {
		return nil, fmt.Errorf("re.error: %v", err)
	}
	full, err := regexp.Compile(prefix + `\A(?:` + src + `)\z`)
	if err != nil {
		return nil, fmt.Errorf("re.error: %v", err)
	}
	return &rePattern{source: src, flags: flags, re: re, full: full}, nil
}

func (p *rePattern) String() string        { return fmt.Sprintf("re.compile(%q)", p.source) }
func (p *rePattern) Type() string          { return "Pattern" }
func (p *rePattern) Freeze()               {}
func (p *rePattern) Truth() starlark.Bool  { return true }
func (p *rePattern) Hash() (uint32, error) { return starlark.String(p.source).Hash() }
func (p *rePattern) AttrNames() []string {
	return []string{"findall", "finditer", "flags", "fullmatch", "groups", "match", "pattern", "search", "split", "sub", "subn"}
}

func (p *rePattern) Attr(name string) (starlark.Value, error) {
	switch name {
	case "pattern":
		return starlark.String(p.source), nil
	case "flags":
		return starlark.MakeInt(p.flags), nil
	case "groups":
		return starlark.MakeInt(p.re.NumSubexp()), nil
	}
	op, ok := reOps[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return op(thread, b, p, args, kwargs)
	}), nil
}

type reOp func(*starlark.Thread, *starlark.Builtin, *rePattern, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

var reOps map[string]reOp

func init() {
	reOps = map[string]reOp{
		"search":    reSearch("search"),
		"match":     reSearch("match"),
		"fullmatch": reSearch("fullmatch"),
		"findall":   reFindall,
		"finditer":  reFinditer,
		"sub":       reSub(false),
		"subn":      reSub(true),
		"split":     reSplit,
	}
}

func reSearch(mode string) reOp {
	return func(_ *starlark.Thread, b *starlark.Builtin, p *rePattern, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
			return nil, err
		}
		re := p.re
		if mode == "fullmatch" {
			re = p.full
		}
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil || (mode == "match" && loc[0] != 0) {
			return starlark.None, nil
		}
		return &reMatch{pattern: p, s: s, loc: loc}, nil
	}
}

func reFindall(_ *starlark.Thread, b *starlark.Builtin, p *rePattern, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	var out []starlark.Value
	for _, loc := range p.re.FindAllStringSubmatchIndex(s, -1) {
		m := &reMatch{pattern: p, s: s, loc: loc}
		switch n := p.re.NumSubexp(); n {
		case 0:
			out = append(out, m.groupText(0))
		case 1:
			out = append(out, m.groupText(1))
		default:
			t := make(starlark.Tuple, n)
			for i := range t {
				t[i] = m.groupText(i + 1)
			}
			out = append(out, t)
		}
	}
	return starlark.NewList(out), nil
}

func reFinditer(_ *starlark.Thread, b *starlark.Builtin, p *rePattern, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	var out []starlark.Value
	for _, loc := range p.re.FindAllStringSubmatchIndex(s, -1) {
		out = append(out, &reMatch{pattern: p, s: s, loc: loc})
	}
	return starlark.NewList(out), nil
}

var groupRefRE = regexp.MustCompile(`\\(?:g<(\w+)>|(\d{1,2}))`)

// expandTemplate converts a Python replacement string to Go's syntax.
func expandTemplate(repl string) string {
	repl = strings.ReplaceAll(repl, "$", "$$")
	repl = groupRefRE.ReplaceAllStringFunc(repl, func(ref string) string {
		m := groupRefRE.FindStringSubmatch(ref)
		if m[1] != "" {
			return "${" + m[1] + "}"
		}
		return "${" + m[2] + "}"
	})
	return strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\t`, "\t").Replace(repl)
}

func reSub(withCount bool) reOp {
	return func(thread *starlark.Thread, b *starlark.Builtin, p *rePattern, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			repl  starlark.Value
			s     string
			count int
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "repl", &repl, "string", &s, "count?", &count); err != nil {
			return nil, err
		}
		var tmpl string
		fn, isFunc := repl.(starlark.Callable)
		if !isFunc {
			r, ok := repl.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("TypeError: repl must be str or callable")
			}
			tmpl = expandTemplate(string(r))
		}

		var sb strings.Builder
		prev, n := 0, 0
		for _, loc := range p.re.FindAllStringSubmatchIndex(s, -1) {
			if count > 0 && n == count {
				break
			}
			sb.WriteString(s[prev:loc[0]])
			if isFunc {
				v, err := starlark.Call(thread, fn, starlark.Tuple{&reMatch{pattern: p, s: s, loc: loc}}, nil)
				if err != nil {
					return nil, err
				}
				sb.WriteString(str(v))
			} else {
				sb.Write(p.re.ExpandString(nil, tmpl, s, loc))
			}
			prev = loc[1]
			n++
		}
		sb.WriteString(s[prev:])
		if withCount {
			return starlark.Tuple{starlark.String(sb.String()), starlark.MakeInt(n)}, nil
		}
		return starlark.String(sb.String()), nil
	}
}

func reSplit(_ *starlark.Thread, b *starlark.Builtin, p *rePattern, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		s        string
		maxsplit int
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "string", &s, "maxsplit?", &maxsplit); err != nil {
		return nil, err
	}
	var out []starlark.Value
	prev, n := 0, 0
	for _, loc := range p.re.FindAllStringSubmatchIndex(s, -1) {
		if maxsplit > 0 && n == maxsplit {
			break
		}
		out = append(out, starlark.String(s[prev:loc[0]]))
		m := &reMatch{pattern: p, s: s, loc: loc}
		for g := 1; g <= p.re.NumSubexp(); g++ {
			if loc[2*g] < 0 {
				out = append(out, starlark.None)
			} else {
				out = append(out, m.groupText(g))
			}
		}
		prev = loc[1]
		n++
	}
	out = append(out, starlark.String(s[prev:]))
	return starlark.NewList(out), nil
}

// reMatch is a match object. Offsets are reported in characters.
type reMatch struct {
	pattern *rePattern
	s       string
	loc     []int
}

var (
	_ starlark.HasAttrs = (*reMatch)(nil)
	_ starlark.Mapping  = (*reMatch)(nil)
)

func (m *reMatch) String() string {
	return fmt.Sprintf("<re.Match object; span=(%d, %d), match=%q>", m.charOffset(m.loc[0]), m.charOffset(m.loc[1]), m.s[m.loc[0]:m.loc[1]])
}
func (m *reMatch) Type() string          { return "Match" }
func (m *reMatch) Freeze()               {}
func (m *reMatch) Truth() starlark.Bool  { return true }
func (m *reMatch) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: Match") }

func (m *reMatch) charOffset(byteOff int) int {
	if byteOff < 0 {
		return -1
	}
	return utf8.RuneCountInString(m.s[:byteOff])
}

func (m *reMatch) groupText(g int) starlark.Value {
	if m.loc[2*g] < 0 {
		return starlark.String("")
	}
	return starlark.String(m.s[m.loc[2*g]:m.loc[2*g+1]])
}

// groupIndex resolves a group number or name.
func (m *reMatch) groupIndex(v starlark.Value) (int, error) {
	if s, ok := v.(starlark.String); ok {
		if i := m.pattern.re.SubexpIndex(string(s)); i >= 0 {
			return i, nil
		}
		return 0, fmt.Errorf("IndexError: no such group")
	}
	var g int
	if err := starlark.AsInt(v, &g); err != nil {
		return 0, err
	}
	if g < 0 || g > m.pattern.re.NumSubexp() {
		return 0, fmt.Errorf("IndexError: no such group")
	}
	return g, nil
}

func (m *reMatch) group(v starlark.Value) (starlark.Value, error) {
	g, err := m.groupIndex(v)
	if err != nil {
		return nil, err
	}
	if m.loc[2*g] < 0 {
		return starlark.None, nil
	}
	return m.groupText(g), nil
}

func (m *reMatch) Get(k starlark.Value) (starlark.Value, bool, error) {
	v, err := m.group(k)
	return v, err == nil, err
}

func (m *reMatch) AttrNames() []string {
	return []string{"end", "group", "groupdict", "groups", "span", "start", "string"}
}

func (m *reMatch) Attr(name string) (starlark.Value, error) {
	switch name {
	case "string":
		return starlark.String(m.s), nil
	case "group":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
			}
			if len(args) == 0 {
				return m.group(starlark.MakeInt(0))
			}
			if len(args) == 1 {
				return m.group(args[0])
			}
			out := make(starlark.Tuple, len(args))
			for i, a := range args {
				v, err := m.group(a)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}), nil
	case "groups":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var def starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "default?", &def); err != nil {
				return nil, err
			}
			out := make(starlark.Tuple, m.pattern.re.NumSubexp())
			for i := range out {
				if m.loc[2*(i+1)] < 0 {
					out[i] = def
				} else {
					out[i] = m.groupText(i + 1)
				}
			}
			return out, nil
		}), nil
	case "groupdict":
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			d := starlark.NewDict(0)
			for i, n := range m.pattern.re.SubexpNames() {
				if n == "" {
					continue
				}
				v, _ := m.group(starlark.MakeInt(i))
				_ = d.SetKey(starlark.String(n), v)
			}
			return d, nil
		}), nil
	case "start", "end", "span":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var gv starlark.Value = starlark.MakeInt(0)
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &gv); err != nil {
				return nil, err
			}
			g, err := m.groupIndex(gv)
			if err != nil {
				return nil, err
			}
			start, end := starlark.MakeInt(m.charOffset(m.loc[2*g])), starlark.MakeInt(m.charOffset(m.loc[2*g+1]))
			switch name {
			case "start":
				return start, nil
			case "end":
				return end, nil
			}
			return starlark.Tuple{start, end}, nil
		}), nil
	}
	return nil, nil
}

func reModule() *starlarkstruct.Module {
	fns := map[string]builtinFunc{
		"compile": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				pattern starlark.Value
				flags   int
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "flags?", &flags); err != nil {
				return nil, err
			}
			return compilePattern(pattern, flags)
		},
		"escape": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			return starlark.String(regexp.QuoteMeta(s)), nil
		},
	}
	// Module-level functions take the pattern first and accept flags.
	for name, op := range reOps {
		fns[name] = func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("%s: missing argument for pattern", b.Name())
			}
			flags := 0
			var rest []starlark.Tuple
			for _, kv := range kwargs {
				if string(kv[0].(starlark.String)) == "flags" {
					if err := starlark.AsInt(kv[1], &flags); err != nil {
						return nil, err
					}
					continue
				}
				rest = append(rest, kv)
			}
			p, err := compilePattern(args[0], flags)
			if err != nil {
				return nil, err
			}
			return op(thread, b, p, args[1:], rest)
		}
	}
	flag := func(n int) starlark.Value { return starlark.MakeInt(n) }
	return newModule("re", fns, starlark.StringDict{
		"I": flag(reIgnoreCase), "IGNORECASE": flag(reIgnoreCase),
		"M": flag(reMultiline), "MULTILINE": flag(reMultiline),
		"S": flag(reDotAll), "DOTALL": flag(reDotAll),
		"X": flag(reVerbose), "VERBOSE": flag(reVerbose),
	})
}

// textwrap

func wrapText(text string, width int) []string {
	var lines []string
	var cur string
	for _, w := range strings.Fields(text) {
		for utf8.RuneCountInString(w) > width {
			if cur != "" {
				lines = append(lines, cur)
				cur = ""
			}
			r := []rune(w)
			lines = append(lines, string(r[:width]))
			w = string(r[width:])
		}
		switch {
		case cur == "":
			cur = w
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(w) <= width:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func dedent(text string) string {
	lines := strings.Split(text, "\n")
	margin := ""
	first := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		ws := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if first {
			margin, first = ws, false
			continue
		}
		for !strings.HasPrefix(ws, margin) {
			margin = margin[:len(margin)-1]
		}
	}
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
		} else {
			lines[i] = strings.TrimPrefix(l, margin)
		}
	}
	return strings.Join(lines, "\n")
}

func textwrapModule() *starlarkstruct.Module {
	unpackWrap := func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, int, error) {
		var (
			text  string
			width = 70
		)
		err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "width?", &width)
		if err == nil && width <= 0 {
			err = fmt.Errorf("ValueError: invalid width %d (must be > 0)", width)
		}
		return text, width, err
	}
	return newModule("textwrap", map[string]builtinFunc{
		"wrap": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			text, width, err := unpackWrap(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return stringList(wrapText(text, width)), nil
		},
		"fill": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			text, width, err := unpackWrap(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return starlark.String(strings.Join(wrapText(text, width), "\n")), nil
		},
		"dedent": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var text string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &text); err != nil {
				return nil, err
			}
			return starlark.String(dedent(text)), nil
		},
		"indent": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var text, prefix string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "prefix", &prefix); err != nil {
				return nil, err
			}
			lines := strings.SplitAfter(text, "\n")
			for i, l := range lines {
				if strings.TrimSpace(l) != "" {
					lines[i] = prefix + l
				}
			}
			return starlark.String(strings.Join(lines, "")), nil
		},
		"shorten": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				text        string
				width       int
				placeholder = " [...]"
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "width", &width, "placeholder?", &placeholder); err != nil {
				return nil, err
			}
			words := strings.Fields(text)
			collapsed := strings.Join(words, " ")
			if utf8.RuneCountInString(collapsed) <= width {
				return starlark.String(collapsed), nil
			}
			if utf8.RuneCountInString(strings.TrimLeft(placeholder, " ")) > width {
				return nil, fmt.Errorf("ValueError: placeholder too large for max width")
			}
			out := ""
			for _, w := range words {
				next := w
				if out != "" {
					next = out + " " + w
				}
				if utf8.RuneCountInString(next+placeholder) > width {
					break
				}
				out = next
			}
			if out == "" {
				return starlark.String(strings.TrimLeft(placeholder, " ")), nil
			}
			return starlark.String(out + placeholder), nil
		},
	}, nil)
}

// io

// stringIO is an in-memory text stream.
type stringIO struct {
	data   string
	pos    int
	closed bool
}

var (
	_ starlark.HasAttrs = (*stringIO)(nil)
	_ starlark.Iterable = (*stringIO)(nil)
)

func (f *stringIO) String() string        { return "<_io.StringIO object>" }
func (f *stringIO) Type() string          { return "StringIO" }
func (f *stringIO) Freeze()               {}
func (f *stringIO) Truth() starlark.Bool  { return true }
func (f *stringIO) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: StringIO") }

func (f *stringIO) write(s string) {
	f.data = f.data[:f.pos] + s + f.data[min(f.pos+len(s), len(f.data)):]
	f.pos += len(s)
}

func (f *stringIO) readline() string {
	rest := f.data[f.pos:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i+1]
	}
	f.pos += len(rest)
	return rest
}

func (f *stringIO) Iterate() starlark.Iterator {
	var lines []string
	for f.pos < len(f.data) {
		lines = append(lines, f.readline())
	}
	return stringList(lines).Iterate()
}

func (f *stringIO) AttrNames() []string {
	return []string{"close", "closed", "getvalue", "read", "readline", "readlines", "seek", "tell", "write", "writelines"}
}

func (f *stringIO) Attr(name string) (starlark.Value, error) {
	method := func(fn builtinFunc) (starlark.Value, error) {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if f.closed {
				return nil, fmt.Errorf("ValueError: I/O operation on closed file")
			}
			return fn(thread, b, args, kwargs)
		}), nil
	}
	switch name {
	case "closed":
		return starlark.Bool(f.closed), nil
	case "close":
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			f.closed = true
			return starlark.None, nil
		}), nil
	case "write":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			f.write(s)
			return starlark.MakeInt(utf8.RuneCountInString(s)), nil
		})
	case "writelines":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var it starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &it); err != nil {
				return nil, err
			}
			vs, err := listOf(it)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				f.write(str(v))
			}
			return starlark.None, nil
		})
	case "getvalue":
		return method(func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.String(f.data), nil
		})
	case "read":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			n := -1
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &n); err != nil {
				return nil, err
			}
			rest := f.data[f.pos:]
			if n >= 0 && n < len(rest) {
				rest = rest[:n]
			}
			f.pos += len(rest)
			return starlark.String(rest), nil
		})
	case "readline":
		return method(func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.String(f.readline()), nil
		})
	case "readlines":
		return method(func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			var lines []string
			for f.pos < len(f.data) {
				lines = append(lines, f.readline())
			}
			return stringList(lines), nil
		})
	case "seek":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pos int
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &pos); err != nil {
				return nil, err
			}
			f.pos = max(0, min(pos, len(f.data)))
			return starlark.MakeInt(f.pos), nil
		})
	case "tell":
		return method(func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.MakeInt(f.pos), nil
		})
	}
	return nil, nil
}

func ioModule() *starlarkstruct.Module {
	return newModule("io", map[string]builtinFunc{
		"StringIO": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var initial string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "initial_value?", &initial); err != nil {
				return nil, err
			}
			return &stringIO{data: initial}, nil
		},
	}, nil)
}

// csv

// csvSource reads the text of a reader argument: a StringIO, a string or
// an iterable of lines.
func csvSource(v starlark.Value) (string, error) {
	switch x := v.(type) {
	case *stringIO:
		rest := x.data[x.pos:]
		x.pos = len(x.data)
		return rest, nil
	case starlark.String:
		return string(x), nil
	}
	vs, err := listOf(v)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, l := range vs {
		s := str(l)
		sb.WriteString(s)
		if !strings.HasSuffix(s, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

func delimiterOf(s string) (rune, error) {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 || n != len(s) {
		return 0, fmt.Errorf("TypeError: \"delimiter\" must be a 1-character string")
	}
	return r, nil
}

func readCSV(src starlark.Value, delimiter string) ([][]string, error) {
	text, err := csvSource(src)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(strings.NewReader(text))
	if r.Comma, err = delimiterOf(delimiter); err != nil {
		return nil, err
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv.Error: %v", err)
	}
	return rows, nil
}

// csvWriter writes rows into a StringIO.
type csvWriter struct {
	out    *stringIO
	comma  rune
	fields []string // DictWriter only
}

var _ starlark.HasAttrs = (*csvWriter)(nil)

func (w *csvWriter) String() string        { return "<_csv.writer object>" }
func (w *csvWriter) Type() string          { return "csv.writer" }
func (w *csvWriter) Freeze()               {}
func (w *csvWriter) Truth() starlark.Bool  { return true }
func (w *csvWriter) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: csv.writer") }
func (w *csvWriter) AttrNames() []string   { return []string{"writeheader", "writerow", "writerows"} }

func (w *csvWriter) writeRecord(record []string) error {
	var sb strings.Builder
	cw := csv.NewWriter(&sb)
	cw.Comma = w.comma
	if err := cw.Write(record); err != nil {
		return err
	}
	cw.Flush()
	w.out.write(sb.String())
	return cw.Error()
}

func (w *csvWriter) row(v starlark.Value) ([]string, error) {
	if w.fields != nil {
		m, ok := v.(starlark.Mapping)
		if !ok {
			return nil, fmt.Errorf("TypeError: DictWriter.writerow expects a dict")
		}
		record := make([]string, len(w.fields))
		for i, f := range w.fields {
			if x, found, _ := m.Get(starlark.String(f)); found && x != starlark.None {
				record[i] = str(x)
			}
		}
		return record, nil
	}
	vs, err := listOf(v)
	if err != nil {
		return nil, err
	}
	record := make([]string, len(vs))
	for i, x := range vs {
		if x != starlark.None {
			record[i] = str(x)
		}
	}
	return record, nil
}

func (w *csvWriter) Attr(name string) (starlark.Value, error) {
	switch name {
	case "writerow":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var row starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &row); err != nil {
				return nil, err
			}
			record, err := w.row(row)
			if err != nil {
				return nil, err
			}
			return starlark.None, w.writeRecord(record)
		}), nil
	case "writerows":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var rows starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &rows); err != nil {
				return nil, err
			}
			vs, err := listOf(rows)
			if err != nil {
				return nil, err
			}
			for _, r := range vs {
				record, err := w.row(r)
				if err != nil {
					return nil, err
				}
				if err := w.writeRecord(record); err != nil {
					return nil, err
				}
			}
			return starlark.None, nil
		}), nil
	case "writeheader":
		if w.fields == nil {
			return nil, nil
		}
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.None, w.writeRecord(w.fields)
		}), nil
	}
	return nil, nil
}

func csvModule() *starlarkstruct.Module {
	newWriter := func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, dict bool) (starlark.Value, error) {
		var (
			f         starlark.Value
			fields    starlark.Value = starlark.None
			delimiter = ","
		)
		var err error
		if dict {
			err = starlark.UnpackArgs(b.Name(), args, kwargs, "f", &f, "fieldnames", &fields, "delimiter?", &delimiter)
		} else {
			err = starlark.UnpackArgs(b.Name(), args, kwargs, "f", &f, "delimiter?", &delimiter)
		}
		if err != nil {
			return nil, err
		}
		out, ok := f.(*stringIO)
		if !ok {
			return nil, fmt.Errorf("TypeError: csv writers need an io.StringIO target")
		}
		w := &csvWriter{out: out}
		if w.comma, err = delimiterOf(delimiter); err != nil {
			return nil, err
		}
		if dict {
			vs, err := listOf(fields)
			if err != nil {
				return nil, err
			}
			w.fields = make([]string, len(vs))
			for i, v := range vs {
				w.fields[i] = str(v)
			}
		}
		return w, nil
	}

	return newModule("csv", map[string]builtinFunc{
		"reader": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				src       starlark.Value
				delimiter = ","
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "csvfile", &src, "delimiter?", &delimiter); err != nil {
				return nil, err
			}
			rows, err := readCSV(src, delimiter)
			if err != nil {
				return nil, err
			}
			out := make([]starlark.Value, len(rows))
			for i, r := range rows {
				out[i] = stringList(r)
			}
			return starlark.NewList(out), nil
		},
		"DictReader": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				src       starlark.Value
				fieldsV   starlark.Value = starlark.None
				delimiter = ","
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "f", &src, "fieldnames?", &fieldsV, "delimiter?", &delimiter); err != nil {
				return nil, err
			}
			rows, err := readCSV(src, delimiter)
			if err != nil {
				return nil, err
			}
			var fields []string
			if fieldsV != starlark.None {
				vs, err := listOf(fieldsV)
				if err != nil {
					return nil, err
				}
				for _, v := range vs {
					fields = append(fields, str(v))
				}
			} else if len(rows) > 0 {
				fields, rows = rows[0], rows[1:]
			}
			out := make([]starlark.Value, 0, len(rows))
			for _, r := range rows {
				d := starlark.NewDict(len(fields))
				for i, f := range fields {
					var v starlark.Value = starlark.None
					if i < len(r) {
						v = starlark.String(r[i])
					}
					_ = d.SetKey(starlark.String(f), v)
				}
				out = append(out, d)
			}
			return starlark.NewList(out), nil
		},
		"writer": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return newWriter(b, args, kwargs, false)
		},
		"DictWriter": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return newWriter(b, args, kwargs, true)
		},
	}, nil)
}
