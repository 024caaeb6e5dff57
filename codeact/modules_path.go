package codeact

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// pathlib: pure POSIX paths only. Filesystem access goes through the tools.

type pathValue struct {
	p string
}

var (
	_ starlark.HasAttrs   = (*pathValue)(nil)
	_ starlark.HasBinary  = (*pathValue)(nil)
	_ starlark.Comparable = (*pathValue)(nil)
)

func joinPath(base string, parts ...string) string {
	cur := base
	for _, p := range parts {
		switch {
		case p == "":
		case strings.HasPrefix(p, "/"):
			cur = p
		case cur == "":
			cur = p
		default:
			cur = cur + "/" + p
		}
	}
	if cur == "" {
		return "."
	}
	return path.Clean(cur)
}

func pathArg(v starlark.Value) (string, error) {
	switch x := v.(type) {
	case starlark.String:
		return string(x), nil
	case *pathValue:
		return x.p, nil
	}
	return "", fmt.Errorf("TypeError: expected str or Path, not %s", v.Type())
}

func pathArgs(args starlark.Tuple) ([]string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		p, err := pathArg(a)
		if err != nil {
			return nil, err
		}
		parts[i] = p
	}
	return parts, nil
}

func (pv *pathValue) String() string        { return pv.p }
func (pv *pathValue) Type() string          { return "Path" }
func (pv *pathValue) Freeze()               {}
func (pv *pathValue) Truth() starlark.Bool  { return true }
func (pv *pathValue) Hash() (uint32, error) { return starlark.String(pv.p).Hash() }

func (pv *pathValue) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	return starlark.String(pv.p).CompareSameType(op, starlark.String(y.(*pathValue).p), depth)
}

func (pv *pathValue) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	if op != syntax.SLASH {
		return nil, nil
	}
	other, err := pathArg(y)
	if err != nil {
		return nil, nil
	}
	if side == starlark.Left {
		return &pathValue{joinPath(pv.p, other)}, nil
	}
	return &pathValue{joinPath(other, pv.p)}, nil
}

func (pv *pathValue) name() string {
	if pv.p == "/" || pv.p == "." {
		return ""
	}
	return path.Base(pv.p)
}

func (pv *pathValue) suffix() string {
	n := pv.name()
	i := strings.LastIndexByte(n, '.')
	if i <= 0 || i == len(n)-1 {
		return ""
	}
	return n[i:]
}

func (pv *pathValue) parts() []string {
	var out []string
	rest := pv.p
	if strings.HasPrefix(rest, "/") {
		out = append(out, "/")
		rest = strings.TrimLeft(rest, "/")
	}
	for _, s := range strings.Split(rest, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

func (pv *pathValue) AttrNames() []string {
	return []string{"as_posix", "is_absolute", "joinpath", "match", "name", "parent", "parents", "parts",
		"relative_to", "stem", "suffix", "suffixes", "with_name", "with_stem", "with_suffix"}
}

func (pv *pathValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(pv.name()), nil
	case "suffix":
		return starlark.String(pv.suffix()), nil
	case "stem":
		return starlark.String(strings.TrimSuffix(pv.name(), pv.suffix())), nil
	case "suffixes":
		n := strings.TrimLeft(pv.name(), ".")
		if strings.HasSuffix(n, ".") {
			return stringList(nil), nil
		}
		segs := strings.Split(n, ".")[1:]
		out := make([]string, len(segs))
		for i, s := range segs {
			out[i] = "." + s
		}
		return stringList(out), nil
	case "parent":
		return &pathValue{path.Dir(pv.p)}, nil
	case "parents":
		var out []starlark.Value
		for cur := pv.p; ; {
			parent := path.Dir(cur)
			if parent == cur {
				break
			}
			out = append(out, &pathValue{parent})
			cur = parent
		}
		return starlark.Tuple(out), nil
	case "parts":
		parts := pv.parts()
		out := make(starlark.Tuple, len(parts))
		for i, p := range parts {
			out[i] = starlark.String(p)
		}
		return out, nil
	case "as_posix":
		return constFunc(name, starlark.String(pv.p)), nil
	case "is_absolute":
		return constFunc(name, starlark.Bool(path.IsAbs(pv.p))), nil
	}

	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		parts, err := pathArgs(args)
		if err != nil {
			return nil, err
		}
		one := func() (string, error) {
			if len(parts) != 1 {
				return "", fmt.Errorf("%s: got %d arguments, want 1", b.Name(), len(parts))
			}
			return parts[0], nil
		}
		switch name {
		case "joinpath":
			return &pathValue{joinPath(pv.p, parts...)}, nil
		case "with_name":
			n, err := one()
			if err != nil {
				return nil, err
			}
			return &pathValue{joinPath(path.Dir(pv.p), n)}, nil
		case "with_stem":
			n, err := one()
			if err != nil {
				return nil, err
			}
			return &pathValue{joinPath(path.Dir(pv.p), n+pv.suffix())}, nil
		case "with_suffix":
			s, err := one()
			if err != nil {
				return nil, err
			}
			stem := strings.TrimSuffix(pv.name(), pv.suffix())
			return &pathValue{joinPath(path.Dir(pv.p), stem+s)}, nil
		case "relative_to":
			base, err := one()
			if err != nil {
				return nil, err
			}
			base = path.Clean(base)
			if pv.p == base {
				return &pathValue{"."}, nil
			}
			prefix := strings.TrimSuffix(base, "/") + "/"
			if !strings.HasPrefix(pv.p, prefix) {
				return nil, fmt.Errorf("ValueError: '%s' is not in the subpath of '%s'", pv.p, base)
			}
			return &pathValue{strings.TrimPrefix(pv.p, prefix)}, nil
		case "match":
			pattern, err := one()
			if err != nil {
				return nil, err
			}
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("ValueError: invalid pattern '%s'", pattern)
			}
			if strings.HasPrefix(pattern, "/") {
				return starlark.Bool(globMatch(pattern, pv.p)), nil
			}
			// Relative patterns match from the right.
			target := strings.TrimPrefix(pv.p, "/")
			ok := globMatch(pattern, target) ||
				globMatch("**/"+pattern, target)
			return starlark.Bool(ok), nil
		}
		return nil, fmt.Errorf("'Path' object has no attribute '%s'", name)
	}), nil
}

// globMatch reports whether name matches an already validated pattern.
func globMatch(pattern, name string) bool {
	ok, _ := doublestar.Match(pattern, name)
	return ok
}

func pathlibModule() *starlarkstruct.Module {
	ctor := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		parts, err := pathArgs(args)
		if err != nil {
			return nil, err
		}
		return &pathValue{joinPath("", parts...)}, nil
	}
	return newModule("pathlib", nil, starlark.StringDict{
		"Path":          newClass("Path", ctor, nil),
		"PurePath":      newClass("Path", ctor, nil),
		"PurePosixPath": newClass("Path", ctor, nil),
	})
}

// urllib.parse

const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_.-~"

// percentEncode mirrors urllib.parse.quote; with plus, spaces become '+'.
func percentEncode(s, safe string, plus bool) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case plus && c == ' ':
			sb.WriteByte('+')
		case c < 0x80 && (strings.IndexByte(unreserved, c) >= 0 || strings.IndexByte(safe, c) >= 0):
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

// percentDecode mirrors urllib.parse.unquote: malformed escapes are kept.
func percentDecode(s string, plus bool) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if plus && c == '+' {
			out = append(out, ' ')
			continue
		}
		if c == '%' && i+2 < len(s) {
			if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(b))
				i += 2
				continue
			}
		}
		out = append(out, c)
	}
	return string(out)
}

func parseQSL(qs string, keepBlank bool) [][2]string {
	var out [][2]string
	for _, pair := range strings.Split(qs, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if v == "" && !keepBlank {
			continue
		}
		out = append(out, [2]string{percentDecode(k, true), percentDecode(v, true)})
	}
	return out
}

func parseURL(raw string, withParams bool) (starlark.Value, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("ValueError: %v", err)
	}
	netloc := u.Host
	if u.User != nil {
		netloc = u.User.String() + "@" + netloc
	}
	p := u.EscapedPath()
	if u.Opaque != "" {
		p = u.Opaque
	}
	params := ""
	if withParams {
		if i := strings.LastIndexByte(p, ';'); i >= 0 && !strings.Contains(p[i:], "/") {
			p, params = p[:i], p[i+1:]
		}
	}
	var port starlark.Value = starlark.None
	if ps := u.Port(); ps != "" {
		if n, err := strconv.Atoi(ps); err == nil {
			port = starlark.MakeInt(n)
		}
	}
	var hostname, username, password starlark.Value = starlark.None, starlark.None, starlark.None
	if h := u.Hostname(); h != "" {
		hostname = starlark.String(strings.ToLower(h))
	}
	if u.User != nil {
		username = starlark.String(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			password = starlark.String(pw)
		}
	}
	fields := starlark.StringDict{
		"scheme":   starlark.String(u.Scheme),
		"netloc":   starlark.String(netloc),
		"path":     starlark.String(p),
		"query":    starlark.String(u.RawQuery),
		"fragment": starlark.String(u.EscapedFragment()),
		"hostname": hostname,
		"port":     port,
		"username": username,
		"password": password,
		"geturl":   constFunc("geturl", starlark.String(raw)),
	}
	ctor := "SplitResult"
	if withParams {
		fields["params"] = starlark.String(params)
		ctor = "ParseResult"
	}
	return starlarkstruct.FromStringDict(starlark.String(ctor), fields), nil
}

func unsplitURL(scheme, netloc, p, params, query, fragment string) string {
	var sb strings.Builder
	if scheme != "" {
		sb.WriteString(scheme + ":")
	}
	if netloc != "" || scheme == "file" {
		sb.WriteString("//" + netloc)
	}
	sb.WriteString(p)
	if params != "" {
		sb.WriteString(";" + params)
	}
	if query != "" {
		sb.WriteString("?" + query)
	}
	if fragment != "" {
		sb.WriteString("#" + fragment)
	}
	return sb.String()
}

// urlComponents reads a ParseResult/SplitResult or a sequence of strings.
func urlComponents(v starlark.Value, n int) ([]string, error) {
	if s, ok := v.(*starlarkstruct.Struct); ok {
		names := []string{"scheme", "netloc", "path", "params", "query", "fragment"}
		if n == 5 {
			names = []string{"scheme", "netloc", "path", "query", "fragment"}
		}
		out := make([]string, len(names))
		for i, name := range names {
			x, err := s.Attr(name)
			if err != nil {
				return nil, err
			}
			out[i] = str(x)
		}
		return out, nil
	}
	vs, err := listOf(v)
	if err != nil {
		return nil, err
	}
	if len(vs) != n {
		return nil, fmt.Errorf("ValueError: expected %d components, got %d", n, len(vs))
	}
	out := make([]string, n)
	for i, x := range vs {
		out[i] = str(x)
	}
	return out, nil
}

func urlparseModule() *starlarkstruct.Module {
	quote := func(plus bool, defSafe string) builtinFunc {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				s    string
				safe = defSafe
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "string", &s, "safe?", &safe); err != nil {
				return nil, err
			}
			return starlark.String(percentEncode(s, safe, plus)), nil
		}
	}
	unquote := func(plus bool) builtinFunc {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			return starlark.String(percentDecode(s, plus)), nil
		}
	}
	parse := func(withParams bool) builtinFunc {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var raw string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &raw); err != nil {
				return nil, err
			}
			return parseURL(raw, withParams)
		}
	}

	return newModule("urllib.parse", map[string]builtinFunc{
		"quote":        quote(false, "/"),
		"quote_plus":   quote(true, ""),
		"unquote":      unquote(false),
		"unquote_plus": unquote(true),
		"urlparse":     parse(true),
		"urlsplit":     parse(false),
		"urlunparse": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var v starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
				return nil, err
			}
			c, err := urlComponents(v, 6)
			if err != nil {
				return nil, err
			}
			return starlark.String(unsplitURL(c[0], c[1], c[2], c[3], c[4], c[5])), nil
		},
		"urlunsplit": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var v starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
				return nil, err
			}
			c, err := urlComponents(v, 5)
			if err != nil {
				return nil, err
			}
			return starlark.String(unsplitURL(c[0], c[1], c[2], "", c[3], c[4])), nil
		},
		"urljoin": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var base, ref string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &base, &ref); err != nil {
				return nil, err
			}
			bu, err := url.Parse(base)
			if err != nil {
				return nil, fmt.Errorf("ValueError: %v", err)
			}
			ru, err := url.Parse(ref)
			if err != nil {
				return nil, fmt.Errorf("ValueError: %v", err)
			}
			return starlark.String(bu.ResolveReference(ru).String()), nil
		},
		"urlencode": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				query starlark.Value
				doseq bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query, "doseq?", &doseq); err != nil {
				return nil, err
			}
			var pairs []starlark.Tuple
			if m, ok := query.(starlark.IterableMapping); ok {
				pairs = m.Items()
			} else {
				vs, err := listOf(query)
				if err != nil {
					return nil, err
				}
				for _, v := range vs {
					kv, err := listOf(v)
					if err != nil || len(kv) != 2 {
						return nil, fmt.Errorf("TypeError: not a valid non-string sequence or mapping object")
					}
					pairs = append(pairs, starlark.Tuple{kv[0], kv[1]})
				}
			}
			var parts []string
			for _, kv := range pairs {
				k := percentEncode(str(kv[0]), "", true)
				if _, isStr := kv[1].(starlark.String); doseq && !isStr {
					if vs, err := listOf(kv[1]); err == nil {
						for _, v := range vs {
							parts = append(parts, k+"="+percentEncode(str(v), "", true))
						}
						continue
					}
				}
				parts = append(parts, k+"="+percentEncode(str(kv[1]), "", true))
			}
			return starlark.String(strings.Join(parts, "&")), nil
		},
		"parse_qs": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				qs        string
				keepBlank bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "qs", &qs, "keep_blank_values?", &keepBlank); err != nil {
				return nil, err
			}
			d := starlark.NewDict(0)
			for _, kv := range parseQSL(qs, keepBlank) {
				k := starlark.String(kv[0])
				cur, found, _ := d.Get(k)
				if !found {
					cur = starlark.NewList(nil)
					_ = d.SetKey(k, cur)
				}
				_ = cur.(*starlark.List).Append(starlark.String(kv[1]))
			}
			return d, nil
		},
		"parse_qsl": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				qs        string
				keepBlank bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "qs", &qs, "keep_blank_values?", &keepBlank); err != nil {
				return nil, err
			}
			var out []starlark.Value
			for _, kv := range parseQSL(qs, keepBlank) {
				out = append(out, starlark.Tuple{starlark.String(kv[0]), starlark.String(kv[1])})
			}
			return starlark.NewList(out), nil
		},
	}, nil)
}
