package codeact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/syntax"
)

// Source rewriting that lets common Python spellings run as Starlark:
// import statements become __import__ calls, raise becomes a __raise__
// call, "is"/"is not" become equality tests and f-strings become
// str.format calls. Line numbers are
// preserved so tracebacks point at the code the model wrote.

var (
	importLineRE = regexp.MustCompile(`^(\s*)import\s+(.+?)\s*(?:#.*)?$`)
	fromLineRE   = regexp.MustCompile(`^(\s*)from\s+(\S+)\s+import\s+(.+?)\s*(?:#.*)?$`)
	dottedNameRE = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)
	identRE      = regexp.MustCompile(`^[A-Za-z_]\w*$`)
	isNotRE      = regexp.MustCompile(`\bis\s+not\b`)
	isRE         = regexp.MustCompile(`\bis\b`)

	raiseLineRE   = regexp.MustCompile(`^(\s*(?:(?:if|elif|else|for|while|def)\b.*?:\s*)?)raise\b\s*(.*)$`)
	unsupportedRE = regexp.MustCompile(`^(\s*)(try|except|finally|class)\b`)
)

// translate rewrites Python source into Starlark source.
func translate(src string) (string, error) {
	src, err := translateRaise(translateImports(src))
	if err != nil {
		return "", err
	}
	return rewriteSource(src)
}

// translateImports replaces import statements line by line. Parenthesised
// and backslash-continued imports are joined onto their first line and the
// consumed lines left blank.
func translateImports(src string) string {
	lines := strings.Split(src, "\n")
	var inString string
	for i := 0; i < len(lines); i++ {
		if inString == "" {
			consumed := 0
			stmt := lines[i]
			for j := i; j+1 < len(lines) && continued(stmt); j++ {
				stmt = strings.TrimSuffix(strings.TrimRight(stmt, " \t"), "\\") + " " + strings.TrimSpace(lines[j+1])
				consumed++
			}
			if out, ok := importStatement(stmt); ok {
				lines[i] = out
				for k := 1; k <= consumed; k++ {
					lines[i+k] = ""
				}
				i += consumed
				continue
			}
		}
		inString = tripleQuoteState(lines[i], inString)
	}
	return strings.Join(lines, "\n")
}

// translateRaise turns raise statements into __raise__ calls and rejects
// the statements the interpreter has no equivalent for.
func translateRaise(src string) (string, error) {
	lines := strings.Split(src, "\n")
	var inString string
	for i := 0; i < len(lines); i++ {
		if inString == "" {
			if m := unsupportedRE.FindStringSubmatch(lines[i]); m != nil {
				msg := fmt.Sprintf("'%s' statements are not supported; check values before using them instead of catching exceptions", m[2])
				if m[2] == "class" {
					msg = "'class' definitions are not supported; use dicts and functions instead"
				}
				file := chunkName
				return "", syntax.Error{Pos: syntax.MakePosition(&file, int32(i+1), int32(len(m[1])+1)), Msg: msg}
			}
			if m := raiseLineRE.FindStringSubmatch(lines[i]); m != nil {
				code, comment, depth := splitCode(m[2])
				consumed := 0
				for depth > 0 && i+consumed+1 < len(lines) {
					consumed++
					c, cm, d := splitCode(lines[i+consumed])
					code += " " + strings.TrimSpace(c)
					if cm != "" {
						comment = cm
					}
					depth += d
				}
				out := m[1] + "__raise__(" + strings.TrimSpace(code) + ")"
				if comment != "" {
					out += "  " + comment
				}
				lines[i] = out
				for k := 1; k <= consumed; k++ {
					lines[i+k] = ""
				}
				i += consumed
				continue
			}
		}
		inString = tripleQuoteState(lines[i], inString)
	}
	return strings.Join(lines, "\n"), nil
}

// splitCode separates a line into code and trailing comment and reports
// the net bracket depth of the code, ignoring string literals.
func splitCode(line string) (code, comment string, depth int) {
	for i := 0; i < len(line); {
		switch line[i] {
		case '#':
			return line[:i], line[i:], depth
		case '"', '\'':
			i = stringEnd(line, i)
			continue
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
		i++
	}
	return line, "", depth
}

// continued reports whether an import line spills onto the next one.
func continued(line string) bool {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, "import ") && !strings.HasPrefix(t, "from ") {
		return false
	}
	return strings.HasSuffix(t, "\\") || strings.Count(t, "(") > strings.Count(t, ")")
}

// tripleQuoteState tracks whether the end of line is inside a triple-quoted
// string, given the delimiter open at its start.
func tripleQuoteState(line, open string) string {
	for i := 0; i+3 <= len(line); {
		d := line[i : i+3]
		switch {
		case open == "" && (d == `"""` || d == `'''`):
			open = d
			i += 3
		case open != "" && d == open:
			open = ""
			i += 3
		default:
			i++
		}
	}
	return open
}

func importStatement(line string) (string, bool) {
	if m := fromLineRE.FindStringSubmatch(line); m != nil {
		indent, module, names := m[1], m[2], strings.Trim(strings.TrimSpace(m[3]), "()")
		if !dottedNameRE.MatchString(strings.TrimLeft(module, ".")) && strings.Trim(module, ".") != "" {
			return "", false
		}
		if strings.TrimSpace(names) == "*" {
			return fmt.Sprintf("%s__import__(%q, wildcard = True)", indent, module), true
		}
		var stmts []string
		for _, item := range strings.Split(names, ",") {
			name, alias, ok := splitAlias(item)
			if !ok {
				if strings.TrimSpace(item) == "" {
					continue
				}
				return "", false
			}
			if allowedSet[module+"."+name] {
				stmts = append(stmts, fmt.Sprintf("%s = __import__(%q, leaf = True)", alias, module+"."+name))
			} else {
				stmts = append(stmts, fmt.Sprintf("%s = __import__(%q, leaf = True).%s", alias, module, name))
			}
		}
		if len(stmts) == 0 {
			return "", false
		}
		return indent + strings.Join(stmts, "; "), true
	}

	if m := importLineRE.FindStringSubmatch(line); m != nil {
		indent := m[1]
		var stmts []string
		for _, item := range strings.Split(m[2], ",") {
			fields := strings.Fields(item)
			switch {
			case len(fields) == 1 && dottedNameRE.MatchString(fields[0]):
				top, _, _ := strings.Cut(fields[0], ".")
				stmts = append(stmts, fmt.Sprintf("%s = __import__(%q)", top, fields[0]))
			case len(fields) == 3 && fields[1] == "as" && dottedNameRE.MatchString(fields[0]) && identRE.MatchString(fields[2]):
				stmts = append(stmts, fmt.Sprintf("%s = __import__(%q, leaf = True)", fields[2], fields[0]))
			default:
				return "", false
			}
		}
		return indent + strings.Join(stmts, "; "), true
	}
	return "", false
}

func splitAlias(item string) (name, alias string, ok bool) {
	fields := strings.Fields(item)
	switch {
	case len(fields) == 1 && identRE.MatchString(fields[0]):
		return fields[0], fields[0], true
	case len(fields) == 3 && fields[1] == "as" && identRE.MatchString(fields[0]) && identRE.MatchString(fields[2]):
		return fields[0], fields[2], true
	}
	return "", "", false
}

// rewriteSource applies the operator and f-string rewrites outside string
// literals and comments.
func rewriteSource(src string) (string, error) {
	var out, code strings.Builder
	flush := func() {
		out.WriteString(rewriteOperators(code.String()))
		code.Reset()
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch c {
		case '#':
			flush()
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				j = len(src) - i
			}
			out.WriteString(src[i : i+j])
			i += j
		case '"', '\'':
			pending := code.String()
			prefix := stringPrefix(pending)
			code.Reset()
			code.WriteString(pending[:len(pending)-len(prefix)])
			flush()

			end := stringEnd(src, i)
			lit := src[i:end]
			lower := strings.ToLower(prefix)
			kept := strings.NewReplacer("f", "", "F", "", "u", "", "U", "").Replace(prefix)
			if strings.Contains(lower, "f") {
				expr, err := translateFString(kept, lit)
				if err != nil {
					return "", err
				}
				out.WriteString(expr)
			} else {
				out.WriteString(kept + lit)
			}
			i = end
		default:
			code.WriteByte(c)
			i++
		}
	}
	flush()
	return out.String(), nil
}

func rewriteOperators(code string) string {
	if !strings.Contains(code, "is") {
		return code
	}
	code = isNotRE.ReplaceAllString(code, "!=")
	return isRE.ReplaceAllString(code, "==")
}

var stringPrefixes = map[string]bool{
	"r": true, "b": true, "f": true, "u": true,
	"rb": true, "br": true, "fr": true, "rf": true,
}

// stringPrefix returns the literal prefix (r, b, f, ...) at the end of code.
func stringPrefix(code string) string {
	n := 0
	for n < 2 && n < len(code) && isLetter(code[len(code)-1-n]) {
		n++
	}
	for ; n > 0; n-- {
		p := code[len(code)-n:]
		if !stringPrefixes[strings.ToLower(p)] {
			continue
		}
		if before := len(code) - n - 1; before >= 0 && isIdentByte(code[before]) {
			continue
		}
		return p
	}
	return ""
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func isIdentByte(c byte) bool { return isLetter(c) || c >= '0' && c <= '9' || c == '_' }

// stringEnd returns the offset just past the literal starting at src[i].
// Unterminated literals run to the end of line and are left for the
// parser to report.
func stringEnd(src string, i int) int {
	q := src[i]
	delim := string(q)
	if strings.HasPrefix(src[i:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	for j := i + len(delim); j < len(src); {
		switch {
		case src[j] == '\\':
			j += 2
		case strings.HasPrefix(src[j:], delim):
			return j + len(delim)
		case len(delim) == 1 && src[j] == '\n':
			return j
		default:
			j++
		}
	}
	return len(src)
}

// translateFString turns f"a {x!r} {y:.2f}" into
// "a {!r} {}".format(x, format(y, ".2f")).
func translateFString(prefix, lit string) (string, error) {
	delim := lit[:1]
	if strings.HasPrefix(lit, strings.Repeat(delim, 3)) && len(lit) >= 6 {
		delim = strings.Repeat(delim, 3)
	}
	if len(lit) < 2*len(delim) || !strings.HasSuffix(lit, delim) {
		return prefix + lit, nil
	}
	body := lit[len(delim) : len(lit)-len(delim)]

	var tmpl strings.Builder
	var args []string
	for k := 0; k < len(body); {
		switch ch := body[k]; {
		case ch == '{' && strings.HasPrefix(body[k:], "{{"):
			tmpl.WriteString("{{")
			k += 2
		case ch == '}' && strings.HasPrefix(body[k:], "}}"):
			tmpl.WriteString("}}")
			k += 2
		case ch == '}':
			tmpl.WriteString("}}")
			k++
		case ch == '{':
			end, err := fieldEnd(body, k+1)
			if err != nil {
				return "", err
			}
			field, err := fStringField(body[k+1 : end])
			if err != nil {
				return "", err
			}
			tmpl.WriteString(field.literal + "{" + field.conv + "}")
			args = append(args, field.arg)
			k = end + 1
		default:
			tmpl.WriteByte(ch)
			k++
		}
	}

	out := prefix + delim + tmpl.String() + delim
	if len(args) > 0 || strings.Contains(tmpl.String(), "{{") || strings.Contains(tmpl.String(), "}}") {
		out += ".format(" + strings.Join(args, ", ") + ")"
	}
	return out, nil
}

type fField struct {
	literal string // text emitted before the placeholder, for {x=}
	conv    string
	arg     string
}

func fStringField(field string) (fField, error) {
	expr, conv, spec := splitField(field)
	var f fField

	trimmed := strings.TrimRight(expr, " ")
	if strings.HasSuffix(trimmed, "=") && !strings.ContainsAny(trimmed[max(len(trimmed)-2, 0):len(trimmed)-1], "=!<>") {
		f.literal = strings.NewReplacer("{", "{{", "}", "}}").Replace(expr)
		expr = strings.TrimSuffix(trimmed, "=")
		if conv == "" && spec == "" {
			conv = "!r"
		}
	}
	if strings.TrimSpace(expr) == "" {
		return f, fmt.Errorf("SyntaxError: f-string: empty expression not allowed")
	}

	arg, err := rewriteSource(strings.TrimSpace(expr))
	if err != nil {
		return f, err
	}
	if spec == "" {
		f.conv, f.arg = conv, arg
		return f, nil
	}
	switch conv {
	case "!r", "!a":
		arg = "repr(" + arg + ")"
	case "!s":
		arg = "str(" + arg + ")"
	}
	specExpr := strconv.Quote(spec)
	if strings.Contains(spec, "{") {
		if specExpr, err = translateFString("", `"`+spec+`"`); err != nil {
			return f, err
		}
	}
	f.arg = "format(" + arg + ", " + specExpr + ")"
	return f, nil
}

// fieldEnd finds the '}' closing a replacement field that starts at body[i].
func fieldEnd(body string, i int) (int, error) {
	depth := 0
	for j := i; j < len(body); j++ {
		switch c := body[j]; c {
		case '(', '[', '{':
			depth++
		case ')', ']':
			depth--
		case '}':
			if depth == 0 {
				return j, nil
			}
			depth--
		case '"', '\'':
			j = stringEnd(body, j) - 1
		}
	}
	return 0, fmt.Errorf("SyntaxError: f-string: expecting '}'")
}

// splitField separates "expr!conv:spec" at top level.
func splitField(field string) (expr, conv, spec string) {
	depth := 0
	for j := 0; j < len(field); j++ {
		switch c := field[j]; c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '"', '\'':
			j = stringEnd(field, j) - 1
		case '!':
			if depth == 0 && j+1 < len(field) && field[j+1] != '=' {
				expr = field[:j]
				rest := field[j+1:]
				c, s, _ := strings.Cut(rest, ":")
				return expr, "!" + strings.TrimSpace(c), s
			}
		case ':':
			if depth == 0 {
				return field[:j], "", field[j+1:]
			}
		}
	}
	return field, "", ""
}
