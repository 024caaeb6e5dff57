package codeact

import (
	"fmt"
	"io"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// stdoutKey is the thread-local key holding the io.Writer print writes to.
const stdoutKey = "codeact.stdout"

// extraBuiltins are the Python builtins Starlark lacks.
func extraBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"print":      starlark.NewBuiltin("print", printBuiltin),
		"sum":        starlark.NewBuiltin("sum", sumBuiltin),
		"round":      starlark.NewBuiltin("round", roundBuiltin),
		"pow":        starlark.NewBuiltin("pow", powBuiltin),
		"divmod":     starlark.NewBuiltin("divmod", divmodBuiltin),
		"isinstance": starlark.NewBuiltin("isinstance", isinstanceBuiltin),
		"callable":   starlark.NewBuiltin("callable", callableBuiltin),
		"map":        starlark.NewBuiltin("map", mapBuiltin),
		"filter":     starlark.NewBuiltin("filter", filterBuiltin),
		"hex":        starlark.NewBuiltin("hex", radixBuiltin(16, "0x")),
		"oct":        starlark.NewBuiltin("oct", radixBuiltin(8, "0o")),
		"bin":        starlark.NewBuiltin("bin", radixBuiltin(2, "0b")),
		"format":     starlark.NewBuiltin("format", formatBuiltin),
		"frozenset":  starlark.NewBuiltin("frozenset", frozensetBuiltin),
	}
}

// printBuiltin accepts Python's sep and end keywords.
func printBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep, end := " ", "\n"
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		switch key {
		case "sep", "end":
			s := ""
			switch v := kv[1].(type) {
			case starlark.NoneType:
				continue
			case starlark.String:
				s = string(v)
			default:
				return nil, fmt.Errorf("%s: %s must be None or a string, not %s", b.Name(), key, v.Type())
			}
			if key == "sep" {
				sep = s
			} else {
				end = s
			}
		case "flush", "file":
		default:
			return nil, fmt.Errorf("%s: unexpected keyword argument %s", b.Name(), key)
		}
	}

	var sb strings.Builder
	for i, a := range args {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(str(a))
	}
	if w, ok := thread.Local(stdoutKey).(io.Writer); ok {
		_, _ = io.WriteString(w, sb.String()+end)
	} else if thread.Print != nil {
		thread.Print(thread, sb.String())
	}
	return starlark.None, nil
}

// str renders v the way Python's str() would.
func str(v starlark.Value) string {
	if s, ok := v.(starlark.String); ok {
		return string(s)
	}
	return v.String()
}

func sumBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		iterable starlark.Iterable
		start    starlark.Value = starlark.MakeInt(0)
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	if _, ok := start.(starlark.String); ok {
		return nil, fmt.Errorf("TypeError: sum() can't sum strings [use ''.join(seq) instead]")
	}
	iter := iterable.Iterate()
	defer iter.Done()
	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		var err error
		if acc, err = starlark.Binary(syntax.PLUS, acc, x); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func roundBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, nd starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &nd); err != nil {
		return nil, err
	}
	digits, hasDigits := 0, nd != nil && nd != starlark.None
	if hasDigits {
		if err := starlark.AsInt(nd, &digits); err != nil {
			return nil, fmt.Errorf("%s: ndigits: %v", b.Name(), err)
		}
	}

	switch x := x.(type) {
	case starlark.Int:
		if !hasDigits || digits >= 0 {
			return x, nil
		}
		f, _ := starlark.AsFloat(x)
		p := math.Pow(10, float64(-digits))
		return starlark.NumberToInt(starlark.Float(math.RoundToEven(f/p) * p))
	case starlark.Float:
		f := float64(x)
		if !hasDigits {
			return starlark.NumberToInt(starlark.Float(math.RoundToEven(f)))
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return x, nil
		}
		if digits < 0 {
			p := math.Pow(10, float64(-digits))
			return starlark.Float(math.RoundToEven(f/p) * p), nil
		}
		r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', digits, 64), 64)
		if err != nil {
			return nil, err
		}
		return starlark.Float(r), nil
	}
	return nil, fmt.Errorf("TypeError: type %s doesn't define __round__ method", x.Type())
}

func powBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y, mod starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y, &mod); err != nil {
		return nil, err
	}
	return powValues(x, y, mod)
}

// maxPowBits bounds the size of integer powers.
const maxPowBits = 1 << 20

func powValues(x, y, mod starlark.Value) (starlark.Value, error) {
	hasMod := mod != nil && mod != starlark.None
	xi, xok := x.(starlark.Int)
	yi, yok := y.(starlark.Int)
	if xok && yok && yi.Sign() >= 0 {
		var m *big.Int
		if hasMod {
			mi, ok := mod.(starlark.Int)
			if !ok {
				return nil, fmt.Errorf("TypeError: pow() 3rd argument must be an int")
			}
			if m = mi.BigInt(); m.Sign() == 0 {
				return nil, fmt.Errorf("ValueError: pow() 3rd argument cannot be 0")
			}
		} else {
			e, ok := yi.Int64()
			if !ok || int64(xi.BigInt().BitLen())*e > maxPowBits {
				return nil, fmt.Errorf("OverflowError: integer power result too large")
			}
		}
		return starlark.MakeBigInt(new(big.Int).Exp(xi.BigInt(), yi.BigInt(), m)), nil
	}
	if hasMod {
		return nil, fmt.Errorf("TypeError: pow() 3rd argument not allowed unless all arguments are integers")
	}
	xf, ok1 := starlark.AsFloat(x)
	yf, ok2 := starlark.AsFloat(y)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("TypeError: unsupported operand type(s) for pow(): '%s' and '%s'", x.Type(), y.Type())
	}
	return starlark.Float(math.Pow(xf, yf)), nil
}

func divmodBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	q, err := starlark.Binary(syntax.SLASHSLASH, x, y)
	if err != nil {
		return nil, err
	}
	r, err := starlark.Binary(syntax.PERCENT, x, y)
	if err != nil {
		return nil, err
	}
	return starlark.Tuple{q, r}, nil
}

// typeNames maps the type builtins to the Starlark type names they admit.
var typeNames = map[string][]string{
	"int":       {"int", "bool"},
	"float":     {"float"},
	"str":       {"string"},
	"bool":      {"bool"},
	"list":      {"list", "deque"},
	"dict":      {"dict", "Counter", "defaultdict"},
	"tuple":     {"tuple"},
	"set":       {"set"},
	"frozenset": {"set"},
	"bytes":     {"bytes"},
}

func isinstanceBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, typ starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &typ); err != nil {
		return nil, err
	}
	ok, err := isInstance(x, typ)
	return starlark.Bool(ok), err
}

func isInstance(x, typ starlark.Value) (bool, error) {
	switch t := typ.(type) {
	case starlark.Tuple:
		for _, elem := range t {
			ok, err := isInstance(x, elem)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case *starlark.Builtin:
		names, ok := typeNames[t.Name()]
		if !ok {
			break
		}
		for _, n := range names {
			if x.Type() == n {
				return true, nil
			}
		}
		return false, nil
	case starlark.String:
		// The result of type(v).
		return x.Type() == string(t), nil
	case *classValue:
		return x.Type() == t.name, nil
	case *exceptionClass:
		if e, ok := x.(*exceptionValue); ok {
			return e.class.subclassOf(t), nil
		}
		return false, nil
	}
	return false, fmt.Errorf("TypeError: isinstance() arg 2 must be a type or tuple of types")
}

func callableBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	_, ok := x.(starlark.Callable)
	return starlark.Bool(ok), nil
}

// mapBuiltin returns a list; with several iterables it stops at the shortest.
func mapBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("TypeError: map() must have at least two arguments")
	}
	fn := args[0]
	lists := make([][]starlark.Value, len(args)-1)
	n := -1
	for i, it := range args[1:] {
		vs, err := listOf(it)
		if err != nil {
			return nil, err
		}
		lists[i] = vs
		if n < 0 || len(vs) < n {
			n = len(vs)
		}
	}
	out := make([]starlark.Value, 0, n)
	for i := 0; i < n; i++ {
		callArgs := make(starlark.Tuple, len(lists))
		for j := range lists {
			callArgs[j] = lists[j][i]
		}
		v, err := starlark.Call(thread, fn, callArgs, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return starlark.NewList(out), nil
}

func filterBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn, it starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &it); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	var out []starlark.Value
	for _, v := range vs {
		keep := v.Truth()
		if fn != starlark.None {
			r, err := starlark.Call(thread, fn, starlark.Tuple{v}, nil)
			if err != nil {
				return nil, err
			}
			keep = r.Truth()
		}
		if keep {
			out = append(out, v)
		}
	}
	return starlark.NewList(out), nil
}

func radixBuiltin(base int, prefix string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Int
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		n := x.BigInt()
		sign := ""
		if n.Sign() < 0 {
			sign = "-"
			n.Neg(n)
		}
		return starlark.String(sign + prefix + n.Text(base)), nil
	}
}

func formatBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		v    starlark.Value
		spec string
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v, &spec); err != nil {
		return nil, err
	}
	s, err := formatValue(v, spec)
	if err != nil {
		return nil, err
	}
	return starlark.String(s), nil
}

func frozensetBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var it starlark.Value = starlark.Tuple{}
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &it); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	set := starlark.NewSet(len(vs))
	for _, v := range vs {
		if err := set.Insert(v); err != nil {
			return nil, err
		}
	}
	set.Freeze()
	return set, nil
}

// listOf drains an iterable into a slice.
func listOf(v starlark.Value) ([]starlark.Value, error) {
	iter := starlark.Iterate(v)
	if iter == nil {
		return nil, fmt.Errorf("TypeError: '%s' object is not iterable", v.Type())
	}
	defer iter.Done()
	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		out = append(out, x)
	}
	return out, nil
}

var formatSpecRE = regexp.MustCompile(`^(?:(.)?([<>=^]))?([+\- ])?(#)?(0)?(\d+)?([,_])?(?:\.(\d+))?([bcdeEfFgGnosxX%])?$`)

// formatValue implements the common subset of Python's format
// specification mini-language.
func formatValue(v starlark.Value, spec string) (string, error) {
	if spec == "" {
		return str(v), nil
	}
	m := formatSpecRE.FindStringSubmatch(spec)
	if m == nil {
		return "", fmt.Errorf("ValueError: Invalid format specifier '%s'", spec)
	}
	fill, align, signOpt, alt, zero, group, typ := m[1], m[2], m[3], m[4] != "", m[5] != "", m[7], m[9]
	width, _ := strconv.Atoi(m[6])
	prec := -1
	if m[8] != "" {
		prec, _ = strconv.Atoi(m[8])
	}
	if fill == "" {
		fill = " "
	}
	if zero && align == "" {
		fill, align = "0", "="
	}

	var sign, prefix, body string
	numeric := true
	neg := false
	if bv, ok := v.(starlark.Bool); ok && typ != "" && typ != "s" {
		v = starlark.MakeInt(map[bool]int{true: 1, false: 0}[bool(bv)])
	}
	_, isInt := v.(starlark.Int)
	_, isFloat := v.(starlark.Float)

	switch {
	case strings.Contains("bcdoxXn", typ) && typ != "" || typ == "" && isInt:
		iv, ok := v.(starlark.Int)
		if !ok {
			return "", fmt.Errorf("ValueError: Unknown format code '%s' for object of type '%s'", typ, v.Type())
		}
		n := iv.BigInt()
		if neg = n.Sign() < 0; neg {
			n.Neg(n)
		}
		every := 3
		switch typ {
		case "b":
			body, prefix, every = n.Text(2), "0b", 4
		case "o":
			body, prefix, every = n.Text(8), "0o", 4
		case "x":
			body, prefix, every = n.Text(16), "0x", 4
		case "X":
			body, prefix, every = strings.ToUpper(n.Text(16)), "0X", 4
		case "c":
			body = string(rune(n.Int64()))
		default:
			body = n.Text(10)
		}
		if !alt {
			prefix = ""
		}
		if group != "" {
			body = groupDigits(body, group, every)
		}
	case strings.Contains("eEfFgG%", typ) && typ != "" || typ == "" && isFloat:
		f, ok := starlark.AsFloat(v)
		if !ok {
			return "", fmt.Errorf("ValueError: Unknown format code '%s' for object of type '%s'", typ, v.Type())
		}
		neg = f < 0 || (f == 0 && math.Signbit(f))
		f = math.Abs(f)
		body = formatFloat(f, typ, prec)
		if group != "" {
			intPart, rest := splitNumber(body)
			body = groupDigits(intPart, group, 3) + rest
		}
	default:
		if typ != "" && typ != "s" {
			return "", fmt.Errorf("ValueError: Unknown format code '%s' for object of type '%s'", typ, v.Type())
		}
		numeric = false
		body = str(v)
		if prec >= 0 && utf8.RuneCountInString(body) > prec {
			body = string([]rune(body)[:prec])
		}
	}

	if numeric {
		switch {
		case neg:
			sign = "-"
		case signOpt == "+":
			sign = "+"
		case signOpt == " ":
			sign = " "
		}
	}
	content := sign + prefix + body
	pad := width - utf8.RuneCountInString(content)
	if pad <= 0 {
		return content, nil
	}
	if align == "" {
		align = "<"
		if numeric {
			align = ">"
		}
	}
	switch align {
	case "<":
		return content + strings.Repeat(fill, pad), nil
	case "^":
		return strings.Repeat(fill, pad/2) + content + strings.Repeat(fill, pad-pad/2), nil
	case "=":
		return sign + prefix + strings.Repeat(fill, pad) + body, nil
	default:
		return strings.Repeat(fill, pad) + content, nil
	}
}

func formatFloat(f float64, typ string, prec int) string {
	if math.IsInf(f, 0) {
		return "inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	switch typ {
	case "f", "F":
		if prec < 0 {
			prec = 6
		}
		return strconv.FormatFloat(f, 'f', prec, 64)
	case "%":
		if prec < 0 {
			prec = 6
		}
		return strconv.FormatFloat(f*100, 'f', prec, 64) + "%"
	case "e", "E":
		if prec < 0 {
			prec = 6
		}
		s := strconv.FormatFloat(f, 'e', prec, 64)
		if typ == "E" {
			s = strings.ToUpper(s)
		}
		return s
	case "g", "G":
		if prec < 0 {
			prec = 6
		} else if prec == 0 {
			prec = 1
		}
		s := strconv.FormatFloat(f, 'g', prec, 64)
		if typ == "G" {
			s = strings.ToUpper(s)
		}
		return s
	}
	if prec >= 0 {
		return strconv.FormatFloat(f, 'g', max(prec, 1), 64)
	}
	return starlark.Float(f).String()
}

// splitNumber splits a formatted number into its leading digits and the rest.
func splitNumber(s string) (string, string) {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

func groupDigits(digits, sep string, every int) string {
	if len(digits) <= every {
		return digits
	}
	var sb strings.Builder
	lead := len(digits) % every
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += every {
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(digits[i : i+every])
	}
	return sb.String()
}
