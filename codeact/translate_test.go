package codeact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/syntax"
)

func TestTranslateImports(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"import json", `json = __import__("json")`},
		{"import json as j", `j = __import__("json", leaf = True)`},
		{"import urllib.parse", `urllib = __import__("urllib.parse")`},
		{"import math, re", `math = __import__("math"); re = __import__("re")`},
		{"    import os", `    os = __import__("os")`},
		{
			"from collections import Counter, defaultdict as dd",
			`Counter = __import__("collections", leaf = True).Counter; dd = __import__("collections", leaf = True).defaultdict`,
		},
		{"from urllib import parse", `parse = __import__("urllib.parse", leaf = True)`},
		{"from math import *", `__import__("math", wildcard = True)`},
		{"important = 1", "important = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, translateImports(tt.in))
		})
	}
}

func TestTranslateImportsKeepsLineNumbers(t *testing.T) {
	src := "from math import (\n    sqrt,\n    floor,\n)\nprint(sqrt(4))"
	out := translateImports(src)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, `sqrt = __import__("math", leaf = True).sqrt; floor = __import__("math", leaf = True).floor`, lines[0])
	assert.Equal(t, "print(sqrt(4))", lines[4])
}

func TestTranslateImportsSkipsStrings(t *testing.T) {
	src := "doc = \"\"\"\nimport os\n\"\"\""
	assert.Equal(t, src, translateImports(src))
}

func TestRewriteIdentity(t *testing.T) {
	out, err := translate("if x is None and y is not None:\n    pass")
	require.NoError(t, err)
	assert.Equal(t, "if x == None and y != None:\n    pass", out)

	out, err = translate(`s = "this is fine" # is it`)
	require.NoError(t, err)
	assert.Equal(t, `s = "this is fine" # is it`, out)

	out, err = translate("island = isolated")
	require.NoError(t, err)
	assert.Equal(t, "island = isolated", out)
}

func TestTranslateFStrings(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`f"hi {name}!"`, `"hi {}!".format(name)`},
		{`f"{a} and {b:.2f}"`, `"{} and {}".format(a, format(b, ".2f"))`},
		{`f"{x!r}"`, `"{!r}".format(x)`},
		{`f"{{literal}}"`, `"{{literal}}".format()`},
		{`f"plain"`, `"plain"`},
		{`f'{d["k"]}'`, `'{}'.format(d["k"])`},
		{`rf"\d{n}"`, `r"\d{}".format(n)`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			out, err := translate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTranslateFStringErrors(t *testing.T) {
	_, err := translate(`f"{}"`)
	assert.ErrorContains(t, err, "SyntaxError")

	_, err = translate(`f"{x"`)
	assert.ErrorContains(t, err, "SyntaxError")
}

func TestTranslateRaise(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`raise ValueError("bad")`, `__raise__(ValueError("bad"))`},
		{"    raise", "    __raise__()"},
		{`if x < 0: raise ValueError("neg")  # guard`, `if x < 0: __raise__(ValueError("neg"))  # guard`},
		{"raise ValueError(\n    \"a\",\n)\nprint(1)", "__raise__(ValueError( \"a\", ))\n\n\nprint(1)"},
		{`raise KeyError("#1")`, `__raise__(KeyError("#1"))`},
		{"raised = True", "raised = True"},
		{"doc = \"\"\"\nraise x\n\"\"\"", "doc = \"\"\"\nraise x\n\"\"\""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			out, err := translateRaise(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTranslateRejectsUnsupported(t *testing.T) {
	_, err := translate("x = 1\n  try:\n    pass")
	var se syntax.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(2), se.Pos.Line)
	assert.Equal(t, int32(3), se.Pos.Col)
	assert.Contains(t, se.Msg, "'try' statements are not supported")

	_, err = translate("class A:\n    pass")
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Msg, "'class' definitions are not supported")

	_, err = translate("classes = []")
	assert.NoError(t, err)
}
