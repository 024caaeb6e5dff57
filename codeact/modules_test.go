package codeact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestImportListsDisjoint(t *testing.T) {
	assert.Empty(t, listOverlap(AllowedImports, BlockedImports))
	for _, name := range AllowedImports {
		assert.Contains(t, moduleFactories, name)
	}
	assert.Equal(t, []string{"os"}, listOverlap([]string{"json", "os"}, []string{"os", "sys"}))
}

func TestCheckImport(t *testing.T) {
	assert.NoError(t, checkImport("json"))
	assert.NoError(t, checkImport("urllib.parse"))

	err := checkImport("sys")
	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "sys", ie.Module)

	assert.Error(t, checkImport("urllib.request"))
	assert.Error(t, checkImport("http.client"))
}

func run(t *testing.T, code string) string {
	t.Helper()
	return NewExecutor(nil).Execute(context.Background(), code)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    starlark.Value
		spec string
		want string
	}{
		{starlark.Float(3.14159), ".2f", "3.14"},
		{starlark.MakeInt(1234567), ",", "1,234,567"},
		{starlark.MakeInt(42), "05d", "00042"},
		{starlark.MakeInt(-42), "05d", "-0042"},
		{starlark.MakeInt(255), "x", "ff"},
		{starlark.MakeInt(255), "#x", "0xff"},
		{starlark.MakeInt(5), "b", "101"},
		{starlark.String("ab"), ">5", "   ab"},
		{starlark.String("ab"), "*^6", "**ab**"},
		{starlark.String("ab"), "<4", "ab  "},
		{starlark.Float(0.25), ".1%", "25.0%"},
		{starlark.MakeInt(7), "+d", "+7"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := formatValue(tt.v, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := formatValue(starlark.String("x"), "d")
	assert.ErrorContains(t, err, "Unknown format code")
}

func TestExtraBuiltins(t *testing.T) {
	tests := []struct {
		code, want string
	}{
		{"print(sum([1, 2, 3]))", "6"},
		{"print(sum([1, 2], 10))", "13"},
		{"print(round(2.5), round(3.5))", "2 4"},
		{"print(round(3.14159, 2))", "3.14"},
		{"print(pow(2, 10), pow(2, 10, 1000))", "1024 24"},
		{"print(divmod(7, 2))", "(3, 1)"},
		{`print(isinstance(1, int), isinstance("s", str), isinstance([], (dict, list)))`, "True True True"},
		{"print(callable(len), callable(1))", "True False"},
		{"print(map(lambda x: x * 2, [1, 2]))", "[2, 4]"},
		{"print(filter(None, [0, 1, 2]))", "[1, 2]"},
		{"print(hex(255), oct(8), bin(5))", "0xff 0o10 0b101"},
		{`print(format(1234.5, ",.1f"))`, "1,234.5"},
		{`name = "x"
print(f"hi {name}!")`, "hi x!"},
		{`print(f"{3.14159:.2f}")`, "3.14"},
		{`x = None
print(x is None)`, "True"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.code))
		})
	}
}

func TestModules(t *testing.T) {
	tests := []struct {
		name, code, want string
	}{
		{"json dumps", `import json
print(json.dumps({"b": 1, "a": [1, 2]}, sort_keys=True))`, `{"a": [1, 2], "b": 1}`},
		{"json indent", `import json
print(json.dumps({"a": 1}, indent=2))`, "{\n  \"a\": 1\n}"},
		{"json loads", `import json
print(json.loads('{"x": [1, 2]}')["x"][1])`, "2"},
		{"math", `import math
print(math.factorial(5), math.gcd(12, 18), math.floor(2.7))`, "120 6 2"},
		{"counter", `from collections import Counter
c = Counter(["a", "a", "b"])
print(c["a"], c["z"], c.most_common(1))`, `2 0 [("a", 2)]`},
		{"defaultdict", `from collections import defaultdict
d = defaultdict(list)
d["k"].append(1)
print(dict(d))`, `{"k": [1]}`},
		{"deque", `from collections import deque
q = deque([1, 2, 3], maxlen=3)
q.append(4)
print(list(q), q.popleft())`, "[2, 3, 4] 2"},
		{"namedtuple", `from collections import namedtuple
P = namedtuple("P", ["x", "y"])
p = P(1, y=2)
print(p.x + p.y)`, "3"},
		{"itertools", `import itertools
print(list(itertools.combinations([1, 2, 3], 2)))`, "[(1, 2), (1, 3), (2, 3)]"},
		{"functools", `from functools import reduce, partial
add = partial(lambda a, b: a + b, 10)
print(reduce(lambda a, b: a * b, [1, 2, 3, 4]), add(5))`, "24 15"},
		{"re findall", `import re
print(re.findall(r"\d+", "a1b22c333"))`, `["1", "22", "333"]`},
		{"re sub", `import re
print(re.sub(r"(\w+)@(\w+)", r"\2 at \1", "me@home"))`, "home at me"},
		{"re match groups", `import re
m = re.match(r"(?P<key>\w+)=(\d+)", "size=42")
print(m.group("key"), m.group(2), m.span())`, "size 42 (0, 7)"},
		{"re no match", `import re
print(re.search("z", "abc"))`, "None"},
		{"datetime", `import datetime
d = datetime.date(2024, 1, 31) + datetime.timedelta(days=1)
print(d.isoformat())`, "2024-02-01"},
		{"datetime strftime", `from datetime import datetime
print(datetime(2024, 3, 5, 14, 7).strftime("%Y/%m/%d %H:%M"))`, "2024/03/05 14:07"},
		{"base64", `import base64
print(base64.b64encode("hi"), base64.b64decode("aGk="))`, "aGk= hi"},
		{"hashlib", `import hashlib
print(hashlib.sha256("abc").hexdigest()[:16])`, "ba7816bf8f01cfea"},
		{"string", `import string
print(string.ascii_lowercase[:5], string.capwords("hello world"))`, "abcde Hello World"},
		{"textwrap", `import textwrap
print(textwrap.dedent("    a\n    b"))`, "a\nb"},
		{"io and csv", `import io, csv
buf = io.StringIO()
w = csv.writer(buf)
w.writerow(["a", "b,c"])
print(buf.getvalue().strip())
rows = list(csv.reader(io.StringIO("x,y\n1,2\n")))
print(rows)`, "a,\"b,c\"\n[[\"x\", \"y\"], [\"1\", \"2\"]]"},
		{"operator", `import operator
print(sorted([("b", 2), ("a", 1)], key=operator.itemgetter(1)))`, `[("a", 1), ("b", 2)]`},
		{"pathlib", `from pathlib import Path
p = Path("/tmp") / "data" / "report.tar.gz"
print(p.name, p.suffix, p.stem, p.parent, p.suffixes)`, `report.tar.gz .gz report.tar /tmp/data [".tar", ".gz"]`},
		{"pathlib relative", `from pathlib import Path
print(Path("/a/b/c.txt").relative_to("/a"), Path("x/y.py").match("*.py"))`, "b/c.txt True"},
		{"urllib", `from urllib.parse import urlparse, urlencode, parse_qs
u = urlparse("https://user@example.com:8080/p/a?q=1&q=2#frag")
print(u.scheme, u.hostname, u.port, u.path, u.query, u.fragment)
print(urlencode({"a": "x y", "b": 1}))
print(parse_qs(u.query))`, "https example.com 8080 /p/a q=1&q=2 frag\na=x+y&b=1\n{\"q\": [\"1\", \"2\"]}"},
		{"pathlib match absolute", `from pathlib import Path
print(Path("/a/b.py").match("/a/*.py"), Path("/a/b.py").match("/x/*.py"), Path("/a/b/c.py").match("b/*.py"))`, "True False True"},
		{"attrgetter dotted", `import operator
import urllib.parse
print(operator.attrgetter("parse.quote")(urllib)("a b"))`, "a%20b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.code))
		})
	}
}

func TestAttrGetterMissing(t *testing.T) {
	out := run(t, `import operator
import urllib.parse
operator.attrgetter("parse.nope")(urllib)`)
	assert.Contains(t, out, "AttributeError: 'module' object has no attribute 'nope'")

	out = run(t, `import operator
operator.attrgetter("real.x")(1)`)
	assert.Contains(t, out, "AttributeError: 'int' object has no attribute 'real'")
}
