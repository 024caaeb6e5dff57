package codeact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Block
	}{
		{
			name: "tags in source order",
			in:   "Let me check.\n<thought>need the size</thought>\n<execute>\nprint(1)\n</execute>\nDone",
			want: []Block{
				{KindText, "Let me check."},
				{KindThought, "need the size"},
				{KindExecute, "print(1)"},
				{KindText, "Done"},
			},
		},
		{
			name: "fence fallback",
			in:   "Here:\n```python\nx = 2\nprint(x)\n```",
			want: []Block{
				{KindText, "Here:"},
				{KindExecute, "x = 2\nprint(x)"},
			},
		},
		{
			name: "py fence",
			in:   "```py\nprint(3)\n```",
			want: []Block{{KindExecute, "print(3)"}},
		},
		{
			name: "plain text",
			in:   "  just words  ",
			want: []Block{{KindText, "just words"}},
		},
		{
			name: "empty",
			in:   " \n ",
			want: nil,
		},
		{
			name: "multiple execute blocks",
			in:   "<execute>a = 1</execute> then <execute>b = 2</execute>",
			want: []Block{
				{KindExecute, "a = 1"},
				{KindText, "then"},
				{KindExecute, "b = 2"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestParseExecuteInsideThought(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Block
	}{
		{
			name: "lifted out",
			in:   "<thought>plan <execute>print(1)</execute></thought>",
			want: []Block{{KindThought, "plan"}, {KindExecute, "print(1)"}},
		},
		{
			name: "split around",
			in:   "Intro\n<thought>\nfirst <execute>a = 1</execute> then <execute>b = 2</execute> last\n</thought>\nOutro",
			want: []Block{
				{KindText, "Intro"},
				{KindThought, "first"},
				{KindExecute, "a = 1"},
				{KindThought, "then"},
				{KindExecute, "b = 2"},
				{KindThought, "last"},
				{KindText, "Outro"},
			},
		},
		{
			name: "only code",
			in:   "<thought><execute>x = 1</execute></thought>",
			want: []Block{{KindExecute, "x = 1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}

	code, ok := ExtractCode("<thought>plan <execute>print(1)</execute></thought>")
	assert.True(t, ok)
	assert.Equal(t, "print(1)", code)
	assert.Empty(t, ExtractTextResponse("<thought>plan <execute>print(1)</execute></thought>"))
}

func TestParseTagsSuppressFence(t *testing.T) {
	in := "<execute>a = 1</execute>\n```python\nb = 2\n```"
	blocks := Parse(in)

	var execs []string
	for _, b := range blocks {
		if b.Kind == KindExecute {
			execs = append(execs, b.Content)
		}
	}
	assert.Equal(t, []string{"a = 1"}, execs)
	assert.Contains(t, ExtractTextResponse(in), "b = 2")
}

func TestExtractCode(t *testing.T) {
	code, ok := ExtractCode("<execute>\nfirst()\n</execute>\n<execute>second()</execute>")
	assert.True(t, ok)
	assert.Equal(t, "first()", code)

	code, ok = ExtractCode("no code here")
	assert.False(t, ok)
	assert.Empty(t, code)

	assert.True(t, HasCode("```python\nprint(1)\n```"))
	assert.False(t, HasCode("```go\nfmt.Println(1)\n```"))
}

func TestExtractTextResponse(t *testing.T) {
	in := "Intro.\n<thought>hidden</thought>\nMiddle.\n<execute>x = 1</execute>\nOutro."
	assert.Equal(t, "Intro.\n\nMiddle.\n\nOutro.", ExtractTextResponse(in))
	assert.Equal(t, "", ExtractTextResponse("<execute>x = 1</execute>"))
}
