package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose", "Assessment follows: {\"a\":{\"b\":\"}\"}} thanks", `{"a":{"b":"}"}}`, true},
		{"fence", "```json\n{\"swan_score\":0.8}\n```", `{"swan_score":0.8}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"empty", "   ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "{\n  \"b\": 1,\n  \"a\": [\n    2\n  ]\n}", Indent(` {"b":1,"a":[2]} `))
	assert.Equal(t, "not json", Indent(" not json "))
	assert.Equal(t, "", Indent("  "))
}
