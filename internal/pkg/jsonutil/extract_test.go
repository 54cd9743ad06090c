package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"action":"buy"}`, `{"action":"buy"}`, true},
		{"prose", "My view:\n{\"action\":\"hold\",\"tags\":[1,2]} thanks", `{"action":"hold","tags":[1,2]}`, true},
		{"fence", "```json\n{\"action\":\"sell\"}\n```", `{"action":"sell"}`, true},
		{"brace in string", `note {"reasoning":"a } b","action":"wait"}`, `{"reasoning":"a } b","action":"wait"}`, true},
		{"bracket prose", "looks [bullish] so {\"action\":\"buy\"}", `{"action":"buy"}`, true},
		{"brace prose", `RSI {14} then {"action":"buy"}`, `{"action":"buy"}`, true},
		{"array", `[{"action":"buy"}]`, `[{"action":"buy"}]`, true},
		{"unterminated", `{"action":"buy"`, "", false},
		{"none", "no json here", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCandidatesKeepsEveryStart(t *testing.T) {
	got := Candidates(`a [x] b {"k":[1]}`)
	assert.Equal(t, []string{"[x]", `{"k":[1]}`, "[1]"}, got)
	assert.Empty(t, Candidates("   "))
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", Pretty(`{"a":1}`))
	assert.Equal(t, "{\n  \"b\": true\n}", Pretty(map[string]bool{"b": true}))
	assert.Equal(t, "not json", Pretty("not json"))
	assert.Equal(t, "", Pretty(nil))
}
