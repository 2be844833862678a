package recognition

import (
	"testing"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		text   string
		source Source
	}{
		{"chat string content", `{"choices":[{"message":{"content":"hello"}}]}`, "hello", SourceChoices},
		{"chat content parts", `{"choices":[{"message":{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}}]}`, "a\nb", SourceChoices},
		{"choices win over result", `{"choices":[{"message":{"content":"c"}}],"result":"r"}`, "c", SourceChoices},
		{"empty choices fall to result", `{"choices":[],"result":"r"}`, "r", SourceResult},
		{"result field", `{"result":"  spaced  "}`, "spaced", SourceResult},
		{"non-string result is raw", `{"result":42}`, `{"result":42}`, SourceRaw},
		{"plain text", "plain text\n", "plain text", SourceRaw},
		{"html error page", "<html>oops</html>", "<html>oops</html>", SourceRaw},
		// e + combining acute composes to a single rune
		{"nfc normalized", `{"result":"cafe` + "\u0301" + `"}`, "caf\u00e9", SourceResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, source, err := Extract([]byte(tt.body), false)
			require.NoError(t, err)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.source, source)
		})
	}
}

func TestExtract_Malformed(t *testing.T) {
	_, _, err := Extract([]byte("  \n"), false)
	assert.ErrorIs(t, err, failure.ErrMalformedResponse)

	_, _, err = Extract([]byte(`{"other":1}`), true)
	assert.ErrorIs(t, err, failure.ErrMalformedResponse)

	_, _, err = Extract([]byte("not json"), true)
	assert.ErrorIs(t, err, failure.ErrMalformedResponse)

	text, _, err := Extract([]byte(`{"result":"ok"}`), true)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}
