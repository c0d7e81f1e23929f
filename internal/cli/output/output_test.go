package output

import (
	"bytes"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", true, ModeText},
		{"bogus", false, ModeMarkdown},
		{ModeText, false, ModeText},
		{"JSON", true, ModeJSON},
		{ModeMarkdown, true, ModeMarkdown},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestRenderer_NonTTYHasNoEscapeCodes(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRendererWithTTY(out, errOut, false, ModeText)

	r.Println(r.Styles().Header1.Render("Run"), r.Styles().StatusSuccess.String())
	r.Warnf("careful %d", 1)

	assert.False(t, ansi.MatchString(out.String()), out.String())
	assert.Contains(t, out.String(), "✓")
	assert.Contains(t, errOut.String(), "careful 1")
}

func TestRenderer_Table(t *testing.T) {
	rows := [][]string{{"r1", "completed"}, {"r2", "failed"}}

	out := &bytes.Buffer{}
	NewRendererWithTTY(out, out, false, ModeMarkdown).Table([]string{"ID", "Status"}, rows)
	assert.Contains(t, out.String(), "| ID | Status |")
	assert.Contains(t, out.String(), "| r2 | failed |")

	out.Reset()
	NewRendererWithTTY(out, out, false, ModeText).Table([]string{"ID", "Status"}, rows)
	assert.Contains(t, out.String(), "┌")
	assert.Contains(t, out.String(), "completed")
}

func TestRenderer_JSON(t *testing.T) {
	out := &bytes.Buffer{}
	r := NewRendererWithTTY(out, out, false, ModeJSON)
	require.NoError(t, r.JSON(map[string]int{"rows": 4}))

	var got map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 4, got["rows"])
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "## Outputs\n", FormatHeader(2, "Outputs"))
	assert.Equal(t, "# X\n", FormatHeader(0, "X"))
	assert.Equal(t, "- **Rows:** 4", FormatKeyValue("Rows", "4"))
}

func TestRenderer_StatusLine(t *testing.T) {
	out := &bytes.Buffer{}
	r := NewRendererWithTTY(out, out, false, ModeMarkdown)
	r.StatusLine("extract", "success", "6 rows")
	r.StatusLine("load", "failed", "")
	assert.Equal(t, "- ✓ extract  6 rows\n- ✗ load\n", out.String())
}
