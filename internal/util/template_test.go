package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPrompt_PlainTextPassthrough(t *testing.T) {
	out, err := RenderPrompt("no markers here", map[string]any{"topic": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "no markers here", out)
}

func TestRenderPrompt_Substitution(t *testing.T) {
	out, err := RenderPrompt("Write about {{.topic}} in {{.tone}} tone", map[string]any{
		"topic": "channels",
		"tone":  "casual",
	})
	require.NoError(t, err)
	assert.Equal(t, "Write about channels in casual tone", out)
}

func TestRenderPrompt_HelperFuncs(t *testing.T) {
	out, err := RenderPrompt(`{{upper .lang}}: {{join ", " .items}} ({{default "none" .missing}})`, map[string]any{
		"lang":  "go",
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "GO: a, b (none)", out)
}

func TestRenderPrompt_BadTemplate(t *testing.T) {
	_, err := RenderPrompt("{{.unclosed", nil)
	assert.Error(t, err)
}
