package app

import (
	"testing"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanerFromConfig(t *testing.T) {
	c, err := Cleaner(map[string][]config.FillerRule{
		"en": {{Pattern: `(^|\s)(?:like)(\s)`, Replacement: "${1}${2}"}},
		"ja": {{Pattern: `(^|\s)(?:えーと)(\s)`, Replacement: "${1}${2}"}},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ko", "en", "ja"}, c.Languages())
	assert.Equal(t, "it was fine", c.Clean("en", "it was like fine"))
	assert.Equal(t, "it was um fine", c.Clean("en", "it was um fine"), "configured table replaces the built-in one")
	assert.Equal(t, "今日は 晴れ", c.Clean("ja", "今日は えーと 晴れ"))
	assert.Equal(t, "시작하겠습니다", c.Clean("ko", "음 시작하겠습니다"))
}

func TestCleanerBadPattern(t *testing.T) {
	_, err := Cleaner(map[string][]config.FillerRule{"en": {{Pattern: `(`}}})
	assert.ErrorContains(t, err, "filler en rule 0")
}
