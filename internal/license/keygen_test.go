package license

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	pattern := regexp.MustCompile(`^1MONTH-[0-9A-F]{12}$`)

	key, err := GenerateKey(" 1month ")
	require.NoError(t, err)
	assert.Regexp(t, pattern, key)

	_, err = GenerateKey("")
	assert.Error(t, err)

	_, err = GenerateKey("ONE MONTH")
	assert.Error(t, err)
}

func TestGenerateKeys(t *testing.T) {
	keys, err := GenerateKeys("LIFETIME", 25)
	require.NoError(t, err)
	require.Len(t, keys, 25)

	seen := make(map[string]bool)
	for _, key := range keys {
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}

	_, err = GenerateKeys("LIFETIME", 0)
	assert.Error(t, err)
}
