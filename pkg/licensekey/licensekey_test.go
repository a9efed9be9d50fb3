package licensekey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)

	assert.Len(t, key, 23)
	assert.True(t, strings.HasPrefix(key, "TBR-"))
	assert.True(t, Valid(key))

	// Excluded characters never appear
	for _, c := range "IO01" {
		assert.NotContains(t, key[4:], string(c))
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := Generate()
		require.NoError(t, err)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("TBR-ABCD-EFGH-JKLM-NPQR"))
	assert.True(t, Valid("TBR-2345-6789-WXYZ-ABCD"))

	assert.False(t, Valid(""))
	assert.False(t, Valid("TBR-ABCD-EFGH-JKLM"))
	assert.False(t, Valid("TBR-ABCD-EFGH-JKLM-NPQR-STUV"))
	assert.False(t, Valid("XYZ-ABCD-EFGH-JKLM-NPQR"))
	assert.False(t, Valid("tbr-abcd-efgh-jklm-npqr"))
	// Ambiguous characters are outside the alphabet
	assert.False(t, Valid("TBR-ABCD-EFGH-JKLM-NPQ0"))
	assert.False(t, Valid("TBR-IBCD-EFGH-JKLM-NPQR"))
	assert.False(t, Valid("TBRABCDEFGHJKLMNPQR"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "TBR-ABCD-EFGH-JKLM-NPQR", Normalize("  tbr-abcd-efgh-jklm-npqr "))
	assert.Equal(t, "TBR-ABCD-EFGH-JKLM-NPQR", Normalize("TBR-ABCD-EFGH-JKLM-NPQR"))
	assert.True(t, Valid(Normalize("tbr-abcd-efgh-jklm-npqr")))
}
