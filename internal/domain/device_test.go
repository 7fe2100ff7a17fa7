package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAlias(t *testing.T) {
	got, err := NormalizeAlias(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	blank := "   "
	got, err = NormalizeAlias(&blank)
	require.NoError(t, err)
	assert.Nil(t, got)

	padded := "  kitchen tablet "
	got, err = NormalizeAlias(&padded)
	require.NoError(t, err)
	assert.Equal(t, "kitchen tablet", *got)

	exact := strings.Repeat("ä", MaxAliasLength)
	_, err = NormalizeAlias(&exact)
	assert.NoError(t, err)

	long := strings.Repeat("a", MaxAliasLength+1)
	_, err = NormalizeAlias(&long)
	assert.ErrorIs(t, err, ErrAliasTooLong)
}
