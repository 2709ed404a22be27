package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	a, err := Sum([]byte("the quick brown fox"))
	require.NoError(t, err)
	b, err := Sum([]byte("the quick brown fox"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.String())
}

func TestSumDiffersByContent(t *testing.T) {
	a, err := Sum([]byte("proof one"))
	require.NoError(t, err)
	b, err := Sum([]byte("proof two"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSumEmptyInputIsValid(t *testing.T) {
	digest, err := Sum(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, digest.String())

	// Empty slice and nil hash identically.
	digest2, err := Sum([]byte{})
	require.NoError(t, err)
	assert.Equal(t, digest, digest2)
}

func TestVerify(t *testing.T) {
	data := []byte("verifiable content")
	digest, err := Sum(data)
	require.NoError(t, err)

	assert.True(t, Verify(data, digest))
	assert.False(t, Verify([]byte("tampered content"), digest))
}
