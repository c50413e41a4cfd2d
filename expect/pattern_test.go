package expect

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	pats, err := Compile("a+b", false)
	require.NoError(t, err)
	assert.NotNil(t, pats[0].find([]byte("aaab")))

	pats, err = Compile("a+b", true)
	require.NoError(t, err)
	assert.Nil(t, pats[0].find([]byte("aaab")))
	assert.NotNil(t, pats[0].find([]byte("xa+b")))

	pats, err = Compile([]any{"x", regexp.MustCompile("y"), Timeout, []byte("z")}, false)
	require.NoError(t, err)
	require.Len(t, pats, 4)
	assert.Equal(t, "TIMEOUT", pats[2].String())

	pats, err = Compile([]string{"one", "two"}, true)
	require.NoError(t, err)
	assert.Equal(t, "two", pats[1].String())

	_, err = Compile("(", false)
	assert.Error(t, err)

	_, err = Compile(42, false)
	assert.Error(t, err)
}
