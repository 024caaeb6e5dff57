package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsCaller(t *testing.T) {
	err := New("boom %d", 42)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), "boom 42")
}

func TestWrapfKeepsChain(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "ignored"))

	err := Wrapf(ErrSessionNotFound, "loading %q", "cli:direct")
	require.Error(t, err)
	assert.True(t, Is(err, ErrSessionNotFound))
	assert.Contains(t, err.Error(), `loading "cli:direct"`)
	assert.Contains(t, err.Error(), "errors_test.go:")
}
