package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyA = "oc-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	keyB = "oc-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	keyC = "oc-cccccccccccccccccccccccccccccccc"
)

func TestEmptyListPermitsAll(t *testing.T) {
	l, err := New(nil, nil)
	require.NoError(t, err)
	assert.True(t, l.Permit(keyA))
	assert.True(t, l.Permit(""))
}

func TestNilListPermitsAll(t *testing.T) {
	var l *List
	assert.True(t, l.Permit(keyA))
}

func TestDenyList(t *testing.T) {
	l, err := New(nil, []string{keyB, " "})
	require.NoError(t, err)
	assert.True(t, l.Permit(keyA))
	assert.False(t, l.Permit(keyB))

	allow, deny := l.Sizes()
	assert.Equal(t, 0, allow)
	assert.Equal(t, 1, deny)
}

func TestAllowListWins(t *testing.T) {
	l, err := New([]string{keyA}, []string{keyB})
	require.NoError(t, err)
	assert.True(t, l.Permit(keyA))
	assert.False(t, l.Permit(keyB))
	assert.False(t, l.Permit(keyC), "keys outside a non-empty allow list are rejected")
}

func TestOverlapRejected(t *testing.T) {
	_, err := New([]string{keyA, keyB}, []string{" " + keyB})
	assert.Error(t, err)
}
