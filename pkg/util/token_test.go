package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	a, b := RandomToken(16), RandomToken(16)
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
	require.Len(t, RandomToken(0), 32)
}
