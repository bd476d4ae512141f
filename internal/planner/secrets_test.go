package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretSetMasksKnownValues(t *testing.T) {
	t.Parallel()

	s := NewSecretSet("sk-live-abcdef123456", "short")
	out := s.Mask("token=sk-live-abcdef123456 ok=short")
	require.Equal(t, "token=*** ok=***", out)
}

func TestSecretSetSkipsValuesAtOrUnderThreeChars(t *testing.T) {
	t.Parallel()

	s := NewSecretSet("1", "ab", "abc", "abcd")
	out := s.Mask("code=1 flag=ab id=abc secret=abcd")
	require.Equal(t, "code=1 flag=ab id=abc secret=***", out)
}

func TestSecretSetMaskingIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewSecretSet("supersecret")
	once := s.Mask("value=supersecret")
	twice := s.Mask(once)
	require.Equal(t, once, twice)
}

func TestSecretSetMasksLongerValueBeforeSubstring(t *testing.T) {
	t.Parallel()

	s := NewSecretSet("tokenvalue", "token")
	out := s.Mask("x=tokenvalue")
	require.Equal(t, "x=***", out)
}
