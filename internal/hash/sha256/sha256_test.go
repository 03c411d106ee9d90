package sha256

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherSumDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Sum([]byte("hello world"))
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
	require.Equal(t, got, h.Sum([]byte("hello world")))
	require.NotEqual(t, got, h.Sum([]byte("hello world!")))
}

func TestHasherFoldsWhitespace(t *testing.T) {
	t.Parallel()

	h := New()
	want := h.Sum([]byte("<p>hello world</p>"))
	require.Equal(t, want, h.Sum([]byte("\n\t<p>hello   world</p>\r\n")))
	require.Equal(t, want, h.Sum([]byte("<p>hello\n\nworld</p>   ")))
	require.NotEqual(t, want, h.Sum([]byte("<p>helloworld</p>")))
}

func TestHasherLargeBodies(t *testing.T) {
	t.Parallel()

	h := New()
	words := strings.Repeat("word ", 5000)
	spaced := strings.ReplaceAll(words, " ", "  \n")
	require.Equal(t, h.Sum([]byte(words)), h.Sum([]byte(spaced)))
}
