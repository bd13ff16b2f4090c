package tgui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscAndTags(t *testing.T) {
	require.Equal(t, H("a &lt;b&gt; &amp; c"), Esc("a <b> & c"))
	require.Equal(t, H("<b>x&lt;y</b>"), B("x<y"))
	require.Equal(t, H("<i>note</i>"), I("note"))
	require.Equal(t, H("<code>/run 1</code>"), Code("/run 1"))
}

func TestLinesSkipsBlank(t *testing.T) {
	require.Equal(t, H("a\nb"), Lines("a", "  ", "", "b"))
	require.Equal(t, H(""), Lines())
}

func TestTruncRunes(t *testing.T) {
	require.Equal(t, "", TruncRunes("abc", 0))
	require.Equal(t, "abc", TruncRunes("abc", 3))
	require.Equal(t, "ab…", TruncRunes("abcd", 3))
	require.Equal(t, "äö…", TruncRunes("äöüß", 3))
	require.Equal(t, "…", TruncRunes("abc", 1))
}
