package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	require := require.New(t)
	require.Equal("a book review", Text(`<p>a <b>book</b> review</p>`))
	require.Equal("one\ntwo", Text(`<p>one</p><p>two</p>`))
	require.Equal("plain", Text("plain"))
	require.Equal("unclosed", Text("<p>unclosed"))
	require.Equal("", Text(`<script>alert(1)</script>`))
}
