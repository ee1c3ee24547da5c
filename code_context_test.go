package recon

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeContext(t *testing.T) {
	doc := NewSnapshot("file:///a.txt", "", 1, "a\nb\nc\nd\ne")

	ctx := ExtractCodeContext(doc, Position{Line: 3, Column: 1}, 1)
	require.NotNil(t, ctx)
	assert.Equal(t, 3, ctx.ProblemLine)
	assert.Equal(t, []CodeLine{
		{Number: 2, Content: "b"},
		{Number: 3, Content: "c", IsProblem: true},
		{Number: 4, Content: "d"},
	}, ctx.Lines)
	assert.Equal(t, " 2 | b\n>3 | c\n 4 | d\n", ctx.Format(false))

	t.Run("clamped to the document", func(t *testing.T) {
		ctx := ExtractCodeContext(doc, Position{Line: 1, Column: 1}, 3)
		require.NotNil(t, ctx)
		assert.Len(t, ctx.Lines, 4)
		assert.True(t, ctx.Lines[0].IsProblem)
	})

	t.Run("invalid positions", func(t *testing.T) {
		assert.Nil(t, ExtractCodeContext(doc, Position{}, 1))
		assert.Nil(t, ExtractCodeContext(doc, Position{Line: 9, Column: 1}, 1))
	})

	t.Run("line numbers are aligned", func(t *testing.T) {
		long := NewSnapshot("file:///b.txt", "", 1, strings.Repeat("x\n", 12))
		ctx := ExtractCodeContext(long, Position{Line: 10, Column: 1}, 1)
		assert.Equal(t, "  9 | x\n>10 | x\n 11 | x\n", ctx.Format(false))
	})

	t.Run("colored marker", func(t *testing.T) {
		formatted := ctx.Format(true)
		assert.Contains(t, formatted, "\x1b[")
		assert.Contains(t, formatted, ">3 | c")
	})

	var empty *CodeContext
	assert.Equal(t, "", empty.Format(false))
}

func TestCodeContextCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/p/a.go", []byte("package a\n\nfunc A() {}\n"), 0o644))
	cache := NewCodeContextCache(fs)

	ctx, err := cache.GetContext("/p/a.go", Position{Line: 3, Column: 1}, 0)
	require.NoError(t, err)
	require.Len(t, ctx.Lines, 1)
	assert.Equal(t, "func A() {}", ctx.Lines[0].Content)

	// Later reads come from the cache.
	require.NoError(t, fs.Remove("/p/a.go"))
	ctx, err = cache.GetContext("/p/a.go", Position{Line: 1, Column: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, "package a", ctx.Lines[0].Content)

	ctx, err = cache.GetContext("/p/a.go", Position{}, 1)
	assert.NoError(t, err)
	assert.Nil(t, ctx)

	_, err = cache.GetContext("/p/missing.go", Position{Line: 1, Column: 1}, 1)
	require.Error(t, err)
	info, ok := GetErrorInfo(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeFS, info.Type)
	assert.Equal(t, "/p/missing.go", info.File)
}
