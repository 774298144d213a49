package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuildAlwaysReportsDegraded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	idx := NewLexicalIndex()
	degraded, err := idx.Build(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, degraded)
}

func TestBuildSkipsVendorAndGitDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "func processOrder() {}\n")
	writeFile(t, dir, "vendor/lib/lib.go", "func processOrder() {}\n")
	writeFile(t, dir, ".git/objects/pack", "binary garbage")

	idx := NewLexicalIndex()
	_, err := idx.Build(context.Background(), dir)
	require.NoError(t, err)

	for _, f := range idx.files {
		assert.NotContains(t, f, "vendor")
		assert.NotContains(t, f, ".git")
	}
}

func TestContextFindsMatchingLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders.go", "package orders\n\nfunc ProcessOrder(id string) error {\n\treturn nil\n}\n")
	writeFile(t, dir, "unrelated.go", "package unrelated\n\nfunc Noop() {}\n")

	idx := NewLexicalIndex()
	_, err := idx.Build(context.Background(), dir)
	require.NoError(t, err)

	ctx, err := idx.Context(context.Background(), dir, "ProcessOrder panics with nil id")
	require.NoError(t, err)
	assert.Contains(t, ctx, "orders.go")
	assert.Contains(t, ctx, "ProcessOrder")
	assert.NotContains(t, ctx, "Noop")
}

func TestContextReturnsEmptyForShortQuery(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")

	idx := NewLexicalIndex()
	_, err := idx.Build(context.Background(), dir)
	require.NoError(t, err)

	ctx, err := idx.Context(context.Background(), dir, "a an to")
	require.NoError(t, err)
	assert.Empty(t, ctx)
}

func TestContextTruncatesToMaxBytes(t *testing.T) {
	dir := t.TempDir()
	var big string
	for i := 0; i < 2000; i++ {
		big += "needle appears here on this line\n"
	}
	writeFile(t, dir, "big.go", big)

	idx := NewLexicalIndex()
	_, err := idx.Build(context.Background(), dir)
	require.NoError(t, err)

	ctx, err := idx.Context(context.Background(), dir, "needle")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ctx), maxContextBytes)
}
