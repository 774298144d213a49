package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/asaengine/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestValidateBoundaries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "a\nb\nc\n")
	a := New(dir)

	ok := types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchReplace, StartLine: 3, EndLine: 3, ReplacementText: "z\n"},
	}}
	assert.Empty(t, a.Validate(&ok, true))

	tooFar := types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchReplace, StartLine: 4, EndLine: 4, ReplacementText: "z\n"},
	}}
	errs := a.Validate(&tooFar, true)
	require.Len(t, errs, 1)

	appendAtEOF := types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchInsert, StartLine: 4, EndLine: 4, ReplacementText: "d\n"},
	}}
	assert.Empty(t, a.Validate(&appendAtEOF, true))

	missingReplacement := types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchReplace, StartLine: 1, EndLine: 1, ReplacementText: ""},
	}}
	assert.Len(t, a.Validate(&missingReplacement, true), 1)

	missingFile := types.PatchSet{Patches: []types.Patch{
		{FilePath: "nope.go", Operation: types.PatchDelete, StartLine: 1, EndLine: 1},
	}}
	assert.Len(t, a.Validate(&missingFile, true), 1)
}

func TestApplyReplace(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "one\ntwo\nthree\n")
	a := New(dir)

	ps := &types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchReplace, StartLine: 2, EndLine: 2, ReplacementText: "TWO"},
	}}
	require.NoError(t, a.Apply(ps))
	assert.Equal(t, "one\nTWO\nthree\n", readFile(t, path))
}

func TestApplyInsertAtEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "one\ntwo\n")
	a := New(dir)

	ps := &types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchInsert, StartLine: 3, EndLine: 3, ReplacementText: "three"},
	}}
	require.NoError(t, a.Apply(ps))
	assert.Equal(t, "one\ntwo\nthree\n", readFile(t, path))
}

func TestApplyDelete(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "one\ntwo\nthree\n")
	a := New(dir)

	ps := &types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchDelete, StartLine: 2, EndLine: 2},
	}}
	require.NoError(t, a.Apply(ps))
	assert.Equal(t, "one\nthree\n", readFile(t, path))
}

func TestApplyThenRollbackRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "one\ntwo\nthree\n")
	original := readFile(t, path)
	a := New(dir)

	ps := &types.PatchSet{Patches: []types.Patch{
		{FilePath: "main.go", Operation: types.PatchReplace, StartLine: 1, EndLine: 1, ReplacementText: "ONE"},
		{FilePath: "main.go", Operation: types.PatchDelete, StartLine: 3, EndLine: 3},
	}}
	require.NoError(t, a.Apply(ps))
	assert.NotEqual(t, original, readFile(t, path))

	require.NoError(t, a.Rollback())
	assert.Equal(t, original, readFile(t, path))
	assert.Empty(t, a.applied)
}

func TestApplyPartialFailureAutoRollsBack(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFile(t, dir, "a.go", "a1\na2\n")
	pathB := writeFile(t, dir, "b.go", "b1\nb2\n")
	origA := readFile(t, pathA)
	origB := readFile(t, pathB)
	a := New(dir)

	ps := &types.PatchSet{Patches: []types.Patch{
		{FilePath: "a.go", Operation: types.PatchReplace, StartLine: 1, EndLine: 1, ReplacementText: "A1"},
		{FilePath: "b.go", Operation: types.PatchReplace, StartLine: 1, EndLine: 1, ReplacementText: "B1"},
	}}
	require.NoError(t, a.Apply(ps))
	assert.Equal(t, "A1\na2\n", readFile(t, pathA))

	bad := &types.PatchSet{Patches: []types.Patch{
		{FilePath: "a.go", Operation: types.PatchReplace, StartLine: 1, EndLine: 1, ReplacementText: "A1-again"},
		{FilePath: "b.go", Operation: types.PatchReplace, StartLine: 99, EndLine: 99, ReplacementText: "oops"},
	}}
	err := a.Apply(bad)
	require.Error(t, err)

	// The second patch never runs because Apply validates the whole set
	// up front, so the first patch in `bad` never touches disk either.
	assert.Equal(t, "A1\na2\n", readFile(t, pathA))
	assert.Equal(t, "B1\nb2\n", readFile(t, pathB))
	_, _ = origA, origB
}

func TestPreviewDoesNotMutateFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "one\ntwo\nthree\n")
	a := New(dir)

	p := types.Patch{FilePath: "main.go", Operation: types.PatchReplace, StartLine: 2, EndLine: 2, ReplacementText: "TWO", Description: "fix the typo"}
	out, err := a.Preview(p, 1)
	require.NoError(t, err)
	assert.Contains(t, out, "-    2 | two")
	assert.Contains(t, out, "+      | TWO")
	assert.Contains(t, out, "fix the typo")
	assert.Equal(t, "one\ntwo\nthree\n", readFile(t, path))
}

func TestResolveRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	ps := &types.PatchSet{Patches: []types.Patch{
		{FilePath: "../outside.go", Operation: types.PatchDelete, StartLine: 1, EndLine: 1},
	}}
	errs := a.Validate(ps, true)
	require.Len(t, errs, 1)
}
