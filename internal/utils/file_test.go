package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImageFile(t *testing.T) {
	tests := map[string]bool{
		"a.jpg":           true,
		"B.JPEG":          true,
		"c.Png":           true,
		"d.webp":          false,
		"e.gif":           false,
		"notes.txt":       false,
		"no_ext":          false,
		"archive.jpg.zip": false,
	}
	for name, want := range tests {
		assert.Equal(t, want, IsImageFile(name), name)
	}
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.JPG", "c.txt", "d.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.jpg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub.jpg", "e.jpg"), []byte("x"), 0o644))

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.JPG", "b.png", "d.jpeg"}, files)
}

func TestListImageFilesMissing(t *testing.T) {
	_, err := ListImageFiles(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAnnotatedFilename(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "bbox_a.jpg"), AnnotatedFilename("out", "bbox_", "a.jpg", ""))
	assert.Equal(t, filepath.Join("out", "bbox_a.jpg"), AnnotatedFilename("out", "bbox_", "a.jpg", "JPG"))
	assert.Equal(t, filepath.Join("out", "a.webp"), AnnotatedFilename("out", "", "a.png", "webp"))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.png")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	require.NoError(t, EnsureDir(dir))
}

func TestSafeName(t *testing.T) {
	assert.True(t, SafeName("a.jpg"))
	assert.False(t, SafeName(""))
	assert.False(t, SafeName(".."))
	assert.False(t, SafeName("../a.jpg"))
	assert.False(t, SafeName(`x\a.jpg`))
}
