package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, size int) *Store {
	t.Helper()
	return New(size, "default", zerolog.Nop())
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestGetReturnsSameContentsWithoutMutation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subs.json")
	writeFile(t, path, `{"golang": {"is_text": false}}`)

	s := newTestStore(t, 8)

	first, err := s.Get(path)
	require.NoError(t, err)
	second, err := s.Get(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGetReloadsAfterMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	writeFile(t, path, `{"a": 1}`)

	s := newTestStore(t, 8)

	first, err := s.Get(path)
	require.NoError(t, err)
	assert.Contains(t, first.(map[string]any), "a")

	writeFile(t, path, `{"b": 2}`)
	// Some filesystems have coarse mtime; force a visible difference.
	past := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	second, err := s.Get(path)
	require.NoError(t, err)
	assert.Contains(t, second.(map[string]any), "b")
	assert.NotContains(t, second.(map[string]any), "a")
}

func TestEvictionIsInsertionOrdered(t *testing.T) {
	dir := t.TempDir()
	const n = 3

	s := newTestStore(t, n)

	paths := make([]string, n+1)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("f%d.json", i))
		writeFile(t, paths[i], fmt.Sprintf(`{"i": %d}`, i))
		_, err := s.Get(paths[i])
		require.NoError(t, err)
	}

	cat := s.categories["default"]
	require.NotNil(t, cat)
	assert.Len(t, cat.entries, n)
	assert.NotContains(t, cat.entries, paths[0], "first inserted entry should be evicted")
	assert.Contains(t, cat.entries, paths[n])
}

func TestCategoriesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, 1)

	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	writeFile(t, a, `{}`)
	writeFile(t, b, `{}`)

	_, err := s.Get(a, "reddit")
	require.NoError(t, err)
	_, err = s.Get(b, "twitter")
	require.NoError(t, err)

	assert.Contains(t, s.categories["reddit"].entries, a)
	assert.Contains(t, s.categories["twitter"].entries, b)
}

func TestSetupFailsWhenNotEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	writeFile(t, path, `{}`)

	s := newTestStore(t, 4)
	require.NoError(t, s.Setup(16, "other"))

	_, err := s.Get(path)
	require.NoError(t, err)
	assert.Error(t, s.Setup(32, "another"))

	s.Flush()
	assert.NoError(t, s.Setup(32, "another"))
}

func TestDamagedJSONIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trusted.json")
	writeFile(t, path, `{not json`)

	s := newTestStore(t, 4)
	s.RegisterDefault(path, "{}")

	_, err := s.Get(path)
	require.ErrorIs(t, err, ErrDamagedFile)

	damaged, err := os.ReadFile(filepath.Join(dir, "trusted_damaged.txt"))
	require.NoError(t, err)
	assert.Equal(t, `{not json`, string(damaged))

	fresh, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(fresh))

	// The fresh file must now load cleanly.
	contents, err := s.Get(path)
	require.NoError(t, err)
	assert.Empty(t, contents.(map[string]any))
}

func TestTextFilesAreReturnedRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changelog.txt")
	writeFile(t, path, "line one\nline two\n")

	s := newTestStore(t, 4)
	contents, err := s.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", contents)
}

func TestMissingFilePropagates(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Get(filepath.Join(t.TempDir(), "nope.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "doc.json")
	require.NoError(t, WriteJSONAtomic(path, map[string][]string{"g": {"a", "b"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"g": ["a", "b"]}`, string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not remain")
}
