package filestore

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertbox/models"
)

const root = "/srv/uploaded_files"

func newTestStore(t *testing.T, names ...string) (*Store, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll(root, 0o755))
	for _, n := range names {
		require.NoError(t, afero.WriteFile(mem, filepath.Join(root, n), []byte("%PDF-1.4"), 0o644))
	}
	return New(mem, root, log.New(io.Discard)), mem
}

func TestRemoveFile(t *testing.T) {
	s, mem := newTestStore(t, "files-1-a.pdf")

	require.NoError(t, s.RemoveFile(filepath.Join(root, "files-1-a.pdf")))

	exists, err := afero.Exists(mem, filepath.Join(root, "files-1-a.pdf"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveFileMissing(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.RemoveFile("testfile.txt")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRemoveFileStripsTraversal(t *testing.T) {
	s, mem := newTestStore(t, "invalidpath")
	require.NoError(t, afero.WriteFile(mem, "/srv/invalidpath", []byte("keep"), 0o644))

	require.NoError(t, s.RemoveFile("../../invalidpath"))

	inRoot, _ := afero.Exists(mem, filepath.Join(root, "invalidpath"))
	outside, _ := afero.Exists(mem, "/srv/invalidpath")
	assert.False(t, inRoot)
	assert.True(t, outside, "file outside the upload root must be untouched")
}

func TestRemoveFileWindowsSeparators(t *testing.T) {
	s, _ := newTestStore(t, "file1-12345.pdf")
	require.NoError(t, s.RemoveFile(`..\..\..\uploaded_files\file1-12345.pdf`))
}

func TestRemoveFileRejectsEmptyAndDirectories(t *testing.T) {
	s, mem := newTestStore(t)
	require.NoError(t, mem.MkdirAll(filepath.Join(root, "nested"), 0o755))

	assert.True(t, IsNotFound(s.RemoveFile("")))
	assert.True(t, IsNotFound(s.RemoveFile("..")))

	err := s.RemoveFile("nested")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrInvalid))
}

func TestRemoveFilesAttemptsEveryMember(t *testing.T) {
	s, mem := newTestStore(t, "a.pdf", "c.pdf")
	files := []models.File{
		{ID: 1, Path: filepath.Join(root, "a.pdf")},
		{ID: 2, Path: filepath.Join(root, "b.pdf")}, // missing
		{ID: 3, Path: filepath.Join(root, "c.pdf")},
	}

	err := s.RemoveFiles(files)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	for _, n := range []string{"a.pdf", "c.pdf"} {
		exists, _ := afero.Exists(mem, filepath.Join(root, n))
		assert.False(t, exists, "%s should have been removed despite the failure", n)
	}
}

func TestRemoveFilesEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NoError(t, s.RemoveFiles(nil))
}

func TestResolve(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Resolve("uploaded_files/files-1-x.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "files-1-x.pdf"), got)
}

func TestPurgeToleratesMissing(t *testing.T) {
	s, mem := newTestStore(t, "files-1-a.pdf")
	files := []models.File{
		{ID: 1, Path: "uploaded_files/files-1-a.pdf"},
		{ID: 2, Path: "uploaded_files/files-2-gone.pdf"},
	}

	require.NoError(t, s.Purge(files))

	exists, _ := afero.Exists(mem, filepath.Join(root, "files-1-a.pdf"))
	assert.False(t, exists)
}

func TestPurgeReportsOtherFailures(t *testing.T) {
	s, mem := newTestStore(t)
	require.NoError(t, mem.MkdirAll(filepath.Join(root, "adir"), 0o755))

	err := s.Purge([]models.File{{ID: 1, Path: "adir"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrInvalid))
}
