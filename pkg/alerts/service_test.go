package alerts

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"alertbox/models"
	"alertbox/pkg/apperr"
	"alertbox/pkg/filestore"
	"alertbox/pkg/logging"
	"alertbox/pkg/repository"
	"alertbox/pkg/testdb"
	"alertbox/pkg/upload"
)

const root = "/data/uploaded_files"

type fixture struct {
	svc *Service
	db  *gorm.DB
	fs  afero.Fs
	seq int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll(root, 0o755))
	logger := logging.Discard()
	store := filestore.New(mem, root, logger)
	repo := repository.New(db, store, logger)
	svc := NewService(db, repo, store, Options{OwnerID: testdb.OwnerID, MaxFiles: 3, TxTimeout: 5 * time.Second}, logger)
	return &fixture{svc: svc, db: db, fs: mem}
}

// stage writes n fake PDFs to the upload directory the way the intake stage does.
func (f *fixture) stage(t *testing.T, n int) []upload.StagedFile {
	t.Helper()
	out := make([]upload.StagedFile, 0, n)
	for i := 0; i < n; i++ {
		f.seq++
		name := fmt.Sprintf("files-1700000000000-%04d.pdf", f.seq)
		body := []byte(fmt.Sprintf("%%PDF-1.4 %d", f.seq))
		require.NoError(t, afero.WriteFile(f.fs, filepath.Join(root, name), body, 0o644))
		out = append(out, upload.StagedFile{
			FieldName:    "files",
			OriginalName: fmt.Sprintf("file%d.pdf", f.seq),
			Filename:     name,
			Path:         filepath.Join("uploaded_files", name),
			Size:         int64(len(body)),
			MimeType:     "application/pdf",
		})
	}
	return out
}

func (f *fixture) onDisk(t *testing.T, file models.File) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, filepath.Join(root, filepath.Base(file.Path)))
	require.NoError(t, err)
	return ok
}

func (f *fixture) fileRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.File{}).Count(&n).Error)
	return n
}

func (f *fixture) create(t *testing.T, files int) *models.Alert {
	t.Helper()
	a, err := f.svc.Create(context.Background(), CreateInput{Sender: "Jane", Age: "25", Files: f.stage(t, files)})
	require.NoError(t, err)
	return a
}

func requireStatus(t *testing.T, err error, status int, msg string) {
	t.Helper()
	e, ok := apperr.From(err)
	require.True(t, ok, "expected classified error, got %v", err)
	assert.Equal(t, status, e.Status)
	assert.Equal(t, msg, e.Message)
}

func ptr[T any](v T) *T { return &v }

func ids(files ...models.File) string {
	out := "["
	for i, f := range files {
		if i > 0 {
			out += ","
		}
		out += strconv.Quote(strconv.FormatUint(uint64(f.ID), 10))
	}
	return out + "]"
}

func TestCreateWithOneFile(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, 1)

	a, err := f.svc.Create(context.Background(), CreateInput{
		Sender:      "Jane",
		Age:         "25",
		Description: ptr("leaking roof"),
		Files:       staged,
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane", a.Sender)
	assert.Equal(t, 25, a.Age)
	assert.Equal(t, testdb.OwnerID, a.UserID)
	require.Len(t, a.Files, 1)
	assert.Equal(t, staged[0].OriginalName, a.Files[0].OriginalName)
	assert.Equal(t, staged[0].Size, a.Files[0].Size)
	assert.Equal(t, "application/pdf", a.Files[0].MimeType)
}

func TestCreateRoundTrip(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, 3)
	a, err := f.svc.Create(context.Background(), CreateInput{Sender: "Jane", Age: "25", Files: staged})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), strconv.FormatUint(uint64(a.ID), 10))
	require.NoError(t, err)
	require.Len(t, got.Files, 3)
	for i, file := range got.Files {
		assert.Equal(t, staged[i].OriginalName, file.OriginalName)
		assert.Equal(t, staged[i].Size, file.Size)
		assert.Equal(t, staged[i].MimeType, file.MimeType)
		assert.Equal(t, staged[i].Path, file.Path)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Sender: "Jane"})
	requireStatus(t, err, http.StatusBadRequest, "Sender and age are required")

	_, err = f.svc.Create(ctx, CreateInput{Age: "25"})
	requireStatus(t, err, http.StatusBadRequest, "Sender and age are required")

	for _, age := range []string{"0", "-3", "abc", "2.5"} {
		_, err = f.svc.Create(ctx, CreateInput{Sender: "Jane", Age: age})
		requireStatus(t, err, http.StatusBadRequest, "Age must be a positive integer")
	}

	_, err = f.svc.Create(ctx, CreateInput{Sender: "Jane", Age: "25", Files: f.stage(t, 4)})
	requireStatus(t, err, http.StatusBadRequest, "Cannot upload more than 3 files in total, already at limit")

	var n int64
	require.NoError(t, f.db.Model(&models.Alert{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestGetInvalidID(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"abc", "0", "-1", "1.5", ""} {
		_, err := f.svc.Get(context.Background(), raw)
		requireStatus(t, err, http.StatusBadRequest, "Invalid alert ID")
	}
}

func TestGetAndListNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "7")
	requireStatus(t, err, http.StatusNotFound, "Alert not found")

	_, err = f.svc.List(context.Background())
	requireStatus(t, err, http.StatusNotFound, "No alerts found for this user")

	f.create(t, 0)
	alerts, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestUpdateReplaceOneFileAtLimit(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 3)
	first := a.Files[0]

	updated, err := f.svc.Update(context.Background(), strconv.FormatUint(uint64(a.ID), 10), UpdateInput{
		DeleteFileIDs: ids(first),
		Files:         f.stage(t, 1),
	})
	require.NoError(t, err)
	require.Len(t, updated.Files, 3)
	for _, file := range updated.Files {
		assert.NotEqual(t, first.ID, file.ID)
	}
	assert.False(t, f.onDisk(t, first))
	assert.Equal(t, int64(3), f.fileRows(t))
}

func TestUpdateOverLimitRollsBack(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 3)

	_, err := f.svc.Update(context.Background(), strconv.FormatUint(uint64(a.ID), 10), UpdateInput{
		DeleteFileIDs: "[]",
		Files:         f.stage(t, 2),
	})
	requireStatus(t, err, http.StatusBadRequest, "Cannot upload more than 3 files in total, already at limit")
	assert.Equal(t, int64(3), f.fileRows(t))
	for _, file := range a.Files {
		assert.True(t, f.onDisk(t, file))
	}
}

func TestUpdateRollbackKeepsRowsButNotBytes(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 3)
	first := a.Files[0]

	// 3 - 1 + 3 > 3: the delete is rolled back, the unlink is not
	_, err := f.svc.Update(context.Background(), strconv.FormatUint(uint64(a.ID), 10), UpdateInput{
		DeleteFileIDs: ids(first),
		Files:         f.stage(t, 3),
	})
	requireStatus(t, err, http.StatusBadRequest, "Cannot upload more than 3 files in total, already at limit")

	got, err := f.svc.Get(context.Background(), strconv.FormatUint(uint64(a.ID), 10))
	require.NoError(t, err)
	assert.Len(t, got.Files, 3)
	assert.False(t, f.onDisk(t, first))
}

func TestUpdateIgnoresFilesOfOtherAlerts(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 3)
	other := f.create(t, 1)

	// the foreign id frees no quota: 3 - 0 + 1 > 3
	_, err := f.svc.Update(context.Background(), strconv.FormatUint(uint64(a.ID), 10), UpdateInput{
		DeleteFileIDs: ids(other.Files[0]),
		Files:         f.stage(t, 1),
	})
	requireStatus(t, err, http.StatusBadRequest, "Cannot upload more than 3 files in total, already at limit")
	assert.True(t, f.onDisk(t, other.Files[0]))

	updated, err := f.svc.Update(context.Background(), strconv.FormatUint(uint64(a.ID), 10), UpdateInput{
		DeleteFileIDs: ids(other.Files[0]),
	})
	require.NoError(t, err)
	assert.Len(t, updated.Files, 3)

	got, err := f.svc.Get(context.Background(), strconv.FormatUint(uint64(other.ID), 10))
	require.NoError(t, err)
	assert.Len(t, got.Files, 1)
}

func TestUpdatePartialFields(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Create(context.Background(), CreateInput{Sender: "Jane", Age: "25", Description: ptr("first")})
	require.NoError(t, err)
	id := strconv.FormatUint(uint64(a.ID), 10)

	updated, err := f.svc.Update(context.Background(), id, UpdateInput{Age: ptr("26")})
	require.NoError(t, err)
	assert.Equal(t, "Jane", updated.Sender)
	assert.Equal(t, 26, updated.Age)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "first", *updated.Description)

	updated, err = f.svc.Update(context.Background(), id, UpdateInput{Sender: ptr("John"), Description: ptr("second")})
	require.NoError(t, err)
	assert.Equal(t, "John", updated.Sender)
	assert.Equal(t, 26, updated.Age)
	assert.Equal(t, "second", *updated.Description)
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 1)
	id := strconv.FormatUint(uint64(a.ID), 10)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, "abc", UpdateInput{})
	requireStatus(t, err, http.StatusBadRequest, "Invalid alert ID")

	_, err = f.svc.Update(ctx, id, UpdateInput{Age: ptr("0")})
	requireStatus(t, err, http.StatusBadRequest, "Age must be a positive integer")

	_, err = f.svc.Update(ctx, id, UpdateInput{Sender: ptr("")})
	requireStatus(t, err, http.StatusBadRequest, "Sender cannot be empty")

	_, err = f.svc.Update(ctx, id, UpdateInput{DeleteFileIDs: `{"id":1}`})
	requireStatus(t, err, http.StatusBadRequest, "deleteFileIds must be an array")

	_, err = f.svc.Update(ctx, id, UpdateInput{DeleteFileIDs: `["1","x"]`})
	requireStatus(t, err, http.StatusBadRequest, `Invalid file ID: "x" is not a positive integer`)

	_, err = f.svc.Update(ctx, "999", UpdateInput{Files: f.stage(t, 1)})
	requireStatus(t, err, http.StatusNotFound, "Alert not found")

	assert.Equal(t, int64(1), f.fileRows(t))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 2)
	id := strconv.FormatUint(uint64(a.ID), 10)

	require.NoError(t, f.svc.Delete(context.Background(), id))
	for _, file := range a.Files {
		assert.False(t, f.onDisk(t, file))
	}
	assert.Zero(t, f.fileRows(t))

	err := f.svc.Delete(context.Background(), id)
	requireStatus(t, err, http.StatusNotFound, "Alert not found")
}

func TestDeleteToleratesMissingBytes(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 2)
	require.NoError(t, f.fs.Remove(filepath.Join(root, filepath.Base(a.Files[0].Path))))

	require.NoError(t, f.svc.Delete(context.Background(), strconv.FormatUint(uint64(a.ID), 10)))
	assert.False(t, f.onDisk(t, a.Files[1]))
}

func TestDeleteInvalidID(t *testing.T) {
	f := newFixture(t)
	requireStatus(t, f.svc.Delete(context.Background(), "abc"), http.StatusBadRequest, "Invalid alert ID")
	requireStatus(t, f.svc.Delete(context.Background(), "12345"), http.StatusNotFound, "Alert not found")
}

func TestNewServiceDefaults(t *testing.T) {
	s := NewService(nil, nil, nil, Options{}, logging.Discard())
	assert.Equal(t, uint(1), s.opts.OwnerID)
	assert.Equal(t, upload.DefaultMaxFiles, s.opts.MaxFiles)
	assert.Equal(t, defaultTxTimeout, s.opts.TxTimeout)
}
