// Package upload stages multipart file parts into the upload directory before
// any business logic runs, and removes them again when that logic aborts.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"alertbox/pkg/apperr"
	"alertbox/pkg/metrics"
)

const (
	// DefaultMaxFileSize is 5 MiB.
	DefaultMaxFileSize = 5 << 20
	DefaultMaxFiles    = 3
	DefaultFieldName   = "files"

	// sniffLen matches the read limit mimetype uses for detection.
	sniffLen = 3072
	// formOverhead is the slack allowed for non-file fields and part headers.
	formOverhead = 1 << 20
)

// Config is fixed per deployment.
type Config struct {
	Dir          string
	MaxFileSize  int64
	MaxFiles     int
	AllowedTypes []string
	// VerifyContent additionally requires the sniffed content type to be allowed.
	VerifyContent bool
	FieldName     string
}

// StagedFile is a part written to the upload directory but not yet committed
// as a File row.
type StagedFile struct {
	FieldName    string
	OriginalName string
	Filename     string
	Path         string
	Size         int64
	MimeType     string
}

// Batch is the result of intake: plain form values plus staged files.
type Batch struct {
	Values map[string][]string
	Files  []StagedFile
}

// Value returns the first value of a form field and whether it was sent.
func (b *Batch) Value(key string) (string, bool) {
	if b == nil {
		return "", false
	}
	v, ok := b.Values[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// Stage writes incoming parts under generated unique names.
type Stage struct {
	fs  afero.Fs
	cfg Config
	log *log.Logger
	now func() time.Time
}

// NewStage applies defaults to cfg and returns a Stage writing through fsys.
func NewStage(fsys afero.Fs, cfg Config, logger *log.Logger) *Stage {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if cfg.FieldName == "" {
		cfg.FieldName = DefaultFieldName
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = []string{"application/pdf"}
	}
	normalized := make([]string, 0, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}
	cfg.AllowedTypes = normalized
	return &Stage{fs: fsys, cfg: cfg, log: logger, now: time.Now}
}

// Config returns the effective configuration.
func (s *Stage) Config() Config { return s.cfg }

// EnsureDir creates the upload directory if it is missing.
func (s *Stage) EnsureDir() error {
	return s.fs.MkdirAll(s.cfg.Dir, 0o755)
}

// Intake parses the request body and stages every file part. Limits and the
// MIME allow-list are checked for all parts before anything is written; if a
// write fails midway, parts already written are removed.
func (s *Stage) Intake(r *http.Request) (*Batch, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxBodyBytes())

	err := r.ParseMultipartForm(32 << 20)
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			return nil, apperr.Validation("Malformed form body")
		}
		return &Batch{Values: r.PostForm}, nil
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("File too large")
		}
		return nil, apperr.Validation("Malformed multipart body")
	}
	form := r.MultipartForm
	defer func() {
		if err := form.RemoveAll(); err != nil {
			s.log.Warn("failed to remove multipart temp files", "err", err)
		}
	}()

	headers, err := s.checkParts(form)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Values: form.Value, Files: make([]StagedFile, 0, len(headers))}
	for _, fh := range headers {
		staged, err := s.write(fh)
		if err != nil {
			s.Cleanup(batch.Files)
			return nil, err
		}
		batch.Files = append(batch.Files, staged)
	}
	metrics.FilesStagedTotal.Add(float64(len(batch.Files)))
	return batch, nil
}

func (s *Stage) checkParts(form *multipart.Form) ([]*multipart.FileHeader, error) {
	for field, fhs := range form.File {
		if field != s.cfg.FieldName && len(fhs) > 0 {
			return nil, apperr.Validation("Unexpected field")
		}
	}
	headers := form.File[s.cfg.FieldName]
	if len(headers) > s.cfg.MaxFiles {
		return nil, apperr.Validation("Too many files")
	}
	for _, fh := range headers {
		if fh.Size > s.cfg.MaxFileSize {
			return nil, apperr.Validation("File too large")
		}
		declared := fh.Header.Get("Content-Type")
		if !s.allowed(mediaType(declared)) {
			return nil, apperr.Validationf("Invalid file type: %s. Allowed types are: %s",
				declared, strings.Join(s.cfg.AllowedTypes, ","))
		}
	}
	return headers, nil
}

func (s *Stage) write(fh *multipart.FileHeader) (StagedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return StagedFile{}, apperr.Storage("Failed to read uploaded file", err)
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return StagedFile{}, apperr.Storage("Failed to read uploaded file", err)
	}
	head = head[:n]
	if s.cfg.VerifyContent {
		detected := mimetype.Detect(head)
		if !s.allowedDetected(detected) {
			return StagedFile{}, apperr.Validationf("Invalid file content: %s detected in %s. Allowed types are: %s",
				detected.String(), fh.Filename, strings.Join(s.cfg.AllowedTypes, ","))
		}
	}

	name := s.filename(fh.Filename)
	dst := filepath.Join(s.cfg.Dir, name)
	out, err := s.fs.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return StagedFile{}, apperr.Storage("Failed to store uploaded file", err)
	}
	written, err := io.Copy(out, io.MultiReader(bytes.NewReader(head), src))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(dst)
		return StagedFile{}, apperr.Storage("Failed to store uploaded file", err)
	}
	if written > s.cfg.MaxFileSize {
		_ = s.fs.Remove(dst)
		return StagedFile{}, apperr.Validation("File too large")
	}

	return StagedFile{
		FieldName:    s.cfg.FieldName,
		OriginalName: fh.Filename,
		Filename:     name,
		Path:         dst,
		Size:         written,
		MimeType:     mediaType(fh.Header.Get("Content-Type")),
	}, nil
}

// Cleanup removes staged files concurrently. Failures are logged and counted,
// never returned: it runs on paths that already carry an error.
func (s *Stage) Cleanup(files []StagedFile) {
	if len(files) == 0 {
		return
	}
	var g errgroup.Group
	for _, f := range files {
		g.Go(func() error {
			if err := s.fs.Remove(f.Path); err != nil {
				metrics.CleanupFailuresTotal.Inc()
				s.log.Warn("error during file cleanup", "path", f.Path, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.log.Info("cleaned up uploaded files after failed request", "count", len(files))
}

// filename builds <field>-<unix millis>-<random><ext>.
func (s *Stage) filename(original string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%d-%s%s", s.cfg.FieldName, s.now().UnixMilli(), suffix, ext)
}

func (s *Stage) allowed(mediaType string) bool {
	for _, t := range s.cfg.AllowedTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

func (s *Stage) allowedDetected(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		for _, t := range s.cfg.AllowedTypes {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

func (s *Stage) maxBodyBytes() int64 {
	return s.cfg.MaxFileSize*int64(s.cfg.MaxFiles+1) + formOverhead
}

// mediaType lowercases a Content-Type value and drops its parameters.
func mediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}
