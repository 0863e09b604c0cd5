// Package alerts runs the create, update and delete flows for alerts, each as a
// single database transaction around the repository and the file store.
package alerts

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"alertbox/models"
	"alertbox/pkg/apperr"
	"alertbox/pkg/metrics"
	"alertbox/pkg/repository"
	"alertbox/pkg/upload"
	"alertbox/pkg/validate"
)

const defaultTxTimeout = 30 * time.Second

// Purger removes the bytes of file rows that were already deleted.
type Purger interface {
	Purge(files []models.File) error
}

// Options configures a Service.
type Options struct {
	OwnerID   uint
	MaxFiles  int
	TxTimeout time.Duration
}

// Service is the alert transaction orchestrator.
type Service struct {
	db    *gorm.DB
	repo  *repository.Repository
	files Purger
	opts  Options
	log   *log.Logger
}

// NewService wires a Service. Zero options fall back to owner 1, three files
// and a 30 second transaction timeout.
func NewService(db *gorm.DB, repo *repository.Repository, files Purger, opts Options, logger *log.Logger) *Service {
	if opts.OwnerID == 0 {
		opts.OwnerID = 1
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = upload.DefaultMaxFiles
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = defaultTxTimeout
	}
	return &Service{db: db, repo: repo, files: files, opts: opts, log: logger}
}

// CreateInput is the raw form of a create request plus its staged files.
type CreateInput struct {
	Sender      string
	Age         string
	Description *string
	Files       []upload.StagedFile
}

// UpdateInput is the raw form of an update request. Nil fields are left as they are.
type UpdateInput struct {
	Sender        *string
	Age           *string
	Description   *string
	DeleteFileIDs string
	Files         []upload.StagedFile
}

// List returns every alert of the owner.
func (s *Service) List(ctx context.Context) ([]models.Alert, error) {
	return s.repo.ListAlerts(ctx, nil, s.opts.OwnerID)
}

// Get returns one alert by its raw path id.
func (s *Service) Get(ctx context.Context, rawID string) (*models.Alert, error) {
	id, err := validate.ParseAlertID(rawID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetAlert(ctx, nil, id, s.opts.OwnerID)
}

// Create validates the input and inserts the alert with a row per staged file.
// Staged bytes are not part of the transaction; the caller removes them when
// Create fails.
func (s *Service) Create(ctx context.Context, in CreateInput) (alert *models.Alert, err error) {
	defer func() { metrics.ObserveOperation("create", err) }()

	if err := validate.RequireSenderAndAge(in.Sender, in.Age); err != nil {
		return nil, err
	}
	age, err := validate.ParseAge(in.Age)
	if err != nil {
		return nil, err
	}
	if len(in.Files) > s.opts.MaxFiles {
		return nil, validate.CheckFileCountLimit(0, len(in.Files), 0, s.opts.MaxFiles)
	}

	err = s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		created, err := s.repo.CreateAlert(ctx, tx, repository.NewAlert{
			Sender:      in.Sender,
			Age:         age,
			Description: in.Description,
		}, in.Files, s.opts.OwnerID)
		if err != nil {
			return err
		}
		alert, err = s.repo.GetAlert(ctx, tx, created.ID, s.opts.OwnerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("alert created", "id", alert.ID, "files", len(alert.Files))
	return alert, nil
}

// Update applies a partial update. Inside one transaction it loads the alert,
// deletes the requested files, enforces the file count limit against the rows
// actually deleted, inserts the staged files and writes the scalar fields.
//
// Bytes of deleted files are unlinked before commit and are not restored when a
// later step rolls the transaction back.
func (s *Service) Update(ctx context.Context, rawID string, in UpdateInput) (alert *models.Alert, err error) {
	defer func() { metrics.ObserveOperation("update", err) }()

	id, err := validate.ParseAlertID(rawID)
	if err != nil {
		return nil, err
	}
	patch, err := s.patch(in)
	if err != nil {
		return nil, err
	}
	deleteIDs, err := validate.ParseDeleteFileIDs(in.DeleteFileIDs)
	if err != nil {
		return nil, err
	}
	s.log.Debug("updating alert", "id", id, "fields", !patch.Empty(), "delete", len(deleteIDs), "add", len(in.Files))

	err = s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		original, err := s.repo.GetAlert(ctx, tx, id, s.opts.OwnerID)
		if err != nil {
			return err
		}
		deleted, err := s.repo.DeleteFilesByIDs(ctx, tx, deleteIDs, original)
		if err != nil {
			return err
		}
		if err := validate.CheckFileCountLimit(int(deleted), len(in.Files), len(original.Files), s.opts.MaxFiles); err != nil {
			return err
		}
		if _, err := s.repo.CreateFiles(ctx, tx, in.Files, original.ID); err != nil {
			return err
		}
		if err := s.repo.UpdateAlert(ctx, tx, original, patch); err != nil {
			return err
		}
		alert, err = s.repo.GetAlert(ctx, tx, original.ID, s.opts.OwnerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("alert updated", "id", alert.ID, "files", len(alert.Files))
	return alert, nil
}

// Delete removes the alert and its file rows in one transaction, then unlinks
// the bytes. Bytes that are already gone are not an error; any other unlink
// failure is reported after the rows are gone and leaves an orphan behind.
func (s *Service) Delete(ctx context.Context, rawID string) (err error) {
	defer func() { metrics.ObserveOperation("delete", err) }()

	id, err := validate.ParseAlertID(rawID)
	if err != nil {
		return err
	}

	var deleted *models.Alert
	err = s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		deleted, err = s.repo.DeleteAlertByID(ctx, tx, id, s.opts.OwnerID)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.files.Purge(deleted.Files); err != nil {
		return apperr.Storage("Failed to delete files", err)
	}
	s.log.Info("alert deleted", "id", id, "files", len(deleted.Files))
	return nil
}

func (s *Service) patch(in UpdateInput) (repository.Patch, error) {
	var p repository.Patch
	if in.Sender != nil {
		if err := validate.RequireSender(*in.Sender); err != nil {
			return p, err
		}
		p.Sender = in.Sender
	}
	if in.Age != nil {
		age, err := validate.ParseAge(*in.Age)
		if err != nil {
			return p, err
		}
		p.Age = &age
	}
	p.Description = in.Description
	return p, nil
}

// inTx runs fn in a transaction bounded by the configured timeout. Any error
// returned by fn rolls the transaction back.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
	defer cancel()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}
