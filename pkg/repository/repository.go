// Package repository persists alerts and their file rows with gorm.
//
// Every method takes the unit of work explicitly: pass the *gorm.DB handed to a
// Transaction callback to compose calls atomically, or nil to run directly
// against the store (simple reads only).
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"alertbox/models"
	"alertbox/pkg/apperr"
	"alertbox/pkg/upload"
)

// FileRemover unlinks attachment bytes.
type FileRemover interface {
	RemoveFiles(files []models.File) error
}

// Repository is the alert/file store.
type Repository struct {
	db    *gorm.DB
	files FileRemover
	log   *log.Logger
}

// New returns a Repository over db that unlinks bytes through files.
func New(db *gorm.DB, files FileRemover, logger *log.Logger) *Repository {
	return &Repository{db: db, files: files, log: logger}
}

// NewAlert carries the validated fields of an alert to create.
type NewAlert struct {
	Sender      string
	Age         int
	Description *string
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func preloadFiles(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

// ListAlerts returns every alert of the owner with its files. No rows is a 404.
func (r *Repository) ListAlerts(ctx context.Context, tx *gorm.DB, ownerID uint) ([]models.Alert, error) {
	var alerts []models.Alert
	err := r.conn(ctx, tx).
		Preload("Files", preloadFiles).
		Where("user_id = ?", ownerID).
		Order("id").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, apperr.NotFound("No alerts found for this user")
	}
	return alerts, nil
}

// GetAlert loads one alert with its files, scoped by owner.
func (r *Repository) GetAlert(ctx context.Context, tx *gorm.DB, id, ownerID uint) (*models.Alert, error) {
	var alert models.Alert
	err := r.conn(ctx, tx).
		Preload("Files", preloadFiles).
		Where("user_id = ? AND id = ?", ownerID, id).
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Alert not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %d: %w", id, err)
	}
	return &alert, nil
}

// CreateAlert inserts the alert row and one file row per staged file.
func (r *Repository) CreateAlert(ctx context.Context, tx *gorm.DB, in NewAlert, staged []upload.StagedFile, ownerID uint) (*models.Alert, error) {
	alert := models.Alert{
		Sender:      in.Sender,
		Age:         in.Age,
		Description: in.Description,
		UserID:      ownerID,
	}
	if err := r.conn(ctx, tx).Omit("User", "Files").Create(&alert).Error; err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	files, err := r.CreateFiles(ctx, tx, staged, alert.ID)
	if err != nil {
		return nil, err
	}
	alert.Files = files
	return &alert, nil
}

// CreateFiles inserts rows for files already staged on disk. Empty input is a no-op.
func (r *Repository) CreateFiles(ctx context.Context, tx *gorm.DB, staged []upload.StagedFile, alertID uint) ([]models.File, error) {
	files := FileRows(staged, alertID)
	if len(files) == 0 {
		return files, nil
	}
	if err := r.conn(ctx, tx).Create(&files).Error; err != nil {
		return nil, fmt.Errorf("create files for alert %d: %w", alertID, err)
	}
	return files, nil
}

// FileRows maps staged files to unsaved rows owned by alertID.
func FileRows(staged []upload.StagedFile, alertID uint) []models.File {
	files := make([]models.File, 0, len(staged))
	for _, s := range staged {
		files = append(files, models.File{
			Path:         s.Path,
			OriginalName: s.OriginalName,
			Size:         s.Size,
			MimeType:     s.MimeType,
			AlertID:      alertID,
		})
	}
	return files
}

// DeleteFilesByIDs deletes the alert's file rows whose id is in ids, then
// unlinks the bytes of exactly those of alert.Files. Ids owned by other alerts
// match nothing. Returns the number of rows actually deleted.
func (r *Repository) DeleteFilesByIDs(ctx context.Context, tx *gorm.DB, ids []uint, alert *models.Alert) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.conn(ctx, tx).
		Where("alert_id = ? AND id IN ?", alert.ID, ids).
		Delete(&models.File{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete files of alert %d: %w", alert.ID, res.Error)
	}

	if err := r.files.RemoveFiles(SelectFiles(alert.Files, ids)); err != nil {
		r.log.Error("failed to delete files of alert", "alert", alert.ID, "err", err)
		return 0, apperr.Storage("Failed to delete files", err)
	}
	return res.RowsAffected, nil
}

// SelectFiles returns the files whose id is in ids, keeping files' order.
func SelectFiles(files []models.File, ids []uint) []models.File {
	want := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.File
	for _, f := range files {
		if _, ok := want[f.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}

// UpdateAlert writes the merged scalar fields of the alert, scoped by owner.
func (r *Repository) UpdateAlert(ctx context.Context, tx *gorm.DB, original *models.Alert, patch Patch) error {
	merged := patch.Apply(*original)
	res := r.conn(ctx, tx).
		Model(&models.Alert{}).
		Where("user_id = ? AND id = ?", original.UserID, original.ID).
		Updates(map[string]any{
			"sender":      merged.Sender,
			"age":         merged.Age,
			"description": merged.Description,
		})
	if res.Error != nil {
		return fmt.Errorf("update alert %d: %w", original.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Alert not found")
	}
	return nil
}

// DeleteAlertByID deletes the alert row and its file rows and returns the
// deleted alert with its files, so the caller can unlink the bytes once the
// unit of work commits.
func (r *Repository) DeleteAlertByID(ctx context.Context, tx *gorm.DB, id, ownerID uint) (*models.Alert, error) {
	alert, err := r.GetAlert(ctx, tx, id, ownerID)
	if err != nil {
		return nil, err
	}
	db := r.conn(ctx, tx)
	if err := db.Where("alert_id = ?", alert.ID).Delete(&models.File{}).Error; err != nil {
		return nil, fmt.Errorf("delete files of alert %d: %w", alert.ID, err)
	}
	res := db.Where("user_id = ? AND id = ?", ownerID, id).Delete(&models.Alert{})
	if res.Error != nil {
		return nil, fmt.Errorf("delete alert %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("Alert not found")
	}
	return alert, nil
}
