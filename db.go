package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"alertbox/models"
)

const defaultUsername = "default_user"

// openDB connects to Postgres.
func openDB(cfg *Config) (*gorm.DB, error) {
	if err := cfg.requireDSN(); err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres database: %w", err)
	}
	return db, nil
}

// setupDB migrates the schema when asked to, seeds the owning user and makes
// sure the upload directory exists.
func setupDB(db *gorm.DB, fsys afero.Fs, cfg *Config, migrate bool, logger *log.Logger) error {
	if migrate {
		if err := models.Migrate(db); err != nil {
			errs, ok := models.MigrationErrors(err)
			if !ok {
				return err
			}
			// permission problems on an already provisioned schema should not block startup
			for _, merr := range errs {
				logger.Warn("migration warning", "table", merr.Table, "err", merr.Err)
			}
		}
	}
	if err := seedDefaultUser(db, uint(cfg.DefaultUserID), logger); err != nil {
		return err
	}
	if err := ensureUploadDir(fsys, cfg.UploadDirectory); err != nil {
		return err
	}
	logger.Info("upload directory ready", "dir", cfg.UploadDirectory)
	return nil
}

// seedDefaultUser creates the owning user if it does not exist yet.
func seedDefaultUser(db *gorm.DB, id uint, logger *log.Logger) error {
	var count int64
	if err := db.Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("look up default user: %w", err)
	}
	if count > 0 {
		return nil
	}
	user := models.User{ID: id, Username: defaultUsername}
	if err := db.Create(&user).Error; err != nil {
		return fmt.Errorf("seed default user: %w", err)
	}
	logger.Info("seeded default user", "id", id, "username", defaultUsername)
	return nil
}

func ensureUploadDir(fsys afero.Fs, dir string) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return nil
}
