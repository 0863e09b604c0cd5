// Package testdb opens throwaway in-memory SQLite databases for tests.
package testdb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"alertbox/models"
)

// OwnerID is the id of the user seeded by Open.
const OwnerID uint = 1

// Open returns a migrated in-memory database with one seeded owner. The pool is
// limited to a single connection so every handle sees the same database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	require.NoError(t, db.Create(&models.User{ID: OwnerID, Username: "default_user"}).Error)
	return db
}
