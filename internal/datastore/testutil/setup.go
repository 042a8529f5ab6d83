package testutil

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/logger"
)

// NewStore returns a migrated store backed by a SQLite file in a temporary
// directory. The store is closed when the test ends.
func NewStore(t testing.TB) datastore.Store {
	t.Helper()

	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	path := filepath.Join(t.TempDir(), "battycoda_test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=ON"), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, time.Second),
	})
	require.NoError(t, err, "failed to open test database")

	// A single connection keeps transactions and plain reads serialized.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, datastore.Migrate(db), "failed to migrate test database")

	store := datastore.New(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
