package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/quarry-ai/quarry/internal/database"
)

// OpenTestDB opens a migrated catalog database in a per-test temp
// directory. The handle is closed automatically when the test ends.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "quarry.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}
