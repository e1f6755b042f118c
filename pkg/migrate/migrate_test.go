package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, ValidateDir("migrations"))
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	path, err := createSQLMigrationAt(dir, "Add Listing Tags!", now)
	require.NoError(t, err)
	assert.Equal(t, "20260301090000_add_listing_tags.sql", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "-- rollback add_listing_tags")
	require.NoError(t, ValidateDir(dir))

	_, err = createSQLMigrationAt(dir, "add listing tags", now)
	assert.Error(t, err, "same version and name must not be overwritten")
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	_, err := CreateSQLMigration(t.TempDir(), " !! ")
	assert.Error(t, err)
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	assert.Error(t, ValidateDir(dir))

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_one.sql"), []byte("-- +goose Up\n"), 0o644))
	err := ValidateDir(dir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "goose Down"))
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("20260301090500")
	require.NoError(t, err)
	assert.Equal(t, int64(20260301090500), v)

	_, err = parseVersion("")
	assert.Error(t, err)
	_, err = parseVersion("latest")
	assert.Error(t, err)
}
