package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/example/busticket/internal/models"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "root@/auth", logger.Silent)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMigrateCreatesAuthTables(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "auth.db") + "?_pragma=foreign_keys(1)"
	conn, err := Open("sqlite", dsn, logger.Silent)
	require.NoError(t, err)
	require.NoError(t, Migrate(conn))
	require.NoError(t, Ping(context.Background(), conn))

	for _, table := range []interface{}{&models.User{}, &models.Session{}, &models.OTPCode{}} {
		assert.True(t, conn.Migrator().HasTable(table))
	}
	assert.True(t, conn.Migrator().HasTable("otp_codes"))
}

func TestEnsureDatabaseSkipsNonURLDSN(t *testing.T) {
	assert.NoError(t, ensureDatabase("host=localhost user=postgres dbname=busticket"))
	assert.NoError(t, ensureDatabase("postgres://localhost:5432/"))
}
