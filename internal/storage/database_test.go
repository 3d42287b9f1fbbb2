package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	cases := map[string]string{
		"postgres://gw:pw@localhost:5432/gateway":         DialectPostgres,
		"postgresql://localhost/gateway":                  DialectPostgres,
		"host=localhost user=gw dbname=gateway port=5432": DialectPostgres,
		"gateway.db":                                      DialectSQLite,
		"file::memory:?cache=shared":                      DialectSQLite,
	}
	for dsn, want := range cases {
		assert.Equal(t, want, DialectFor(dsn), dsn)
	}
}

func TestOpenDatabase_SQLiteMigrates(t *testing.T) {
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "gateway.db"), false)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DialectSQLite, db.Dialect)
	require.NoError(t, db.AutoMigrate())
	require.NoError(t, db.Ping(context.Background()))

	user := models.User{Email: "a@example.com", PasswordHash: "x"}
	require.NoError(t, db.DB.Create(&user).Error)
	assert.NotEmpty(t, user.ID)

	var count int64
	require.NoError(t, db.DB.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
