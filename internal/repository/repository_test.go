package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *storage.Database {
	t.Helper()

	db, err := storage.OpenDatabase(filepath.Join(t.TempDir(), "repo.db"), false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(openTestDB(t))

	key := &models.APIKey{KeyHash: "hash-1", Name: "ci", Tier: "premium", IsActive: true}
	require.NoError(t, repo.Create(ctx, key))
	require.NoError(t, repo.Create(ctx, &models.APIKey{KeyHash: "hash-2", Name: "bot", Tier: "premium", IsActive: true}))

	found, err := repo.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, key.ID, found.ID)

	missing, err := repo.FindByHash(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	counts, err := repo.CountByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["premium"])

	require.NoError(t, repo.Update(ctx, key.ID.String(), map[string]interface{}{"is_active": false}))
	inactive, err := repo.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Nil(t, inactive)

	require.NoError(t, repo.UpdateLastUsed(ctx, key.ID))
	byID, err := repo.FindByID(ctx, key.ID.String())
	require.NoError(t, err)
	require.NotNil(t, byID.LastUsedAt)

	require.NoError(t, repo.Delete(ctx, key.ID.String()))
	keys, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	user := &models.User{Email: "vendor@example.com", PasswordHash: "x", Role: models.RoleVendor}
	require.NoError(t, repo.Create(ctx, user))

	found, err := repo.FindByEmail(ctx, "vendor@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.RoleVendor, found.Role)

	byID, err := repo.FindByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, user.Email, byID.Email)

	none, err := repo.FindByEmail(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, none)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAdmissionLogRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAdmissionLogRepository(openTestDB(t))
	now := time.Now().UTC()

	logs := []models.AdmissionLog{
		{Timestamp: now.Add(-10 * 24 * time.Hour), Verdict: "allowed", Path: "/old"},
		{Timestamp: now.Add(-time.Minute), Verdict: "allowed", Path: "/orders"},
		{Timestamp: now.Add(-time.Minute), Verdict: "denied", Path: "/orders"},
		{Timestamp: now, Verdict: "denied", Path: "/orders"},
	}
	require.NoError(t, repo.CreateBatch(ctx, logs))
	require.NoError(t, repo.CreateBatch(ctx, nil))

	counts, err := repo.CountByVerdict(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["allowed"])
	assert.Equal(t, int64(2), counts["denied"])

	recent, err := repo.FindByTimeRange(ctx, now.Add(-time.Hour), now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
