package gatekeeper

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

// newTestLogger returns a JSON logger writing to w
func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newTestDB creates a migrated sqlite database in a temp dir
func newTestDB(t testing.TB) (*gorm.DB, DBI) {
	t.Helper()
	db, err := CreateDB(context.Background(), dbTypeSQLite, filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db, NewDatabase(db, nil, false)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "éé", truncate("ééé", 2))
	assert.Equal(t, "", truncate("abc", 0))
}

func TestHashPassword(t *testing.T) {
	t.Parallel()
	hash, err := hashPassword("Tr4ding!Pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	assert.NotContains(t, hash, "Tr4ding!Pass")

	ok, err := verifyPassword(hash, "Tr4ding!Pass")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := hashPassword("Tr4ding!Pass")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "hashes should be salted")

	_, err = verifyPassword("not-a-hash", "x")
	assert.Error(t, err)
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	s, err := generateRandomHexString(31)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	other, err := generateRandomHexString(31)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()
	key := derive64ByteKey("session-secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("session-secret"))
	assert.NotEqual(t, key, derive64ByteKey("other-secret"))
}

func TestStructToSlogValueRedacts(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "discord-token-value"
	cfg.Provisioning.Secret = "provisioning-secret-value"
	cfg.Store.Secret = "store-secret-value"

	var buf strings.Builder
	newTestLogger(&buf).Info("config", "config", cfg)

	out := buf.String()
	assert.NotContains(t, out, "discord-token-value")
	assert.NotContains(t, out, "provisioning-secret-value")
	assert.NotContains(t, out, "store-secret-value")
	assert.Contains(t, out, "[redacted]")
	assert.Contains(t, out, DefaultDatabase)
}

func TestDiscordUserLogAttrsNil(t *testing.T) {
	t.Parallel()
	assert.NotPanics(
		t, func() {
			_ = discordUserLogAttrs(nil)
		},
	)
}
