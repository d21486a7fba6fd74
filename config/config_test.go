package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdminIDs(t *testing.T) {
	ids, err := ParseAdminIDs(" 1, 22 ,,333")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 22, 333}, ids)

	ids, err = ParseAdminIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseAdminIDs("1,abc")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &AppConfig{SubscriptionDays: 30, ExpirySweepInterval: time.Hour}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "BOT_TOKEN")
	assert.Contains(t, err.Error(), "BASE_SUB_URL")

	cfg.DatabaseURL = "postgres://x"
	cfg.BotToken = "t"
	cfg.BaseSubURL = "https://example.com/sub"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.XUI.Concurrency)
}

func TestIsAdmin(t *testing.T) {
	cfg := &AppConfig{AdminTgIDs: []int64{10, 20}}
	assert.True(t, cfg.IsAdmin(20))
	assert.False(t, cfg.IsAdmin(30))
}
