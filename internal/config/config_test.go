package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Tiers, 5)
	assert.True(t, cfg.Rake.Equal(decimal.RequireFromString("0.10")))
	assert.Empty(t, cfg.BotBias, "bias must stay off unless configured")
	assert.True(t, cfg.BotEligible(decimal.RequireFromString("0.1")))
	assert.False(t, cfg.BotEligible(decimal.RequireFromString("1")))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIERS", "0.1, 2")
	t.Setenv("FILL_TIMEOUT", "90s")
	t.Setenv("BOT_BIAS", "2:0.1,4:0.25")
	t.Setenv("STORE_MODE", "SQLite")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Tiers, 2)
	assert.True(t, cfg.IsTier(decimal.RequireFromString("2")))
	assert.False(t, cfg.IsTier(decimal.RequireFromString("0.3")))
	assert.Equal(t, 90*time.Second, cfg.FillTimeout)
	assert.Equal(t, map[int]float64{2: 0.1, 4: 0.25}, cfg.BotBias)
	assert.Equal(t, "sqlite", cfg.StoreMode)
}

func TestValidateRejectsLeakySplit(t *testing.T) {
	t.Setenv("TOP3_SPLIT", "0.70,0.10,0.05")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum")
}

func TestValidateRejectsBotFillAfterTimeout(t *testing.T) {
	t.Setenv("BOT_FILL_DELAY", "2m")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsPlaybackPastDeadline(t *testing.T) {
	cfg := Default()
	cfg.SimPlaybackTick = time.Millisecond
	cfg.RoundDeadline = 100 * time.Millisecond
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round deadline")

	cfg.RoundDeadline = 4 * time.Second
	assert.NoError(t, cfg.Validate())
}

func TestParseBiasErrors(t *testing.T) {
	_, err := ParseBias("4")
	assert.Error(t, err)
	_, err = ParseBias("4:1.5")
	assert.Error(t, err)
	m, err := ParseBias("")
	require.NoError(t, err)
	assert.Empty(t, m)
}
