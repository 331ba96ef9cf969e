package config

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8008", cfg.HTTPAddress)
	assert.Equal(t, "journey_assembler.db", cfg.DatabasePath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 60*24*time.Hour, cfg.B2CBoundary)
	assert.Equal(t, 90*24*time.Hour, cfg.B2BBoundary)
	assert.InDelta(t, 0.60, cfg.MinConfidence, 1e-9)
	assert.Equal(t, 2, cfg.ProbabilisticMinSignals)
	assert.Equal(t, time.UTC, cfg.BusinessLocation)
	assert.Equal(t, 100, cfg.BackupEveryTouchpoints)
	assert.Nil(t, cfg.Patterns)
	assert.Error(t, cfg.RequireSigningSecret())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JOURNEYS_AUTH_SIGNING_SECRET", "secret")
	t.Setenv("JOURNEYS_ASSEMBLY_B2C_BOUNDARY_DAYS", "30")
	t.Setenv("JOURNEYS_RESOLUTION_BUSINESS_TIMEZONE", "Europe/Amsterdam")
	t.Setenv("JOURNEYS_ASSEMBLY_PATTERNS", "events,google_ads linkedin_ads,events")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireSigningSecret())
	assert.Equal(t, 30*24*time.Hour, cfg.B2CBoundary)
	assert.Equal(t, "Europe/Amsterdam", cfg.BusinessLocation.String())
	assert.Equal(t, []journeys.Pattern{
		{First: touchpoint.ChannelEvents, Second: touchpoint.ChannelGoogleAds},
		{First: touchpoint.ChannelLinkedInAds, Second: touchpoint.ChannelEvents},
	}, cfg.Patterns)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
	}{
		{name: "threshold-above-one", key: "resolution.min_confidence", value: 1.5},
		{name: "zero-signals", key: "resolution.probabilistic_min_signals", value: 0},
		{name: "negative-boundary", key: "assembly.b2b_boundary_days", value: -1},
		{name: "unknown-timezone", key: "resolution.business_timezone", value: "Mars/Olympus"},
		{name: "unknown-pattern-channel", key: "assembly.patterns", value: []string{"events,billboards"}},
		{name: "empty-database-path", key: "database.path", value: " "},
		{name: "unknown-log-format", key: "log.format", value: "xml"},
		{name: "zero-backup-interval", key: "backup.every_touchpoints", value: 0},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			_, err := Load(configViper)
			assert.Error(t, err)
		})
	}
}
