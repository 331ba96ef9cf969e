package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/journeys/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTouchpointsAcceptsArrayAndEnvelope(t *testing.T) {
	array, err := decodeTouchpoints([]byte(`[{"touchpoint_id":"A","channel":"events","timestamp":"2024-01-01T00:00:00Z"}]`))
	require.NoError(t, err)
	require.Len(t, array, 1)

	envelope, err := decodeTouchpoints([]byte(`{"touchpoints":[{"touchpoint_id":"A","channel":"events","timestamp":"2024-01-01T00:00:00Z"},{"touchpoint_id":"B","channel":"events","timestamp":"2024-01-02T00:00:00Z"}]}`))
	require.NoError(t, err)
	assert.Len(t, envelope, 2)

	_, err = decodeTouchpoints([]byte("  "))
	assert.Error(t, err)
}

func TestRunAssembleProducesReport(t *testing.T) {
	configViper := config.NewViper()
	configViper.Set("database.path", filepath.Join(t.TempDir(), "offline.db"))
	appConfig, err := config.Load(configViper)
	require.NoError(t, err)

	touchpoints, err := decodeTouchpoints([]byte(`[
		{"touchpoint_id":"A","channel":"google_ads","timestamp":"2024-01-01T00:00:00Z","email":"x@y.com"},
		{"touchpoint_id":"B","channel":"email_marketing","timestamp":"2024-01-05T00:00:00Z","email":"x@y.com"}
	]`))
	require.NoError(t, err)

	assembled, err := runAssemble(context.Background(), appConfig, touchpoints)
	require.NoError(t, err)
	require.Len(t, assembled, 1)
	assert.Equal(t, 2, assembled[0].TotalTouchpoints)

	report := renderJourneyReport(assembled)
	assert.True(t, strings.Contains(report, "google_ads > email_marketing"), report)
	assert.True(t, strings.Contains(report, "0.975 (high)"), report)
}

func TestAcquireDatabaseLockIsExclusive(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "locked.db")

	lock, err := acquireDatabaseLock(databasePath)
	require.NoError(t, err)
	defer lock.Unlock() //nolint:errcheck

	_, err = acquireDatabaseLock(databasePath)
	assert.Error(t, err)
}
