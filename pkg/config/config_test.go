package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStatusDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"REGULAR:CASUAL"}, cfg.Status.ExclusivePairs)
	assert.Equal(t, ReactivateSuppressed, cfg.Status.ReactivateMode)
	assert.False(t, cfg.Status.RequiredChecksApplicability)
	assert.True(t, cfg.Status.SeedOnBoot)
	assert.Equal(t, 2*time.Minute, cfg.Status.SubjectCacheTTL)
	assert.Equal(t, "status-assignments", cfg.Status.NotifyChannel)
	assert.Equal(t, 5, cfg.Status.ReconcileRetries)
}

func TestLoadStatusOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STATUS_EXCLUSIVE_PAIRS", "REGULAR:CASUAL, SUSPENDED:CASUAL")
	t.Setenv("STATUS_CASCADE_REACTIVATE", "Academic_Year")
	t.Setenv("STATUS_RECONCILE_DELAY", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"REGULAR:CASUAL", "SUSPENDED:CASUAL"}, cfg.Status.ExclusivePairs)
	assert.Equal(t, ReactivateAcademicYear, cfg.Status.ReactivateMode)
	assert.Equal(t, 2*time.Second, cfg.Status.ReconcileDelay)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
