package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLicenseMatchesApp(t *testing.T) {
	wildcard := &License{AppID: AppWildcard}
	assert.True(t, wildcard.MatchesApp("timber-cruiser"))
	assert.True(t, wildcard.MatchesApp(""))

	scoped := &License{AppID: "timber-cruiser"}
	assert.True(t, scoped.MatchesApp("timber-cruiser"))
	assert.False(t, scoped.MatchesApp("other-app"))
	// Empty request against a scoped license is a mismatch
	assert.False(t, scoped.MatchesApp(""))
}

func TestLicenseIsUsable(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	perpetual := &License{IsActive: true}
	assert.True(t, perpetual.IsUsable(now))

	inactive := &License{IsActive: false}
	assert.False(t, inactive.IsUsable(now))

	future := now.Add(time.Hour)
	assert.True(t, (&License{IsActive: true, ExpiresAt: &future}).IsUsable(now))

	past := now.Add(-time.Hour)
	assert.False(t, (&License{IsActive: true, ExpiresAt: &past}).IsUsable(now))

	// Expiry boundary itself is already unusable
	assert.False(t, (&License{IsActive: true, ExpiresAt: &now}).IsUsable(now))
}

func TestLicenseGraceDeadline(t *testing.T) {
	assert.Nil(t, (&License{GracePeriodDays: 7}).GraceDeadline())

	expiry := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	l := &License{ExpiresAt: &expiry, GracePeriodDays: 7}

	deadline := l.GraceDeadline()
	require.NotNil(t, deadline)
	assert.Equal(t, time.Date(2024, 12, 27, 0, 0, 0, 0, time.UTC), *deadline)
}
