package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/regime"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestProfileStoreLoadsOverrides(t *testing.T) {
	path := writeFile(t, "profiles.yaml", `
profiles:
  crisis_mode:
    technical: 0.1
    news: 0.9
`)
	s := NewProfileStore(path, false)
	snap := s.Snapshot()
	assert.False(t, snap.Fallback)
	assert.Equal(t, regime.WeightProfile{"technical": 0.1, "news": 0.9}, s.Profile(regime.CrisisMode))
	assert.Equal(t, regime.DefaultProfiles()[regime.TrendingBull], s.Profile(regime.TrendingBull))
}

func TestProfileStoreMalformedFallsBack(t *testing.T) {
	cases := map[string]string{
		"negative":       "profiles:\n  recovery:\n    technical: -1\n",
		"unknown regime": "profiles:\n  sideways:\n    technical: 1\n",
		"not yaml":       "profiles: [::",
		"empty":          "other: 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewProfileStore(writeFile(t, "p.yaml", body), false)
			assert.True(t, s.Snapshot().Fallback)
			assert.Equal(t, regime.DefaultProfiles()[regime.Recovery], s.Profile(regime.Recovery))
		})
	}
}

func TestProfileStoreMissingFile(t *testing.T) {
	s := NewProfileStore(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.True(t, s.Snapshot().Fallback)
	assert.Len(t, s.Snapshot().Profiles, len(regime.All))
}

func TestProfileStoreSaveRoundTrip(t *testing.T) {
	path := writeFile(t, "profiles.yaml", "profiles:\n  recovery:\n    technical: 2\n    fundamental: 2\n")
	s := NewProfileStore(path, false)
	require.NoError(t, s.Save())

	reloaded := NewProfileStore(path, false)
	assert.Equal(t, regime.WeightProfile{"technical": 2, "fundamental": 2}, reloaded.Profile(regime.Recovery))
	assert.Equal(t, regime.DefaultProfiles()[regime.CrisisMode], reloaded.Profile(regime.CrisisMode))
}

func TestProfileStoreUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	s := NewProfileStore(path, false)
	require.True(t, s.Snapshot().Fallback)

	got := make(chan ProfileSnapshot, 2)
	s.Subscribe(func(snap ProfileSnapshot) { got <- snap })
	<-got

	require.NoError(t, s.Update(regime.CrisisMode, map[string]float64{"News": 3, "technical": 1}))
	select {
	case snap := <-got:
		assert.False(t, snap.Fallback)
		assert.Equal(t, regime.WeightProfile{"news": 3, "technical": 1}, snap.Profiles[regime.CrisisMode])
	case <-time.After(2 * time.Second):
		t.Fatal("update not delivered")
	}

	reloaded := NewProfileStore(path, false)
	assert.False(t, reloaded.Snapshot().Fallback)
	assert.Equal(t, regime.WeightProfile{"news": 3, "technical": 1}, reloaded.Profile(regime.CrisisMode))
}

func TestProfileStoreUpdateRejectsBadWeights(t *testing.T) {
	s := NewProfileStore("", false)
	before := s.Snapshot()
	assert.Error(t, s.Update(regime.Recovery, map[string]float64{"technical": -1}))
	assert.Error(t, s.Update(regime.Recovery, map[string]float64{"technical": 0}))
	assert.Error(t, s.Update(regime.Recovery, nil))
	assert.Equal(t, before.Version, s.Snapshot().Version)
	assert.Equal(t, regime.DefaultProfiles()[regime.Recovery], s.Profile(regime.Recovery))
}
