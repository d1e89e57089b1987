package adminhttp

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/config/loader"
	"riskguard/internal/regime"
)

func TestProfileRoutes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/profiles", "").Code)

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	profiles := loader.NewProfileStore(path, false)
	srv, err := NewServer(ServerConfig{
		Addr:   "127.0.0.1:0",
		Router: NewRouter(f.ctl, f.history, f.events, nil).WithProfiles(profiles),
	})
	require.NoError(t, err)
	f.handler = srv.Handler()

	w := f.do(http.MethodGet, "/api/profiles", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Fallback bool                          `json:"fallback"`
		Profiles map[string]map[string]float64 `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.True(t, listed.Fallback)
	assert.Len(t, listed.Profiles, len(regime.All))

	w = f.do(http.MethodPut, "/api/profiles/crisis_mode", `{"weights":{"news":2,"technical":1}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, regime.WeightProfile{"news": 2, "technical": 1}, profiles.Profile(regime.CrisisMode))

	reloaded := loader.NewProfileStore(path, false)
	assert.Equal(t, regime.WeightProfile{"news": 2, "technical": 1}, reloaded.Profile(regime.CrisisMode))

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/profiles/crisis_mode", `{"weights":{"news":-1}}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/profiles/crisis_mode", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/api/profiles/sideways", `{"weights":{"news":1}}`).Code)
}
