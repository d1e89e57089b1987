package adminhttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"riskguard/internal/config/loader"
	"riskguard/internal/logger"
	"riskguard/internal/regime"
)

// ProfileEditor is the regime weight profile store.
type ProfileEditor interface {
	Snapshot() loader.ProfileSnapshot
	Update(r regime.Regime, weights map[string]float64) error
}

// WithProfiles enables the profile routes.
func (r *Router) WithProfiles(p ProfileEditor) *Router {
	r.profiles = p
	return r
}

func (r *Router) handleProfiles(c *gin.Context) {
	snap := r.profiles.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"fallback":  snap.Fallback,
		"profiles":  snap.Profiles,
	})
}

type profileRequest struct {
	Weights map[string]float64 `json:"weights" binding:"required"`
}

func (r *Router) handleProfileUpdate(c *gin.Context) {
	reg, err := regime.Parse(c.Param("regime"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.profiles.Update(reg, req.Weights); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("[admin] regime profile %s replaced from %s", reg, c.ClientIP())
	snap := r.profiles.Snapshot()
	c.JSON(http.StatusOK, gin.H{"regime": reg, "version": snap.Version, "weights": snap.Profiles[reg]})
}
