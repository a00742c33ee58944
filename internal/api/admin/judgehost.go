package admin

import (
	"net/http"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/util"
	"github.com/gin-gonic/gin"
)

func (h *Handler) getJudgehosts(c *gin.Context) {
	hosts, err := h.queue.Judgehosts(c.Request.Context())
	if err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, hosts, "Judgehosts retrieved")
}

func (h *Handler) updateJudgehost(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	if err := h.queue.SetJudgehostActive(c.Request.Context(), c.Param("name"), *req.Active); err != nil {
		requestError(c, err)
		return
	}
	util.Success(c, gin.H{"name": c.Param("name"), "active": *req.Active}, "Judgehost updated")
}

// reclaimJudgings requeues judgings of silent judgehosts. timeout defaults
// to the configured abandon timeout.
func (h *Handler) reclaimJudgings(c *gin.Context) {
	timeout := h.cfg.Queue.AbandonTimeout
	if s := c.Query("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			util.Error(c, http.StatusBadRequest, "timeout must be a positive duration")
			return
		}
		timeout = d
	}
	if timeout <= 0 {
		util.Error(c, http.StatusBadRequest, "no abandon timeout configured, pass ?timeout=")
		return
	}

	n, err := h.queue.ReclaimAbandoned(c.Request.Context(), timeout)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, gin.H{"reclaimed": n}, "Abandoned judgings reclaimed")
}
