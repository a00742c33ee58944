package admin

import (
	"net/http"

	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/judgequeue"
	"github.com/ZJUSCT/CSJudge/internal/util"
	"github.com/gin-gonic/gin"
)

func (h *Handler) createSubmission(c *gin.Context) {
	var req judgequeue.NewSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	req.ContestID = c.Param("id")

	sub, err := h.queue.CreateSubmission(c.Request.Context(), req)
	if err != nil {
		requestError(c, err)
		return
	}
	util.Success(c, sub, "Submission created")
}

func (h *Handler) getContestSubmissions(c *gin.Context) {
	subs, err := database.GetSubmissionsByContest(h.db.WithContext(c.Request.Context()), c.Param("id"))
	if err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, subs, "Submissions retrieved")
}

func (h *Handler) getSubmission(c *gin.Context) {
	sub, err := database.GetSubmission(h.db.WithContext(c.Request.Context()), c.Param("id"))
	if err != nil {
		requestError(c, err)
		return
	}
	util.Success(c, sub, "Submission retrieved")
}

func (h *Handler) updateSubmissionValidity(c *gin.Context) {
	var req struct {
		Valid *bool `json:"valid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	if err := h.queue.SetSubmissionValidity(c.Request.Context(), c.Param("id"), *req.Valid); err != nil {
		requestError(c, err)
		return
	}
	util.Success(c, gin.H{"valid": *req.Valid}, "Submission validity updated")
}

func (h *Handler) rejudgeSubmission(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "rejudge requested by jury"
	}

	j, err := h.queue.Rejudge(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		requestError(c, err)
		return
	}
	util.Success(c, j, "Submission queued for rejudging")
}
