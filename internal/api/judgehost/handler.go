package judgehost

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/ZJUSCT/CSJudge/internal/judgequeue"
	"github.com/ZJUSCT/CSJudge/internal/util"
	"github.com/gin-gonic/gin"
)

// Handler holds all dependencies for the judgehost API handlers.
type Handler struct {
	queue *judgequeue.Coordinator
}

func NewHandler(s *api.Services) *Handler {
	return &Handler{queue: s.Queue}
}

// parseWait accepts a Go duration ("15s") or plain seconds ("15").
func parseWait(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func queueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, judgequeue.ErrProtocolViolation):
		util.Error(c, http.StatusBadRequest, err)
	case errors.Is(err, judgequeue.ErrJudgingNotFound):
		util.Error(c, http.StatusNotFound, err)
	case errors.Is(err, judgequeue.ErrUnknownJudgehost):
		util.Error(c, http.StatusForbidden, err)
	default:
		util.Error(c, http.StatusInternalServerError, err)
	}
}

func (h *Handler) claim(c *gin.Context) {
	wait, err := parseWait(c.Query("wait"))
	if err != nil || wait < 0 {
		util.Error(c, http.StatusBadRequest, "invalid wait")
		return
	}

	a, err := h.queue.ClaimNextWait(c.Request.Context(), api.Subject(c), wait)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// client went away
			return
		}
		queueError(c, err)
		return
	}
	if a == nil {
		util.Success(c, nil, "No submission to judge")
		return
	}
	util.Success(c, a, "Submission claimed")
}

func (h *Handler) reportRun(c *gin.Context) {
	var req judgequeue.RunReport
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	out, err := h.queue.ReportRun(c.Request.Context(), api.Subject(c), c.Param("id"), req)
	if err != nil {
		queueError(c, err)
		return
	}
	util.Success(c, out, "Run recorded")
}

func (h *Handler) reportResult(c *gin.Context) {
	var req struct {
		SubmissionID string                 `json:"submission_id" binding:"required"`
		Result       string                 `json:"result"`
		Runs         []judgequeue.RunReport `json:"runs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	out, err := h.queue.ReportResult(c.Request.Context(), api.Subject(c), req.SubmissionID, c.Param("id"), req.Result, req.Runs)
	if err != nil {
		queueError(c, err)
		return
	}
	util.Success(c, out, "Result recorded")
}
