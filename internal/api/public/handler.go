package public

import (
	"errors"
	"net/http"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler holds all dependencies for the public API handlers.
type Handler struct {
	registry *contest.Registry
	board    *scoreboard.Cache
	broker   *pubsub.Broker
}

func NewHandler(s *api.Services) *Handler {
	return &Handler{registry: s.Registry, board: s.Board, broker: s.Broker}
}

// ContestInfo is the public view of a contest.
type ContestInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	State     contest.State `json:"state"`
	StartTime *time.Time    `json:"starttime"`
	EndTime   time.Time     `json:"endtime"`
	FreezeAt  *time.Time    `json:"freezetime,omitempty"`
	Duration  string        `json:"duration"`
	Progress  int           `json:"progress"`
	Problems  []string      `json:"problems,omitempty"`
}

func contestInfo(c *contest.Contest, now time.Time, withProblems bool) ContestInfo {
	clock := &c.Clock
	info := ContestInfo{
		ID:       c.ID,
		Name:     c.Name,
		State:    clock.State(now),
		EndTime:  clock.End,
		FreezeAt: clock.Freeze,
		Duration: clock.Duration().String(),
		Progress: clock.Progress(now),
	}
	if clock.StartEnabled {
		start := clock.Start
		info.StartTime = &start
	}
	// problems stay hidden until the contest starts
	if withProblems && clock.Started(now) {
		info.Problems = c.ProblemIDs
	}
	return info
}

func (h *Handler) getAllContests(c *gin.Context) {
	now := time.Now()
	out := []ContestInfo{}
	for _, ct := range h.registry.ActiveContests(now) {
		out = append(out, contestInfo(ct, now, false))
	}
	util.Success(c, out, "Contests retrieved")
}

func (h *Handler) activeContest(c *gin.Context) (*contest.Context, bool) {
	cc, err := h.registry.Context(c.Param("id"))
	if err != nil || !cc.Clock().Active(time.Now()) {
		util.Error(c, http.StatusNotFound, "contest not found")
		return nil, false
	}
	return cc, true
}

func (h *Handler) getContest(c *gin.Context) {
	cc, ok := h.activeContest(c)
	if !ok {
		return
	}
	util.Success(c, contestInfo(cc.Contest, time.Now(), true), "Contest retrieved")
}

func (h *Handler) getScoreboard(c *gin.Context) {
	cc, ok := h.activeContest(c)
	if !ok {
		return
	}
	snap, err := h.board.GetSnapshot(c.Request.Context(), cc, scoreboard.AudiencePublic, time.Now())
	if errors.Is(err, scoreboard.ErrNotStarted) {
		util.Error(c, http.StatusForbidden, err)
		return
	}
	if err != nil {
		zap.S().Errorf("failed to build public scoreboard of contest %s: %v", cc.ID(), err)
		util.Error(c, http.StatusInternalServerError, "scoreboard unavailable")
		return
	}
	util.Success(c, snap, "Scoreboard retrieved")
}
