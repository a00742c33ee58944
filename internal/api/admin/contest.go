package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/util"
	"github.com/gin-gonic/gin"
)

type contestSummary struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	State    contest.State `json:"state"`
	Clock    contest.Clock `json:"clock"`
	Problems []string      `json:"problems"`
	Teams    int           `json:"teams"`
	Version  uint64        `json:"scoreboard_version"`
}

func (h *Handler) getAllContests(c *gin.Context) {
	now := time.Now()
	out := []contestSummary{}
	for _, ct := range h.registry.AllContests() {
		out = append(out, contestSummary{
			ID:       ct.ID,
			Name:     ct.Name,
			State:    ct.Clock.State(now),
			Clock:    ct.Clock,
			Problems: ct.ProblemIDs,
			Teams:    len(ct.Teams),
			Version:  h.board.Version(ct.ID),
		})
	}
	util.Success(c, out, "Contests retrieved")
}

// getScoreboard serves the jury board. frozen=1 shows what the public sees;
// at=RFC3339 evaluates freeze and thaw at another instant.
func (h *Handler) getScoreboard(c *gin.Context) {
	cc, ok := h.contestContext(c)
	if !ok {
		return
	}
	audience := scoreboard.AudienceJury
	if frozen, _ := strconv.ParseBool(c.Query("frozen")); frozen {
		audience = scoreboard.AudienceJuryFrozen
	}
	var asOf time.Time
	if at := c.Query("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			util.Error(c, http.StatusBadRequest, "at must be an RFC3339 timestamp")
			return
		}
		asOf = t
	}

	snap, err := h.board.GetSnapshot(c.Request.Context(), cc, audience, asOf)
	if err != nil {
		requestError(c, err)
		return
	}
	util.Success(c, snap, "Scoreboard retrieved")
}

func (h *Handler) refreshScoreboard(c *gin.Context) {
	cc, ok := h.contestContext(c)
	if !ok {
		return
	}
	if err := h.board.Refresh(c.Request.Context(), cc); err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, gin.H{"version": h.board.Version(cc.ID())}, "Scoreboard refreshed")
}

func (h *Handler) getBalloons(c *gin.Context) {
	cc, ok := h.contestContext(c)
	if !ok {
		return
	}
	var since uint64
	if s := c.Query("since"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			util.Error(c, http.StatusBadRequest, "since must be a sequence number")
			return
		}
		since = n
	}
	balloons, err := h.balloons.Since(c.Request.Context(), cc.ID(), since)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, balloons, "Balloons retrieved")
}

func (h *Handler) markBalloonDone(c *gin.Context) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		util.Error(c, http.StatusBadRequest, "invalid balloon sequence number")
		return
	}
	if err := h.balloons.MarkDone(c.Request.Context(), seq); err != nil {
		requestError(c, err)
		return
	}
	util.Success(c, nil, "Balloon marked as done")
}
