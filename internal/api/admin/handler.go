package admin

import (
	"errors"
	"net/http"

	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/judgequeue"
	"github.com/ZJUSCT/CSJudge/internal/notify"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler holds all dependencies for the admin API handlers.
type Handler struct {
	services *api.Services
	cfg      *config.Config
	db       *gorm.DB
	registry *contest.Registry
	board    *scoreboard.Cache
	queue    *judgequeue.Coordinator
	balloons *notify.BalloonLog
	broker   *pubsub.Broker
}

// NewHandler creates a new admin handler with its dependencies.
func NewHandler(s *api.Services) *Handler {
	return &Handler{
		services: s,
		cfg:      s.Config,
		db:       s.DB,
		registry: s.Registry,
		board:    s.Board,
		queue:    s.Queue,
		balloons: s.Balloons,
		broker:   s.Broker,
	}
}

func (h *Handler) contestContext(c *gin.Context) (*contest.Context, bool) {
	cc, err := h.registry.Context(c.Param("id"))
	if err != nil {
		util.Error(c, http.StatusNotFound, err)
		return nil, false
	}
	return cc, true
}

// requestError maps domain errors to HTTP status codes.
func requestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, judgequeue.ErrSubmissionNotFound),
		errors.Is(err, judgequeue.ErrUnknownJudgehost),
		errors.Is(err, contest.ErrContestNotFound),
		errors.Is(err, notify.ErrBalloonNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		util.Error(c, http.StatusNotFound, err)
	case errors.Is(err, contest.ErrTeamNotFound),
		errors.Is(err, contest.ErrProblemNotFound),
		errors.Is(err, contest.ErrLanguageNotFound),
		errors.Is(err, scoreboard.ErrUnknownAudience):
		util.Error(c, http.StatusBadRequest, err)
	default:
		util.Error(c, http.StatusInternalServerError, err)
	}
}

func (h *Handler) reload(c *gin.Context) {
	if err := h.services.Reload(c.Request.Context()); err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, gin.H{"contests": len(h.registry.AllContests())}, "Reload successful")
}
