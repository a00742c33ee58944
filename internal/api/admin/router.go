package admin

import (
	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/ZJUSCT/CSJudge/internal/auth"
	"github.com/ZJUSCT/CSJudge/internal/metrics"
	"github.com/gin-gonic/gin"
)

// NewAdminRouter creates and configures the jury Gin engine.
func NewAdminRouter(s *api.Services) *gin.Engine {
	r := gin.Default()

	r.Use(api.CORSMiddleware(s.Config.CORS))

	h := NewHandler(s)

	r.GET("/metrics", metrics.Handler())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/auth/token", api.TokenHandler(s.Config.Auth.Jury, auth.RoleJury, s.Config.Auth.JWT))
		v1.GET("/ws/contests/:id/balloons", h.handleBalloonWs)

		authed := v1.Group("/")
		authed.Use(api.AuthMiddleware(s.Config.Auth.JWT.Secret, auth.RoleJury))
		{
			authed.POST("/reload", h.reload)

			contests := authed.Group("/contests")
			{
				contests.GET("", h.getAllContests)
				contests.GET("/:id/scoreboard", h.getScoreboard)
				contests.POST("/:id/scoreboard/refresh", h.refreshScoreboard)
				contests.GET("/:id/balloons", h.getBalloons)
				contests.POST("/:id/submissions", h.createSubmission)
				contests.GET("/:id/submissions", h.getContestSubmissions)
			}

			submissions := authed.Group("/submissions")
			{
				submissions.GET("/:id", h.getSubmission)
				submissions.PATCH("/:id/validity", h.updateSubmissionValidity)
				submissions.POST("/:id/rejudge", h.rejudgeSubmission)
			}

			authed.POST("/balloons/:seq/done", h.markBalloonDone)

			judgehosts := authed.Group("/judgehosts")
			{
				judgehosts.GET("", h.getJudgehosts)
				judgehosts.PATCH("/:name", h.updateJudgehost)
			}
			authed.POST("/judgings/reclaim", h.reclaimJudgings)
		}
	}

	return r
}
