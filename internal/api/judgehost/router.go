package judgehost

import (
	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/ZJUSCT/CSJudge/internal/auth"
	"github.com/gin-gonic/gin"
)

// NewRouter creates the Gin engine judgehosts talk to.
func NewRouter(s *api.Services) *gin.Engine {
	r := gin.Default()
	Register(r, s)
	return r
}

// Register mounts the judgehost API on an existing engine.
func Register(r *gin.Engine, s *api.Services) {
	h := NewHandler(s)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/auth/token", api.TokenHandler(s.Config.Auth.Judgehosts, auth.RoleJudgehost, s.Config.Auth.JWT))

		authed := v1.Group("/")
		authed.Use(api.AuthMiddleware(s.Config.Auth.JWT.Secret, auth.RoleJudgehost))
		{
			authed.POST("/judgehosts/claim", h.claim)
			authed.POST("/judgings/:id/runs", h.reportRun)
			authed.POST("/judgings/:id/result", h.reportResult)
		}
	}
}
