package public

import (
	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/gin-gonic/gin"
)

// NewRouter creates the public, unauthenticated Gin engine.
func NewRouter(s *api.Services) *gin.Engine {
	r := gin.Default()

	r.Use(api.CORSMiddleware(s.Config.CORS))

	h := NewHandler(s)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/contests", h.getAllContests)
		v1.GET("/contests/:id", h.getContest)
		v1.GET("/contests/:id/scoreboard", h.getScoreboard)

		v1.GET("/ws/contests/:id/scoreboard", h.handleScoreboardWs)
	}

	return r
}
