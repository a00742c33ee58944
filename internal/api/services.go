package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ZJUSCT/CSJudge/internal/auth"
	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/judgequeue"
	"github.com/ZJUSCT/CSJudge/internal/notify"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services bundles what the HTTP handlers work with.
type Services struct {
	Config   *config.Config
	DB       *gorm.DB
	Registry *contest.Registry
	Board    *scoreboard.Cache
	Queue    *judgequeue.Coordinator
	Balloons *notify.BalloonLog
	Broker   *pubsub.Broker
}

// TokenHandler issues tokens with the given role to the listed accounts.
func TokenHandler(accounts []config.Account, role string, jwtCfg config.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			util.Error(c, http.StatusBadRequest, err)
			return
		}

		acc, ok := auth.Authenticate(accounts, req.Name, req.Password)
		if !ok {
			util.Error(c, http.StatusUnauthorized, "invalid name or password")
			return
		}
		token, err := auth.GenerateJWT(acc.Name, role, jwtCfg.Secret, jwtCfg.ExpireHours)
		if err != nil {
			util.Error(c, http.StatusInternalServerError, "failed to generate token")
			return
		}

		zap.S().Infof("%s %s logged in", role, acc.Name)
		util.Success(c, gin.H{"token": token}, "Login successful")
	}
}

// Subject returns the authenticated account name.
func Subject(c *gin.Context) string {
	return c.GetString(ContextSubject)
}

// Reload reads the contest directories again, mirrors their teams into the
// database and rebuilds every scoreboard.
func (s *Services) Reload(ctx context.Context) error {
	zap.S().Info("starting reload process...")
	previous := s.Registry.AllContests()
	if err := s.Registry.Load(s.Config.Contest); err != nil {
		return fmt.Errorf("failed to load contests and problems: %w", err)
	}

	contests := s.Registry.AllContests()
	s.closeRemovedStreams(previous, contests)
	var teams []models.Team
	for _, ct := range contests {
		for _, t := range ct.Teams {
			teams = append(teams, models.Team{ID: t.ID, Name: t.Name, SortOrder: t.SortOrder})
		}
	}
	if err := database.SyncTeams(s.DB.WithContext(ctx), teams); err != nil {
		return fmt.Errorf("failed to sync teams: %w", err)
	}

	for _, ct := range contests {
		cc, err := s.Registry.Context(ct.ID)
		if err != nil {
			return err
		}
		if err := s.Board.Refresh(ctx, cc); err != nil {
			return err
		}
	}
	zap.S().Infof("loaded %d contests and %d teams", len(contests), len(teams))
	return nil
}

// closeRemovedStreams disconnects the stream subscribers of contests that
// are gone after a reload.
func (s *Services) closeRemovedStreams(previous, current []*contest.Contest) {
	if s.Broker == nil {
		return
	}
	kept := make(map[string]bool, len(current))
	for _, ct := range current {
		kept[ct.ID] = true
	}
	for _, ct := range previous {
		if kept[ct.ID] {
			continue
		}
		for _, topic := range []string{pubsub.ScoreboardTopic(ct.ID), pubsub.BalloonTopic(ct.ID)} {
			zap.S().Infof("contest %s removed, disconnecting %d subscribers of %s", ct.ID, s.Broker.Subscribers(topic), topic)
			s.Broker.CloseTopic(topic)
		}
	}
}
