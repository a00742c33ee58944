package notify

import (
	"context"
	"errors"

	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrBalloonNotFound = errors.New("balloon not found")

// BalloonLog is the persistent, sequence numbered list of solves waiting to
// be celebrated at the teams' desks. Each (team, problem) pair appears at
// most once, so replays of the same solve are harmless.
type BalloonLog struct {
	db     *gorm.DB
	broker *pubsub.Broker
}

// NewBalloonLog stores balloons in db. New balloons are also published on
// the contest's balloon topic when broker is not nil.
func NewBalloonLog(db *gorm.DB, broker *pubsub.Broker) *BalloonLog {
	return &BalloonLog{db: db, broker: broker}
}

// Record stores a solve and reports whether it was new.
func (l *BalloonLog) Record(ctx context.Context, e scoreboard.SolveEvent) (*models.Balloon, bool, error) {
	b := &models.Balloon{
		ContestID:    e.ContestID,
		TeamID:       e.TeamID,
		ProblemID:    e.ProblemID,
		SubmissionID: e.SubmissionID,
		ContestTime:  e.ContestTime,
		SubmittedAt:  e.SubmittedAt,
		FirstToSolve: e.FirstToSolve,
	}
	created, err := database.CreateBalloon(l.db.WithContext(ctx), b)
	if err != nil || !created {
		return nil, false, err
	}
	if l.broker != nil {
		l.broker.Publish(pubsub.BalloonTopic(b.ContestID), pubsub.FormatMessage("balloon", b))
	}
	return b, true, nil
}

// Since returns the balloons of a contest with a sequence number above seq.
func (l *BalloonLog) Since(ctx context.Context, contestID string, seq uint64) ([]models.Balloon, error) {
	return database.GetBalloonsSince(l.db.WithContext(ctx), contestID, seq)
}

func (l *BalloonLog) MarkDone(ctx context.Context, seq uint64) error {
	found, err := database.MarkBalloonDone(l.db.WithContext(ctx), seq)
	if err != nil {
		return err
	}
	if !found {
		return ErrBalloonNotFound
	}
	return nil
}

// Hook records every new solve.
func (l *BalloonLog) Hook() scoreboard.SolveHook {
	return func(e scoreboard.SolveEvent) {
		if _, _, err := l.Record(context.Background(), e); err != nil {
			zap.S().Errorf("failed to record balloon for team %s problem %s: %v", e.TeamID, e.ProblemID, err)
		}
	}
}
