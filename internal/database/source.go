package database

import (
	"context"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/verdict"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScoreSource reads scoring records for the scoreboard cache.
type ScoreSource struct {
	DB *gorm.DB
}

func NewScoreSource(db *gorm.DB) *ScoreSource {
	return &ScoreSource{DB: db}
}

type scoreRow struct {
	ID         string
	TeamID     string
	ProblemID  string
	SubmitTime time.Time
	Result     *string
	EndTime    *time.Time
	MaxRuntime *float64
}

func (s *ScoreSource) query(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx).
		Table("submissions").
		Select("submissions.id, submissions.team_id, submissions.problem_id, submissions.submit_time, " +
			"judgings.result, judgings.end_time, judgings.max_runtime").
		Joins("LEFT JOIN judgings ON judgings.submission_id = submissions.id AND judgings.valid = ?", true).
		Where("submissions.valid = ?", true).
		Order("submissions.submit_time asc, submissions.id asc")
}

func (s *ScoreSource) ContestSubmissions(ctx context.Context, contestID string) ([]scoreboard.SubmissionRecord, error) {
	var rows []scoreRow
	if err := s.query(ctx).Where("submissions.contest_id = ?", contestID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func (s *ScoreSource) CellSubmissions(ctx context.Context, contestID, teamID, problemID string) ([]scoreboard.SubmissionRecord, error) {
	var rows []scoreRow
	err := s.query(ctx).
		Where("submissions.contest_id = ? AND submissions.team_id = ? AND submissions.problem_id = ?", contestID, teamID, problemID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// toRecords keeps only finished results; a judging that has a result but
// is still running counts as pending.
func toRecords(rows []scoreRow) []scoreboard.SubmissionRecord {
	out := make([]scoreboard.SubmissionRecord, 0, len(rows))
	for _, r := range rows {
		rec := scoreboard.SubmissionRecord{
			SubmissionID: r.ID,
			TeamID:       r.TeamID,
			ProblemID:    r.ProblemID,
			SubmitTime:   r.SubmitTime,
		}
		if r.Result != nil && r.EndTime != nil {
			v, err := verdict.Parse(*r.Result)
			if err != nil {
				zap.S().Warnf("submission %s has unknown stored result %q, treating as pending", r.ID, *r.Result)
			} else {
				rec.Result = &v
			}
		}
		if r.MaxRuntime != nil {
			rec.Runtime = *r.MaxRuntime
		}
		out = append(out, rec)
	}
	return out
}
