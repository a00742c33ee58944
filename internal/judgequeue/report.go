package judgequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/metrics"
	"github.com/ZJUSCT/CSJudge/internal/verdict"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunReport is the outcome of one test case as sent by a judgehost.
type RunReport struct {
	Rank    int     `json:"rank" binding:"required"`
	Verdict string  `json:"verdict" binding:"required"`
	Runtime float64 `json:"runtime"`
}

// Outcome tells the judgehost what happened to its report. A stale report
// is not an error: the judgehost should drop the judging and move on.
type Outcome struct {
	JudgingID string           `json:"judging_id"`
	Stale     bool             `json:"stale"`
	Finished  bool             `json:"finished"`
	Result    *verdict.Verdict `json:"result,omitempty"`
}

// judgingScope is everything needed to evaluate reports for one judging.
type judgingScope struct {
	judging *models.Judging
	sub     *models.Submission
	cc      *contest.Context
	problem *contest.Problem
}

func (c *Coordinator) loadScope(db *gorm.DB, judgingID string) (*judgingScope, error) {
	j, err := database.GetJudging(db, judgingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJudgingNotFound, judgingID)
	}
	if err != nil {
		return nil, err
	}
	sub, err := database.GetSubmission(db, j.SubmissionID)
	if err != nil {
		return nil, err
	}
	cc, err := c.registry.Context(j.ContestID)
	if err != nil {
		return nil, err
	}
	problem, err := c.registry.Problem(sub.ProblemID)
	if err != nil {
		return nil, err
	}
	return &judgingScope{judging: j, sub: sub, cc: cc, problem: problem}, nil
}

func stale(j *models.Judging, judgehost string) bool {
	return !j.Valid || j.Judgehost == nil || *j.Judgehost != judgehost
}

func (c *Coordinator) staleOutcome(judgingID, judgehost string) *Outcome {
	metrics.Reports.WithLabelValues("stale").Inc()
	zap.S().Warnf("discarding stale report from judgehost %s for judging %s", judgehost, judgingID)
	return &Outcome{JudgingID: judgingID, Stale: true}
}

func (c *Coordinator) parseVerdict(cc *contest.Context, s string) (verdict.Verdict, error) {
	v, err := verdict.Parse(s)
	if err != nil {
		metrics.Reports.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return cc.Rules.Remap.Apply(v), nil
}

func (c *Coordinator) insertRun(db *gorm.DB, scope *judgingScope, run RunReport) error {
	v, err := c.parseVerdict(scope.cc, run.Verdict)
	if err != nil {
		return err
	}
	if n := len(scope.problem.Testcases); run.Rank < 1 || (n > 0 && run.Rank > n) {
		metrics.Reports.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: run rank %d out of range 1..%d", ErrProtocolViolation, run.Rank, n)
	}
	inserted, err := database.InsertJudgingRun(db, &models.JudgingRun{
		JudgingID: scope.judging.ID,
		Ordinal:   run.Rank,
		Verdict:   string(v),
		Runtime:   run.Runtime,
	})
	if err != nil {
		return err
	}
	if !inserted {
		zap.S().Debugf("duplicate run %d for judging %s ignored", run.Rank, scope.judging.ID)
	}
	return nil
}

// ReportRun records one test case outcome and finishes the judging once
// its result is decided and either lazy evaluation is on or every test
// case has reported.
func (c *Coordinator) ReportRun(ctx context.Context, judgehost, judgingID string, run RunReport) (*Outcome, error) {
	db := c.db.WithContext(ctx)
	scope, err := c.loadScope(db, judgingID)
	if err != nil {
		return nil, err
	}
	if stale(scope.judging, judgehost) {
		return c.staleOutcome(judgingID, judgehost), nil
	}
	if scope.judging.Finished() {
		return finishedOutcome(scope.judging), nil
	}
	if err := database.TouchJudgehost(db, judgehost, c.now()); err != nil {
		return nil, err
	}

	if err := c.insertRun(db, scope, run); err != nil {
		return nil, err
	}
	return c.evaluate(ctx, scope, judgehost, false)
}

// ReportResult records a batch of runs and finishes the judging. A judging
// without runs, such as a compiler error, is finished with the verdict
// given by the judgehost. The judging must belong to submissionID.
func (c *Coordinator) ReportResult(ctx context.Context, judgehost, submissionID, judgingID, result string, runs []RunReport) (*Outcome, error) {
	db := c.db.WithContext(ctx)
	scope, err := c.loadScope(db, judgingID)
	if err != nil {
		return nil, err
	}
	if scope.judging.SubmissionID != submissionID {
		metrics.Reports.WithLabelValues("rejected").Inc()
		zap.S().Warnf("judgehost %s reported judging %s for submission %q, it belongs to %s", judgehost, judgingID, submissionID, scope.judging.SubmissionID)
		return nil, fmt.Errorf("%w: judging %s does not belong to submission %q", ErrProtocolViolation, judgingID, submissionID)
	}
	if stale(scope.judging, judgehost) {
		return c.staleOutcome(judgingID, judgehost), nil
	}
	if scope.judging.Finished() {
		return finishedOutcome(scope.judging), nil
	}
	if err := database.TouchJudgehost(db, judgehost, c.now()); err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		if result == "" {
			metrics.Reports.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: result without runs or verdict", ErrProtocolViolation)
		}
		v, err := c.parseVerdict(scope.cc, result)
		if err != nil {
			return nil, err
		}
		return c.finish(ctx, scope, judgehost, &v, 0)
	}

	for _, run := range runs {
		if err := c.insertRun(db, scope, run); err != nil {
			return nil, err
		}
	}
	out, err := c.evaluate(ctx, scope, judgehost, true)
	if err != nil {
		return nil, err
	}
	if result != "" && out.Result != nil && !out.Stale {
		if v, perr := verdict.Parse(result); perr == nil && scope.cc.Rules.Remap.Apply(v) != *out.Result {
			zap.S().Warnf("judgehost %s reported %s for judging %s, runs classify as %s", judgehost, result, judgingID, *out.Result)
		}
	}
	return out, nil
}

// evaluate classifies the stored runs of a judging and updates it.
func (c *Coordinator) evaluate(ctx context.Context, scope *judgingScope, judgehost string, final bool) (*Outcome, error) {
	db := c.db.WithContext(ctx)
	stored, err := database.GetJudgingRuns(db, scope.judging.ID)
	if err != nil {
		return nil, err
	}

	n := len(scope.problem.Testcases)
	for _, r := range stored {
		if r.Ordinal > n {
			n = r.Ordinal
		}
	}
	runs := make([]*verdict.Verdict, n)
	var maxRuntime float64
	for _, r := range stored {
		v := verdict.Verdict(r.Verdict)
		runs[r.Ordinal-1] = &v
		if r.Runtime > maxRuntime {
			maxRuntime = r.Runtime
		}
	}
	complete := true
	for _, r := range runs {
		if r == nil {
			complete = false
			break
		}
	}

	result, err := verdict.Classify(runs, scope.cc.Rules.Priorities)
	if err != nil {
		metrics.Reports.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	lazy := scope.cc.Rules.LazyEval
	if scope.problem.LazyEval != nil {
		lazy = *scope.problem.LazyEval
	}
	switch {
	case result == nil && final:
		metrics.Reports.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: runs of judging %s do not decide a result", ErrProtocolViolation, scope.judging.ID)
	case result != nil && (final || lazy || complete):
		return c.finish(ctx, scope, judgehost, result, maxRuntime)
	}

	update := database.JudgingUpdate{MaxRuntime: maxRuntime}
	if result != nil {
		s := string(*result)
		update.Result = &s
	}
	ok, err := database.UpdateJudgingResult(db, scope.judging.ID, judgehost, update)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.staleOutcome(scope.judging.ID, judgehost), nil
	}
	metrics.Reports.WithLabelValues("accepted").Inc()
	return &Outcome{JudgingID: scope.judging.ID, Result: result}, nil
}

func (c *Coordinator) finish(ctx context.Context, scope *judgingScope, judgehost string, result *verdict.Verdict, maxRuntime float64) (*Outcome, error) {
	now := c.now()
	s := string(*result)
	ok, err := database.UpdateJudgingResult(c.db.WithContext(ctx), scope.judging.ID, judgehost, database.JudgingUpdate{
		Result:     &s,
		MaxRuntime: maxRuntime,
		EndTime:    &now,
		Info: models.JSONMap{
			"finished_by": judgehost,
			"duration_ms": judgingDuration(scope.judging, now).Milliseconds(),
		},
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.staleOutcome(scope.judging.ID, judgehost), nil
	}

	metrics.Reports.WithLabelValues("accepted").Inc()
	metrics.JudgingsFinished.WithLabelValues(result.Code()).Inc()
	zap.S().Infof("judging %s of submission %s finished with %s", scope.judging.ID, scope.sub.ID, s)
	c.updateScore(ctx, scope.cc, scope.sub)
	return &Outcome{JudgingID: scope.judging.ID, Finished: true, Result: result}, nil
}

func judgingDuration(j *models.Judging, now time.Time) time.Duration {
	if j.StartTime == nil {
		return 0
	}
	return now.Sub(*j.StartTime)
}

func finishedOutcome(j *models.Judging) *Outcome {
	out := &Outcome{JudgingID: j.ID, Finished: true}
	if j.Result != nil {
		if v, err := verdict.Parse(*j.Result); err == nil {
			out.Result = &v
		}
	}
	return out
}
