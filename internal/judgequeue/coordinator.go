package judgequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/metrics"
	"github.com/ZJUSCT/CSJudge/internal/testdata"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownJudgehost   = errors.New("unknown judgehost")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrJudgingNotFound    = errors.New("judging not found")
)

// Scoreboard is notified whenever the scoring inputs of a cell change.
type Scoreboard interface {
	OnJudgingFinalized(ctx context.Context, cc *contest.Context, teamID, problemID string) error
}

type Options struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	MaxWait         time.Duration
	// ClaimRetries bounds how often a claim is retried after losing a race.
	ClaimRetries int
	// AbandonTimeout rejudges running judgings whose judgehost went silent
	// for this long. Zero disables reclaiming.
	AbandonTimeout time.Duration
}

func OptionsFromConfig(q config.Queue) Options {
	return Options{
		PollInterval:    q.PollInterval,
		MaxPollInterval: q.MaxPollInterval,
		MaxWait:         q.MaxWait,
		ClaimRetries:    q.ClaimRetries,
		AbandonTimeout:  q.AbandonTimeout,
	}
}

// Coordinator hands out submissions to judgehosts and collects their
// verdicts. The conditional claim update in the database is the only
// point of mutual exclusion between judgehosts.
type Coordinator struct {
	db       *gorm.DB
	registry *contest.Registry
	board    Scoreboard
	testdata testdata.Provider
	opts     Options
	now      func() time.Time
}

func NewCoordinator(db *gorm.DB, registry *contest.Registry, board Scoreboard, provider testdata.Provider, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}
	if opts.ClaimRetries <= 0 {
		opts.ClaimRetries = 5
	}
	if provider == nil {
		provider = testdata.Static{}
	}
	return &Coordinator{
		db:       db,
		registry: registry,
		board:    board,
		testdata: provider,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Assignment is everything a judgehost needs to judge a claimed submission.
type Assignment struct {
	SubmissionID  string         `json:"submission_id"`
	JudgingID     string         `json:"judging_id"`
	ContestID     string         `json:"contest_id"`
	TeamID        string         `json:"team_id"`
	ProblemID     string         `json:"problem_id"`
	LanguageID    string         `json:"language_id"`
	SourceRef     string         `json:"source_ref"`
	TimeLimit     int            `json:"time_limit"`
	MemoryLimit   int64          `json:"memory_limit"`
	OutputLimit   int64          `json:"output_limit"`
	TestcaseCount int            `json:"testcase_count"`
	Testcases     []testdata.Ref `json:"testcases"`
}

// NewSubmission is an incoming submission.
type NewSubmission struct {
	ContestID  string    `json:"contest_id"`
	TeamID     string    `json:"team_id" binding:"required"`
	ProblemID  string    `json:"problem_id" binding:"required"`
	LanguageID string    `json:"language_id" binding:"required"`
	SubmitTime time.Time `json:"submit_time"`
	SourceRef  string    `json:"source_ref"`
}

// CreateSubmission stores a submission and makes it show as pending.
func (c *Coordinator) CreateSubmission(ctx context.Context, in NewSubmission) (*models.Submission, error) {
	cc, err := c.registry.Context(in.ContestID)
	if err != nil {
		return nil, err
	}
	if _, err := cc.Contest.Team(in.TeamID); err != nil {
		return nil, err
	}
	if !cc.Contest.HasProblem(in.ProblemID) {
		return nil, fmt.Errorf("%w: %s in contest %s", contest.ErrProblemNotFound, in.ProblemID, in.ContestID)
	}
	if _, err := c.registry.Language(in.LanguageID); err != nil {
		return nil, err
	}
	submitTime := in.SubmitTime
	if submitTime.IsZero() {
		submitTime = c.now()
	}

	sub := &models.Submission{
		ID:         uuid.NewString(),
		ContestID:  in.ContestID,
		TeamID:     in.TeamID,
		ProblemID:  in.ProblemID,
		LanguageID: in.LanguageID,
		SubmitTime: submitTime.UTC(),
		Valid:      true,
		SourceRef:  in.SourceRef,
	}
	if err := database.CreateSubmission(c.db.WithContext(ctx), sub); err != nil {
		return nil, err
	}
	zap.S().Infof("submission %s created for team %s problem %s", sub.ID, sub.TeamID, sub.ProblemID)
	c.updateScore(ctx, cc, sub)
	return sub, nil
}

// ClaimNext assigns the next judgeable submission to the judgehost. It
// returns nil without error when there is no work.
func (c *Coordinator) ClaimNext(ctx context.Context, judgehost string) (*Assignment, error) {
	db := c.db.WithContext(ctx)
	now := c.now()

	jh, err := database.GetJudgehost(db, judgehost)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJudgehost, judgehost)
	}
	if err != nil {
		return nil, err
	}
	if err := database.TouchJudgehost(db, judgehost, now); err != nil {
		return nil, err
	}
	if !jh.Active {
		metrics.Claims.WithLabelValues("inactive").Inc()
		return nil, nil
	}

	filter, ok := c.claimFilter(jh, now)
	if !ok {
		metrics.Claims.WithLabelValues("empty").Inc()
		return nil, nil
	}

	for attempt := 0; attempt < c.opts.ClaimRetries; attempt++ {
		cand, err := database.NextClaimCandidate(db, filter)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			metrics.Claims.WithLabelValues("empty").Inc()
			return nil, nil
		}

		won, err := database.ClaimSubmission(db, cand.ID, judgehost, now)
		if err != nil {
			return nil, err
		}
		if !won {
			metrics.Claims.WithLabelValues("lost_race").Inc()
			zap.S().Debugf("judgehost %s lost the claim on submission %s, retrying", judgehost, cand.ID)
			filter.Exclude = append(filter.Exclude, cand.ID)
			continue
		}

		a, err := c.startJudging(ctx, cand, judgehost, now)
		if err != nil {
			if rerr := database.ReleaseSubmission(db, cand.ID); rerr != nil {
				zap.S().Errorf("failed to release submission %s after claim error: %v", cand.ID, rerr)
			}
			return nil, err
		}
		metrics.Claims.WithLabelValues("claimed").Inc()
		zap.S().Infof("judgehost %s claimed submission %s (judging %s)", judgehost, cand.ID, a.JudgingID)
		return a, nil
	}
	return nil, nil
}

func (c *Coordinator) claimFilter(jh *models.Judgehost, now time.Time) (database.ClaimFilter, bool) {
	r := jh.Restrictions
	contests := c.registry.ActiveContests(now)
	if len(r.Contests) > 0 {
		allowed := toSet(r.Contests)
		kept := contests[:0:0]
		for _, ct := range contests {
			if allowed[ct.ID] {
				kept = append(kept, ct)
			}
		}
		contests = kept
	}

	f := database.ClaimFilter{
		Problems:  intersect(c.registry.JudgeableProblems(contests), r.Problems),
		Languages: intersect(c.registry.JudgeableLanguages(), r.Languages),
	}
	if !r.RejudgeOwn {
		f.NotJudgedBy = jh.Name
	}
	for _, ct := range contests {
		f.Contests = append(f.Contests, ct.ID)
	}
	return f, len(f.Contests) > 0 && len(f.Problems) > 0 && len(f.Languages) > 0
}

// startJudging adopts the queued judging left by a rejudge or creates a
// new one, and stamps the team for fair ordering.
func (c *Coordinator) startJudging(ctx context.Context, sub *models.Submission, judgehost string, now time.Time) (*Assignment, error) {
	problem, err := c.registry.Problem(sub.ProblemID)
	if err != nil {
		return nil, err
	}
	lang, err := c.registry.Language(sub.LanguageID)
	if err != nil {
		return nil, err
	}
	refs, err := c.testdata.References(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("test data for problem %s: %w", problem.ID, err)
	}

	var judgingID string
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := database.GetValidJudging(tx, sub.ID)
		if err != nil {
			return err
		}
		if current != nil && current.Judgehost == nil {
			started, err := database.StartJudging(tx, current.ID, judgehost, now)
			if err != nil {
				return err
			}
			if started {
				judgingID = current.ID
				return database.StampTeamJudgingStarted(tx, sub.TeamID, now)
			}
		}
		if current != nil {
			zap.S().Warnf("submission %s was unclaimed with live judging %s, superseding it", sub.ID, current.ID)
			if _, err := database.InvalidateJudgings(tx, sub.ID); err != nil {
				return err
			}
		}

		j := &models.Judging{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			ContestID:    sub.ContestID,
			Judgehost:    &judgehost,
			StartTime:    &now,
			Valid:        true,
		}
		if current != nil {
			j.PrevJudgingID = &current.ID
		}
		if err := database.CreateJudging(tx, j); err != nil {
			return err
		}
		judgingID = j.ID
		return database.StampTeamJudgingStarted(tx, sub.TeamID, now)
	})
	if err != nil {
		return nil, err
	}

	return &Assignment{
		SubmissionID:  sub.ID,
		JudgingID:     judgingID,
		ContestID:     sub.ContestID,
		TeamID:        sub.TeamID,
		ProblemID:     sub.ProblemID,
		LanguageID:    sub.LanguageID,
		SourceRef:     sub.SourceRef,
		TimeLimit:     problem.TimeLimitFor(lang.TimeFactor),
		MemoryLimit:   problem.MemoryLimit,
		OutputLimit:   problem.OutputLimit,
		TestcaseCount: len(problem.Testcases),
		Testcases:     refs,
	}, nil
}

// ClaimNextWait polls ClaimNext until work shows up, wait has elapsed or
// ctx is done. The poll interval doubles up to MaxPollInterval.
func (c *Coordinator) ClaimNextWait(ctx context.Context, judgehost string, wait time.Duration) (*Assignment, error) {
	if c.opts.MaxWait > 0 && wait > c.opts.MaxWait {
		wait = c.opts.MaxWait
	}
	deadline := time.Now().Add(wait)
	interval := c.opts.PollInterval

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := c.ClaimNext(ctx, judgehost)
		if err != nil || a != nil {
			return a, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if interval > remaining {
			interval = remaining
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		interval *= 2
		if interval > c.opts.MaxPollInterval {
			interval = c.opts.MaxPollInterval
		}
	}
}

func (c *Coordinator) updateScore(ctx context.Context, cc *contest.Context, sub *models.Submission) {
	if c.board == nil {
		return
	}
	if err := c.board.OnJudgingFinalized(ctx, cc, sub.TeamID, sub.ProblemID); err != nil {
		zap.S().Errorf("failed to update scoreboard for team %s problem %s: %v", sub.TeamID, sub.ProblemID, err)
	}
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}

// intersect keeps the items of all that appear in only; an empty only keeps everything.
func intersect(all, only []string) []string {
	if len(only) == 0 {
		return all
	}
	allowed := toSet(only)
	var out []string
	for _, a := range all {
		if allowed[a] {
			out = append(out, a)
		}
	}
	return out
}
