package judgequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Rejudge invalidates the current judging of a submission and queues a new
// one. The submission shows as pending until the new judging finishes.
func (c *Coordinator) Rejudge(ctx context.Context, submissionID, reason string) (*models.Judging, error) {
	return c.rejudge(ctx, submissionID, "", "manual", reason)
}

// errJudgingFinished aborts a reclaim whose judging got its result after it
// was listed as running.
var errJudgingFinished = errors.New("judging finished before it could be reclaimed")

// rejudge queues a new judging for a submission. With runningID set only
// that judging is replaced, and only while it is still unfinished.
func (c *Coordinator) rejudge(ctx context.Context, submissionID, runningID, kind, reason string) (*models.Judging, error) {
	db := c.db.WithContext(ctx)
	sub, err := database.GetSubmission(db, submissionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}
	if err != nil {
		return nil, err
	}

	var queued *models.Judging
	err = db.Transaction(func(tx *gorm.DB) error {
		prev, err := database.GetValidJudging(tx, sub.ID)
		if err != nil {
			return err
		}
		if runningID != "" {
			ok, err := database.InvalidateRunningJudging(tx, runningID)
			if err != nil {
				return err
			}
			if !ok {
				return errJudgingFinished
			}
		}
		if _, err := database.InvalidateJudgings(tx, sub.ID); err != nil {
			return err
		}
		queued = &models.Judging{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			ContestID:    sub.ContestID,
			Valid:        true,
			Reason:       reason,
		}
		if prev != nil {
			queued.PrevJudgingID = &prev.ID
		}
		if err := database.CreateJudging(tx, queued); err != nil {
			return err
		}
		return database.ReleaseSubmission(tx, sub.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.Rejudges.WithLabelValues(kind).Inc()
	zap.S().Infof("submission %s queued for rejudging as %s: %s", sub.ID, queued.ID, reason)
	if cc, err := c.registry.Context(sub.ContestID); err == nil {
		c.updateScore(ctx, cc, sub)
	}
	return queued, nil
}

// SetSubmissionValidity includes or excludes a submission from scoring.
func (c *Coordinator) SetSubmissionValidity(ctx context.Context, submissionID string, valid bool) error {
	db := c.db.WithContext(ctx)
	sub, err := database.GetSubmission(db, submissionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}
	if err != nil {
		return err
	}
	if err := database.UpdateSubmissionValidity(db, submissionID, valid); err != nil {
		return err
	}
	zap.S().Infof("submission %s marked valid=%t", submissionID, valid)
	if cc, err := c.registry.Context(sub.ContestID); err == nil {
		c.updateScore(ctx, cc, sub)
	}
	return nil
}

// RegisterJudgehost creates or updates a judgehost and activates it.
func (c *Coordinator) RegisterJudgehost(ctx context.Context, name string, restrictions models.Restrictions) (*models.Judgehost, error) {
	jh := &models.Judgehost{
		Name:         name,
		Active:       true,
		Restrictions: restrictions,
	}
	if err := database.UpsertJudgehost(c.db.WithContext(ctx), jh); err != nil {
		return nil, err
	}
	return jh, nil
}

func (c *Coordinator) SetJudgehostActive(ctx context.Context, name string, active bool) error {
	err := database.SetJudgehostActive(c.db.WithContext(ctx), name, active)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownJudgehost, name)
	}
	return err
}

func (c *Coordinator) Judgehosts(ctx context.Context) ([]models.Judgehost, error) {
	return database.GetAllJudgehosts(c.db.WithContext(ctx))
}

// ReclaimAbandoned requeues running judgings whose judgehost has not been
// heard from for longer than timeout.
func (c *Coordinator) ReclaimAbandoned(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}
	db := c.db.WithContext(ctx)
	running, err := database.GetRunningJudgings(db)
	if err != nil {
		return 0, err
	}
	if len(running) == 0 {
		return 0, nil
	}
	hosts, err := database.GetAllJudgehosts(db)
	if err != nil {
		return 0, err
	}
	lastSeen := make(map[string]*time.Time, len(hosts))
	for i := range hosts {
		lastSeen[hosts[i].Name] = hosts[i].PollTime
	}

	now := c.now()
	reclaimed := 0
	for _, j := range running {
		seen := lastSeen[*j.Judgehost]
		if seen == nil || (j.StartTime != nil && j.StartTime.After(*seen)) {
			seen = j.StartTime
		}
		if seen != nil && now.Sub(*seen) <= timeout {
			continue
		}
		reason := fmt.Sprintf("judgehost %s went silent", *j.Judgehost)
		if seen != nil {
			reason = fmt.Sprintf("judgehost %s silent since %s", *j.Judgehost, seen.Format(time.RFC3339))
		}
		_, err := c.rejudge(ctx, j.SubmissionID, j.ID, "abandoned", reason)
		if errors.Is(err, errJudgingFinished) {
			zap.S().Infof("judging %s finished while being reclaimed, keeping its result", j.ID)
			continue
		}
		if err != nil {
			zap.S().Errorf("failed to reclaim judging %s: %v", j.ID, err)
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		zap.S().Warnf("reclaimed %d abandoned judgings", reclaimed)
	}
	return reclaimed, nil
}

// Recover runs once at startup. Judgings left running by a previous process
// are requeued when reclaiming is enabled, otherwise they are only reported.
func (c *Coordinator) Recover(ctx context.Context) error {
	zap.S().Info("starting recovery process for interrupted judgings...")
	running, err := database.GetRunningJudgings(c.db.WithContext(ctx))
	if err != nil {
		return err
	}
	if len(running) == 0 {
		zap.S().Info("no interrupted judgings found to recover")
		return nil
	}
	if c.opts.AbandonTimeout <= 0 {
		zap.S().Warnf("found %d running judgings, leaving them to their judgehosts", len(running))
		return nil
	}
	n, err := c.ReclaimAbandoned(ctx, c.opts.AbandonTimeout)
	if err != nil {
		return err
	}
	zap.S().Infof("recovery process completed, %d judgings requeued", n)
	return nil
}

// RunReclaimer periodically reclaims abandoned judgings until ctx is done.
func (c *Coordinator) RunReclaimer(ctx context.Context) {
	if c.opts.AbandonTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.AbandonTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ReclaimAbandoned(ctx, c.opts.AbandonTimeout); err != nil {
				zap.S().Errorf("reclaiming abandoned judgings failed: %v", err)
			}
		}
	}
}
