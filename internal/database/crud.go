package database

import (
	"errors"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Team CRUD

// SyncTeams upserts teams loaded from contest definitions, keeping their
// judging_last_started stamps.
func SyncTeams(db *gorm.DB, teams []models.Team) error {
	if len(teams) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "sort_order", "updated_at"}),
	}).Create(&teams).Error
}

func GetTeam(db *gorm.DB, id string) (*models.Team, error) {
	var team models.Team
	if err := db.Where("id = ?", id).First(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

func StampTeamJudgingStarted(db *gorm.DB, teamID string, at time.Time) error {
	return db.Model(&models.Team{}).Where("id = ?", teamID).Update("judging_last_started", at).Error
}

// Judgehost CRUD

// UpsertJudgehost registers a judgehost or refreshes its restrictions.
// Registration activates the judgehost.
func UpsertJudgehost(db *gorm.DB, jh *models.Judgehost) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "restrictions", "updated_at"}),
	}).Create(jh).Error
}

func GetJudgehost(db *gorm.DB, name string) (*models.Judgehost, error) {
	var jh models.Judgehost
	if err := db.Where("name = ?", name).First(&jh).Error; err != nil {
		return nil, err
	}
	return &jh, nil
}

func GetAllJudgehosts(db *gorm.DB) ([]models.Judgehost, error) {
	var hosts []models.Judgehost
	if err := db.Order("name asc").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}

func SetJudgehostActive(db *gorm.DB, name string, active bool) error {
	result := db.Model(&models.Judgehost{}).Where("name = ?", name).Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func TouchJudgehost(db *gorm.DB, name string, at time.Time) error {
	return db.Model(&models.Judgehost{}).Where("name = ?", name).Update("poll_time", at).Error
}

// Submission CRUD
func CreateSubmission(db *gorm.DB, sub *models.Submission) error {
	return db.Create(sub).Error
}

func GetSubmission(db *gorm.DB, id string) (*models.Submission, error) {
	var sub models.Submission
	if err := db.Preload("Judgings", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at asc")
	}).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func GetSubmissionsByContest(db *gorm.DB, contestID string) ([]models.Submission, error) {
	var subs []models.Submission
	if err := db.Where("contest_id = ?", contestID).Order("submit_time asc, id asc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func UpdateSubmissionValidity(db *gorm.DB, id string, valid bool) error {
	result := db.Model(&models.Submission{}).Where("id = ?", id).Update("valid", valid)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClaimFilter narrows the candidates a judgehost may claim. Empty slices
// mean no restriction, except Contests which must be non-empty.
type ClaimFilter struct {
	Contests  []string
	Problems  []string
	Languages []string
	Exclude   []string
	// NotJudgedBy skips submissions this judgehost judged before.
	NotJudgedBy string
}

// NextClaimCandidate returns the unclaimed valid submission that should be
// judged next: teams that waited longest since their last judging first,
// then by submission time. It returns nil when nothing is claimable.
func NextClaimCandidate(db *gorm.DB, f ClaimFilter) (*models.Submission, error) {
	if len(f.Contests) == 0 {
		return nil, nil
	}
	q := db.Model(&models.Submission{}).
		Select("submissions.*").
		Joins("LEFT JOIN teams ON teams.id = submissions.team_id").
		Where("submissions.judgehost IS NULL AND submissions.valid = ?", true).
		Where("submissions.contest_id IN ?", f.Contests)
	if len(f.Problems) > 0 {
		q = q.Where("submissions.problem_id IN ?", f.Problems)
	}
	if len(f.Languages) > 0 {
		q = q.Where("submissions.language_id IN ?", f.Languages)
	}
	if len(f.Exclude) > 0 {
		q = q.Where("submissions.id NOT IN ?", f.Exclude)
	}
	if f.NotJudgedBy != "" {
		q = q.Where("NOT EXISTS (SELECT 1 FROM judgings WHERE judgings.submission_id = submissions.id AND judgings.judgehost = ?)", f.NotJudgedBy)
	}

	var sub models.Submission
	err := q.Order("teams.judging_last_started IS NOT NULL, teams.judging_last_started asc").
		Order("submissions.submit_time asc, submissions.id asc").
		Limit(1).
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ClaimSubmission atomically assigns an unclaimed submission to a
// judgehost. It reports false when another judgehost claimed it first.
func ClaimSubmission(db *gorm.DB, submissionID, judgehost string, at time.Time) (bool, error) {
	result := db.Model(&models.Submission{}).
		Where("id = ? AND judgehost IS NULL", submissionID).
		Updates(map[string]interface{}{
			"judgehost":  judgehost,
			"claimed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func ReleaseSubmission(db *gorm.DB, submissionID string) error {
	return db.Model(&models.Submission{}).
		Where("id = ?", submissionID).
		Updates(map[string]interface{}{
			"judgehost":  gorm.Expr("NULL"),
			"claimed_at": gorm.Expr("NULL"),
		}).Error
}

// Judging CRUD
func CreateJudging(db *gorm.DB, j *models.Judging) error {
	return db.Create(j).Error
}

func GetJudging(db *gorm.DB, id string) (*models.Judging, error) {
	var j models.Judging
	if err := db.Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// GetValidJudging returns the valid judging of a submission, or nil.
func GetValidJudging(db *gorm.DB, submissionID string) (*models.Judging, error) {
	var j models.Judging
	result := db.Where("submission_id = ? AND valid = ?", submissionID, true).Limit(1).Find(&j)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &j, nil
}

// StartJudging hands a queued judging to a judgehost.
func StartJudging(db *gorm.DB, judgingID, judgehost string, at time.Time) (bool, error) {
	result := db.Model(&models.Judging{}).
		Where("id = ? AND valid = ? AND judgehost IS NULL", judgingID, true).
		Updates(map[string]interface{}{
			"judgehost":  judgehost,
			"start_time": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func InvalidateJudgings(db *gorm.DB, submissionID string) (int64, error) {
	result := db.Model(&models.Judging{}).
		Where("submission_id = ? AND valid = ?", submissionID, true).
		Update("valid", false)
	return result.RowsAffected, result.Error
}

// InvalidateRunningJudging invalidates a judging only while it is still
// valid and unfinished. It reports false when a result landed first.
func InvalidateRunningJudging(db *gorm.DB, judgingID string) (bool, error) {
	result := db.Model(&models.Judging{}).
		Where("id = ? AND valid = ? AND end_time IS NULL", judgingID, true).
		Update("valid", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// JudgingUpdate is the outcome of evaluating the runs of a judging.
type JudgingUpdate struct {
	Result     *string
	MaxRuntime float64
	EndTime    *time.Time
	Info       models.JSONMap
}

// UpdateJudgingResult records a result on a judging that is still valid,
// unfinished and owned by judgehost. It reports false when the judging was
// superseded in the meantime.
func UpdateJudgingResult(db *gorm.DB, judgingID, judgehost string, u JudgingUpdate) (bool, error) {
	values := map[string]interface{}{
		"result":      u.Result,
		"max_runtime": u.MaxRuntime,
	}
	if u.EndTime != nil {
		values["end_time"] = *u.EndTime
	}
	if u.Info != nil {
		values["info"] = u.Info
	}
	result := db.Model(&models.Judging{}).
		Where("id = ? AND valid = ? AND judgehost = ? AND end_time IS NULL", judgingID, true, judgehost).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// InsertJudgingRun stores a run. A second report for the same ordinal is
// ignored and reported as not inserted.
func InsertJudgingRun(db *gorm.DB, run *models.JudgingRun) (bool, error) {
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(run)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func GetJudgingRuns(db *gorm.DB, judgingID string) ([]models.JudgingRun, error) {
	var runs []models.JudgingRun
	if err := db.Where("judging_id = ?", judgingID).Order("ordinal asc").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRunningJudgings lists valid, unfinished judgings that are owned by a judgehost.
func GetRunningJudgings(db *gorm.DB) ([]models.Judging, error) {
	var js []models.Judging
	if err := db.Where("valid = ? AND end_time IS NULL AND judgehost IS NOT NULL", true).
		Order("start_time asc").
		Find(&js).Error; err != nil {
		return nil, err
	}
	return js, nil
}

// Balloon CRUD

// CreateBalloon stores a balloon unless its (contest, team, problem) cell
// already has one. It reports whether the balloon was inserted.
func CreateBalloon(db *gorm.DB, b *models.Balloon) (bool, error) {
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(b)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func GetBalloonsSince(db *gorm.DB, contestID string, seq uint64) ([]models.Balloon, error) {
	balloons := []models.Balloon{}
	if err := db.Where("contest_id = ? AND seq > ?", contestID, seq).Order("seq asc").Find(&balloons).Error; err != nil {
		return nil, err
	}
	return balloons, nil
}

// MarkBalloonDone reports false when no balloon has the sequence number.
func MarkBalloonDone(db *gorm.DB, seq uint64) (bool, error) {
	result := db.Model(&models.Balloon{}).Where("seq = ?", seq).Update("done", true)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	// mysql does not count rows that were already done
	var n int64
	if err := db.Model(&models.Balloon{}).Where("seq = ?", seq).Count(&n).Error; err != nil {
		return false, err
	}
	return n == 1, nil
}
