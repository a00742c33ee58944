package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONMap is a helper type for storing JSON data in the database.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("type assertion to []byte failed")
	}
}

// Restrictions limits what a judgehost may claim. Empty lists allow everything.
type Restrictions struct {
	Contests   []string `json:"contests,omitempty"`
	Problems   []string `json:"problems,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	RejudgeOwn bool     `json:"rejudge_own"`
}

func (r Restrictions) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Restrictions) Scan(value interface{}) error {
	return scanJSON(value, r)
}

type Team struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name               string     `json:"name"`
	SortOrder          int        `json:"sortorder"`
	JudgingLastStarted *time.Time `gorm:"index" json:"judging_last_started"`
}

type Judgehost struct {
	Name      string `gorm:"primaryKey" json:"name"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Active       bool         `json:"active"`
	PollTime     *time.Time   `json:"polltime"`
	Restrictions Restrictions `gorm:"type:text" json:"restrictions"`
}

// Submission is immutable after creation except for Valid and the claim
// columns. Judgehost is NULL while the submission is unclaimed.
type Submission struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ContestID  string    `gorm:"index" json:"contest_id"`
	TeamID     string    `gorm:"index" json:"team_id"`
	ProblemID  string    `gorm:"index" json:"problem_id"`
	LanguageID string    `json:"language_id"`
	SubmitTime time.Time `gorm:"index" json:"submit_time"`
	Valid      bool      `gorm:"index" json:"valid"`
	SourceRef  string    `json:"source_ref"`

	Judgehost *string    `gorm:"index" json:"judgehost"`
	ClaimedAt *time.Time `json:"claimed_at"`

	Judgings []Judging `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"judgings,omitempty"`
}

// Judging is one evaluation attempt of a submission. At most one judging
// per submission is valid.
type Judging struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time

	SubmissionID  string     `gorm:"index" json:"submission_id"`
	ContestID     string     `gorm:"index" json:"contest_id"`
	Judgehost     *string    `gorm:"index" json:"judgehost"`
	StartTime     *time.Time `json:"starttime"`
	EndTime       *time.Time `json:"endtime"`
	Result        *string    `json:"result"`
	Valid         bool       `gorm:"index" json:"valid"`
	PrevJudgingID *string    `json:"prev_judging_id"`
	Reason        string     `json:"reason,omitempty"`
	MaxRuntime    float64    `json:"max_runtime"`
	Info          JSONMap    `gorm:"type:text" json:"info"`

	Runs []JudgingRun `gorm:"foreignKey:JudgingID;constraint:OnDelete:CASCADE" json:"runs,omitempty"`
}

func (j *Judging) Finished() bool {
	return j.EndTime != nil
}

// JudgingRun is the immutable outcome of one test case.
type JudgingRun struct {
	ID        uint `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time

	JudgingID string  `gorm:"uniqueIndex:idx_judging_rank" json:"judging_id"`
	Ordinal   int     `gorm:"uniqueIndex:idx_judging_rank" json:"rank"`
	Verdict   string  `json:"verdict"`
	Runtime   float64 `json:"runtime"`
}

// Balloon is a first correct solve of a (team, problem) pair. Seq orders
// balloons for the jury's delivery queue.
type Balloon struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement" json:"seq"`
	CreatedAt time.Time

	ContestID    string        `gorm:"uniqueIndex:idx_balloon_cell" json:"contest_id"`
	TeamID       string        `gorm:"uniqueIndex:idx_balloon_cell" json:"team_id"`
	ProblemID    string        `gorm:"uniqueIndex:idx_balloon_cell" json:"problem_id"`
	SubmissionID string        `json:"submission_id"`
	ContestTime  time.Duration `json:"contest_time"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	FirstToSolve bool          `json:"first_to_solve"`
	Done         bool          `json:"done"`
}
