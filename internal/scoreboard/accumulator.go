package scoreboard

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/verdict"
)

// SubmissionRecord is the scoring view of a valid submission and the
// terminal result of its valid judging.
type SubmissionRecord struct {
	SubmissionID string
	TeamID       string
	ProblemID    string
	SubmitTime   time.Time
	// Result is nil while the submission has no finished valid judging.
	Result *verdict.Verdict
	// Runtime is the maximum run time of the judging, in seconds.
	Runtime float64
}

// Source reads valid submissions with the result of their valid judging.
type Source interface {
	ContestSubmissions(ctx context.Context, contestID string) ([]SubmissionRecord, error)
	CellSubmissions(ctx context.Context, contestID, teamID, problemID string) ([]SubmissionRecord, error)
}

// Variant is one audience's view of a (team, problem) cell.
type Variant struct {
	Submissions  int
	Pending      int
	Correct      bool
	SolveTime    time.Duration
	SolvedAt     time.Time
	SubmissionID string
	// Runtime of the fastest correct submission in milliseconds, 0 when unknown.
	Runtime int
}

func (v *Variant) improveRuntime(ms int) {
	if ms <= 0 {
		return
	}
	if v.Runtime == 0 || ms < v.Runtime {
		v.Runtime = ms
	}
}

// Cell is the score state of one team on one problem.
type Cell struct {
	TeamID    string
	ProblemID string
	Jury      Variant
	Public    Variant
	// firstBlocking is the earliest submission that was correct or still
	// pending; it decides first-to-solve across teams.
	firstBlocking time.Time
}

func (c *Cell) markBlocking(t time.Time) {
	if c.firstBlocking.IsZero() || t.Before(c.firstBlocking) {
		c.firstBlocking = t
	}
}

func sortRecords(records []SubmissionRecord) []SubmissionRecord {
	sorted := make([]SubmissionRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].SubmitTime.Equal(sorted[j].SubmitTime) {
			return sorted[i].SubmitTime.Before(sorted[j].SubmitTime)
		}
		return sorted[i].SubmissionID < sorted[j].SubmissionID
	})
	return sorted
}

// Accumulate computes the cell of one team on one problem from all of that
// team's valid submissions to the problem.
func Accumulate(cc *contest.Context, teamID, problemID string, records []SubmissionRecord) Cell {
	clock := cc.Clock()
	cell := Cell{TeamID: teamID, ProblemID: problemID}
	jury, publ := &cell.Jury, &cell.Public

	for _, rec := range sortRecords(records) {
		// too-late submissions are neither pending nor solving
		if !rec.SubmitTime.Before(clock.End) {
			continue
		}
		afterFreeze := clock.AfterFreeze(rec.SubmitTime)
		correct := rec.Result != nil && rec.Result.IsCorrect()

		if rec.Result == nil || correct {
			cell.markBlocking(rec.SubmitTime)
		}
		if correct {
			ms := int(math.Floor(rec.Runtime * 1000))
			jury.improveRuntime(ms)
			if !afterFreeze {
				publ.improveRuntime(ms)
			}
		}

		if publ.Correct {
			continue
		}

		if rec.Result == nil {
			// after the jury has a correct one, later submissions only stay pending for the public
			if !jury.Correct {
				jury.Pending++
			}
			publ.Pending++
			continue
		}

		counts := cc.Rules.CompilePenalty || *rec.Result != verdict.CompilerError
		if !jury.Correct && counts {
			jury.Submissions++
		}
		if afterFreeze {
			publ.Pending++
		} else if counts {
			publ.Submissions++
		}

		if jury.Correct || !correct {
			continue
		}

		solveAt := rec.SubmitTime
		if solveAt.Before(clock.Start) {
			solveAt = clock.Start
		}
		jury.Correct = true
		jury.SolveTime = clock.ContestTime(solveAt)
		jury.SolvedAt = rec.SubmitTime
		jury.SubmissionID = rec.SubmissionID
		if !afterFreeze {
			*publ = Variant{
				Submissions:  publ.Submissions,
				Pending:      publ.Pending,
				Correct:      true,
				SolveTime:    jury.SolveTime,
				SolvedAt:     jury.SolvedAt,
				SubmissionID: jury.SubmissionID,
				Runtime:      publ.Runtime,
			}
		}
	}
	return cell
}

// TeamScore is the aggregate of a team over all problems for one audience.
type TeamScore struct {
	TeamID    string
	TeamName  string
	Category  string
	SortOrder int
	Solved    int
	TotalTime int64
	// LastSolve is the contest time of the latest solve, informational only.
	LastSolve time.Duration
}

// Totals folds a team's cells into its score. solved counts correct cells,
// total time is the team penalty plus truncated solve times plus penalty
// time for rejected attempts before each solve.
func Totals(cc *contest.Context, team *contest.Team, cells map[string]*Cell, jury bool) TeamScore {
	score := TeamScore{
		TeamID:    team.ID,
		TeamName:  team.Name,
		Category:  team.Category,
		SortOrder: team.SortOrder,
		TotalTime: int64(team.Penalty),
	}
	for _, pid := range cc.Contest.ProblemIDs {
		cell, ok := cells[pid]
		if !ok {
			continue
		}
		v := cell.Public
		if jury {
			v = cell.Jury
		}
		if !v.Correct {
			continue
		}
		score.Solved++
		score.TotalTime += cc.Rules.ScoreTime(v.SolveTime) + cc.Rules.Penalty(true, v.Submissions)
		if v.SolveTime > score.LastSolve {
			score.LastSolve = v.SolveTime
		}
	}
	return score
}
