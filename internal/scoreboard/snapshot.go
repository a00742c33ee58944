package scoreboard

import (
	"errors"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
)

type Audience string

const (
	AudiencePublic Audience = "public"
	AudienceJury   Audience = "jury"
	// AudienceJuryFrozen shows the jury exactly what the public sees.
	AudienceJuryFrozen Audience = "jury-frozen"
)

var (
	ErrNotStarted      = errors.New("contest has not started")
	ErrUnknownAudience = errors.New("unknown audience")
)

func ParseAudience(s string) (Audience, error) {
	switch a := Audience(s); a {
	case AudiencePublic, AudienceJury, AudienceJuryFrozen:
		return a, nil
	}
	return "", ErrUnknownAudience
}

type CellView struct {
	ProblemID    string `json:"problem_id"`
	Submissions  int    `json:"submissions"`
	Pending      int    `json:"pending"`
	Correct      bool   `json:"correct"`
	FirstToSolve bool   `json:"first_to_solve"`
	SolveTime    int64  `json:"time"`
	Penalty      int64  `json:"penalty"`
	Runtime      int    `json:"runtime"`
}

type Row struct {
	Rank      int        `json:"rank"`
	TeamID    string     `json:"team_id"`
	TeamName  string     `json:"team_name"`
	Category  string     `json:"category,omitempty"`
	SortOrder int        `json:"sortorder"`
	Solved    int        `json:"solved"`
	TotalTime int64      `json:"total_time"`
	Cells     []CellView `json:"problems"`
}

// Snapshot is an immutable ranked scoreboard. Rows are shared between
// snapshots of the same state and must not be modified.
type Snapshot struct {
	ContestID string        `json:"contest_id"`
	Audience  Audience      `json:"audience"`
	AsOf      time.Time     `json:"as_of"`
	State     contest.State `json:"state"`
	Frozen    bool          `json:"frozen"`
	Version   uint64        `json:"version"`
	Problems  []string      `json:"problems"`
	Rows      []Row         `json:"rows"`
}

func (s *Snapshot) Row(teamID string) (*Row, bool) {
	for i := range s.Rows {
		if s.Rows[i].TeamID == teamID {
			return &s.Rows[i], true
		}
	}
	return nil, false
}

type cellKey struct {
	team    string
	problem string
}

// boardState is a published, read-only set of cells.
type boardState struct {
	version uint64
	cells   map[cellKey]*Cell
}

func (s *boardState) with(cell *Cell, version uint64) *boardState {
	cells := make(map[cellKey]*Cell, len(s.cells)+1)
	for k, v := range s.cells {
		cells[k] = v
	}
	cells[cellKey{cell.TeamID, cell.ProblemID}] = cell
	return &boardState{version: version, cells: cells}
}

func (s *boardState) teamCells(teamID string, problemIDs []string) map[string]*Cell {
	out := make(map[string]*Cell, len(problemIDs))
	for _, pid := range problemIDs {
		if c, ok := s.cells[cellKey{teamID, pid}]; ok {
			out[pid] = c
		}
	}
	return out
}

// firstToSolve marks, per problem and sort order group, the correct cell
// whose solving submission has no earlier correct or pending submission
// from any team of the group.
func (s *boardState) firstToSolve(cc *contest.Context) map[cellKey]bool {
	type groupKey struct {
		problem   string
		sortOrder int
	}
	earliest := make(map[groupKey]time.Time)
	for _, team := range cc.Contest.Teams {
		for _, pid := range cc.Contest.ProblemIDs {
			c, ok := s.cells[cellKey{team.ID, pid}]
			if !ok || c.firstBlocking.IsZero() {
				continue
			}
			k := groupKey{pid, team.SortOrder}
			if cur, ok := earliest[k]; !ok || c.firstBlocking.Before(cur) {
				earliest[k] = c.firstBlocking
			}
		}
	}

	out := make(map[cellKey]bool)
	for _, team := range cc.Contest.Teams {
		for _, pid := range cc.Contest.ProblemIDs {
			c, ok := s.cells[cellKey{team.ID, pid}]
			if !ok || !c.Jury.Correct {
				continue
			}
			if !c.Jury.SolvedAt.After(earliest[groupKey{pid, team.SortOrder}]) {
				out[cellKey{team.ID, pid}] = true
			}
		}
	}
	return out
}

func (s *boardState) rows(cc *contest.Context, jury bool) []Row {
	teams := cc.Contest.Teams
	problems := cc.Contest.ProblemIDs
	firsts := s.firstToSolve(cc)

	scores := make([]TeamScore, 0, len(teams))
	for _, team := range teams {
		scores = append(scores, Totals(cc, team, s.teamCells(team.ID, problems), jury))
	}

	ranked := Rank(scores)
	rows := make([]Row, 0, len(ranked))
	for _, r := range ranked {
		row := Row{
			Rank:      r.Rank,
			TeamID:    r.TeamID,
			TeamName:  r.TeamName,
			Category:  r.Category,
			SortOrder: r.SortOrder,
			Solved:    r.Solved,
			TotalTime: r.TotalTime,
			Cells:     make([]CellView, 0, len(problems)),
		}
		for _, pid := range problems {
			view := CellView{ProblemID: pid}
			if c, ok := s.cells[cellKey{r.TeamID, pid}]; ok {
				v := c.Public
				if jury {
					v = c.Jury
				}
				view.Submissions = v.Submissions
				view.Pending = v.Pending
				view.Correct = v.Correct
				view.Runtime = v.Runtime
				if v.Correct {
					view.SolveTime = cc.Rules.ScoreTime(v.SolveTime)
					view.Penalty = cc.Rules.Penalty(true, v.Submissions)
					view.FirstToSolve = firsts[cellKey{r.TeamID, pid}]
				}
			}
			row.Cells = append(row.Cells, view)
		}
		rows = append(rows, row)
	}
	return rows
}
