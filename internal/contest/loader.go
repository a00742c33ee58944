package contest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Contest struct {
	ID               string         `yaml:"id" json:"id"`
	Name             string         `yaml:"name" json:"name"`
	ActivateTime     TimeSpec       `yaml:"activatetime" json:"-"`
	StartTime        TimeSpec       `yaml:"starttime" json:"-"`
	StartTimeEnabled *bool          `yaml:"starttime_enabled" json:"-"`
	FreezeTime       TimeSpec       `yaml:"freezetime" json:"-"`
	EndTime          TimeSpec       `yaml:"endtime" json:"-"`
	UnfreezeTime     TimeSpec       `yaml:"unfreezetime" json:"-"`
	FinalizeTime     TimeSpec       `yaml:"finalizetime" json:"-"`
	DeactivateTime   TimeSpec       `yaml:"deactivatetime" json:"-"`
	ProblemDirs      []string       `yaml:"problems" json:"-"`
	Scoring          *RulesOverride `yaml:"scoring" json:"-"`
	ProblemIDs       []string       `yaml:"-" json:"problem_ids"`
	Teams            []*Team        `yaml:"-" json:"-"`
	Clock            Clock          `yaml:"-" json:"-"`
	BasePath         string         `yaml:"-" json:"-"`
}

type Team struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Category  string `yaml:"category" json:"category"`
	SortOrder int    `yaml:"sortorder" json:"sortorder"`
	// Penalty is added to the team's total time, in scoring units.
	Penalty int `yaml:"penalty" json:"penalty"`
}

type Testcase struct {
	Rank   int    `yaml:"rank" json:"rank"`
	Input  string `yaml:"input" json:"input"`
	Output string `yaml:"output" json:"output"`
	Sample bool   `yaml:"sample" json:"sample"`
}

type Problem struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	TimeLimit   float64    `yaml:"timelimit" json:"timelimit"`
	MemoryLimit int64      `yaml:"memorylimit" json:"memorylimit"`
	OutputLimit int64      `yaml:"outputlimit" json:"outputlimit"`
	Testcases   []Testcase `yaml:"testcases" json:"-"`
	AllowJudge  *bool      `yaml:"allow_judge" json:"-"`
	LazyEval    *bool      `yaml:"lazy_eval" json:"-"`
	ContestID   string     `yaml:"-" json:"contest_id"`
	BasePath    string     `yaml:"-" json:"-"`
}

func (p *Problem) Judgeable() bool {
	return p.AllowJudge == nil || *p.AllowJudge
}

// TimeLimitFor scales the time limit by a language factor, rounded up to
// whole seconds.
func (p *Problem) TimeLimitFor(factor float64) int {
	if factor <= 0 {
		factor = 1
	}
	return int(math.Ceil(p.TimeLimit * factor))
}

// FindContestDirs scans a root directory and returns a slice of all its immediate subdirectories.
func FindContestDirs(rootPath string) ([]string, error) {
	if rootPath == "" {
		zap.S().Warn("contests root is not configured, no contests will be loaded")
		return []string{}, nil
	}

	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read contests root directory '%s': %w", rootPath, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(rootPath, entry.Name()))
		}
	}
	return dirs, nil
}

// LoadAllContestsAndProblems loads every contest directory. Contests that
// fail to load or validate are skipped with a warning.
func LoadAllContestsAndProblems(contestDirs []string) (map[string]*Contest, map[string]*Problem, error) {
	contests := make(map[string]*Contest)
	problems := make(map[string]*Problem)

	for _, dir := range contestDirs {
		contest, contestProblems, err := LoadContest(dir)
		if err != nil {
			zap.S().Warnf("failed to load contest from %s: %v", dir, err)
			continue
		}
		if _, exists := contests[contest.ID]; exists {
			zap.S().Warnf("duplicate contest ID %s found in %s, skipping", contest.ID, dir)
			continue
		}
		contests[contest.ID] = contest

		for _, p := range contestProblems {
			if _, exists := problems[p.ID]; exists {
				zap.S().Warnf("duplicate problem ID %s found, overwriting", p.ID)
			}
			problems[p.ID] = p
		}
	}
	return contests, problems, nil
}

func LoadContest(dir string) (*Contest, []*Problem, error) {
	data, err := os.ReadFile(filepath.Join(dir, "contest.yaml"))
	if err != nil {
		return nil, nil, err
	}
	var contest Contest
	if err := yaml.Unmarshal(data, &contest); err != nil {
		return nil, nil, err
	}
	if contest.ID == "" {
		return nil, nil, fmt.Errorf("contest in %s has no id", dir)
	}
	contest.BasePath = dir

	if err := contest.resolveClock(); err != nil {
		return nil, nil, fmt.Errorf("contest %s: %w", contest.ID, err)
	}

	teams, err := loadTeams(filepath.Join(dir, "teams.yaml"))
	if err != nil {
		return nil, nil, fmt.Errorf("contest %s: %w", contest.ID, err)
	}
	contest.Teams = teams

	var loadedProblems []*Problem
	for _, problemDirName := range contest.ProblemDirs {
		problem, err := LoadProblem(filepath.Join(dir, problemDirName))
		if err != nil {
			zap.S().Warnf("failed to load problem %s in contest %s: %v", problemDirName, contest.ID, err)
			continue
		}
		problem.ContestID = contest.ID
		contest.ProblemIDs = append(contest.ProblemIDs, problem.ID)
		loadedProblems = append(loadedProblems, problem)
	}
	return &contest, loadedProblems, nil
}

func (c *Contest) resolveClock() error {
	if c.StartTime.IsZero() || c.StartTime.relative {
		return fmt.Errorf("%w: starttime must be absolute", ErrInvalidClock)
	}
	start := c.StartTime.abs
	end, ok := c.EndTime.Resolve(start)
	if !ok {
		return fmt.Errorf("%w: endtime is required", ErrInvalidClock)
	}
	c.Clock = Clock{
		Activate:     c.ActivateTime.resolvePtr(start),
		Start:        start,
		StartEnabled: c.StartTimeEnabled == nil || *c.StartTimeEnabled,
		Freeze:       c.FreezeTime.resolvePtr(start),
		End:          end,
		Unfreeze:     c.UnfreezeTime.resolvePtr(start),
		Finalize:     c.FinalizeTime.resolvePtr(start),
		Deactivate:   c.DeactivateTime.resolvePtr(start),
	}
	return c.Clock.Validate()
}

func loadTeams(path string) ([]*Team, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var teams []*Team
	if err := yaml.Unmarshal(data, &teams); err != nil {
		return nil, fmt.Errorf("parse teams.yaml: %w", err)
	}
	seen := make(map[string]bool, len(teams))
	for _, t := range teams {
		if t.ID == "" {
			return nil, fmt.Errorf("teams.yaml: team without id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("teams.yaml: duplicate team %s", t.ID)
		}
		seen[t.ID] = true
		if t.Name == "" {
			t.Name = t.ID
		}
	}
	return teams, nil
}

func LoadProblem(dir string) (*Problem, error) {
	data, err := os.ReadFile(filepath.Join(dir, "problem.yaml"))
	if err != nil {
		return nil, err
	}
	var problem Problem
	if err := yaml.Unmarshal(data, &problem); err != nil {
		return nil, err
	}
	if problem.ID == "" {
		return nil, fmt.Errorf("problem in %s has no id", dir)
	}
	problem.BasePath = dir

	if problem.TimeLimit <= 0 {
		problem.TimeLimit = 1
	}
	for i := range problem.Testcases {
		if problem.Testcases[i].Rank == 0 {
			problem.Testcases[i].Rank = i + 1
		}
	}
	sort.SliceStable(problem.Testcases, func(i, j int) bool {
		return problem.Testcases[i].Rank < problem.Testcases[j].Rank
	})
	return &problem, nil
}
