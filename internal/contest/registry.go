package contest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/config"
)

var (
	ErrContestNotFound  = errors.New("contest not found")
	ErrProblemNotFound  = errors.New("problem not found")
	ErrLanguageNotFound = errors.New("language not found")
	ErrTeamNotFound     = errors.New("team not found")
)

// Context is the explicit contest configuration handed to every scoring
// and judging operation.
type Context struct {
	Contest *Contest
	Rules   Rules
}

func (c *Context) ID() string {
	return c.Contest.ID
}

func (c *Context) Clock() *Clock {
	return &c.Contest.Clock
}

// Registry holds the shared, reloadable contest state.
type Registry struct {
	sync.RWMutex
	Contests            map[string]*Contest
	Problems            map[string]*Problem
	ProblemToContestMap map[string]*Contest
	Languages           map[string]*config.Language

	defaults Rules
}

func NewRegistry(defaults Rules, languages []config.Language) *Registry {
	r := &Registry{
		Contests:            make(map[string]*Contest),
		Problems:            make(map[string]*Problem),
		ProblemToContestMap: make(map[string]*Contest),
		Languages:           make(map[string]*config.Language),
		defaults:            defaults,
	}
	for i := range languages {
		lang := languages[i]
		r.Languages[lang.ID] = &lang
	}
	return r
}

// Load replaces the contest set with the contents of the given directories.
func (r *Registry) Load(dirs []string) error {
	contests, problems, err := LoadAllContestsAndProblems(dirs)
	if err != nil {
		return err
	}
	r.Set(contests, problems)
	return nil
}

func (r *Registry) Set(contests map[string]*Contest, problems map[string]*Problem) {
	problemToContest := make(map[string]*Contest)
	for _, c := range contests {
		for _, pid := range c.ProblemIDs {
			problemToContest[pid] = c
		}
	}

	r.Lock()
	defer r.Unlock()
	r.Contests = contests
	r.Problems = problems
	r.ProblemToContestMap = problemToContest
}

func (r *Registry) Contest(id string) (*Contest, error) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.Contests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContestNotFound, id)
	}
	return c, nil
}

func (r *Registry) Context(contestID string) (*Context, error) {
	c, err := r.Contest(contestID)
	if err != nil {
		return nil, err
	}
	return &Context{Contest: c, Rules: r.defaults.merge(c.Scoring)}, nil
}

func (r *Registry) Problem(id string) (*Problem, error) {
	r.RLock()
	defer r.RUnlock()
	p, ok := r.Problems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProblemNotFound, id)
	}
	return p, nil
}

func (r *Registry) Language(id string) (*config.Language, error) {
	r.RLock()
	defer r.RUnlock()
	l, ok := r.Languages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLanguageNotFound, id)
	}
	return l, nil
}

// ActiveContests returns the contests active at now, ordered by id.
func (r *Registry) ActiveContests(now time.Time) []*Contest {
	r.RLock()
	defer r.RUnlock()
	var out []*Contest
	for _, c := range r.Contests {
		if c.Clock.Active(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllContests returns every loaded contest ordered by start time.
func (r *Registry) AllContests() []*Contest {
	r.RLock()
	defer r.RUnlock()
	out := make([]*Contest, 0, len(r.Contests))
	for _, c := range r.Contests {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Clock.Start.Equal(out[j].Clock.Start) {
			return out[i].Clock.Start.Before(out[j].Clock.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// JudgeableProblems lists judgeable problem ids of the given contests.
func (r *Registry) JudgeableProblems(contests []*Contest) []string {
	r.RLock()
	defer r.RUnlock()
	var out []string
	for _, c := range contests {
		for _, pid := range c.ProblemIDs {
			if p, ok := r.Problems[pid]; ok && p.Judgeable() {
				out = append(out, pid)
			}
		}
	}
	return out
}

func (r *Registry) JudgeableLanguages() []string {
	r.RLock()
	defer r.RUnlock()
	var out []string
	for id, l := range r.Languages {
		if l.Judgeable() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Contest) Team(id string) (*Team, error) {
	for _, t := range c.Teams {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, id)
}

func (c *Contest) HasProblem(id string) bool {
	for _, pid := range c.ProblemIDs {
		if pid == id {
			return true
		}
	}
	return false
}
