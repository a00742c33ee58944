package contest

import (
	"fmt"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/verdict"
)

// Rules are the scoring and judging parameters of a contest.
type Rules struct {
	// PenaltyTime is charged per rejected attempt before the first correct one, in minutes.
	PenaltyTime    int
	CompilePenalty bool
	ScoreInSeconds bool
	LazyEval       bool
	Priorities     verdict.Priorities
	Remap          verdict.Remap
}

// RulesOverride is the optional "scoring" block of contest.yaml.
type RulesOverride struct {
	PenaltyTime    *int  `yaml:"penalty_time"`
	CompilePenalty *bool `yaml:"compile_penalty"`
	ScoreInSeconds *bool `yaml:"score_in_seconds"`
	LazyEval       *bool `yaml:"lazy_eval"`
}

func RulesFromConfig(s config.Scoring) (Rules, error) {
	rules := Rules{
		CompilePenalty: s.CompilePenalty,
		ScoreInSeconds: s.ScoreInSeconds,
		LazyEval:       true,
		Priorities:     verdict.DefaultPriorities(),
		Remap:          verdict.Remap{},
	}
	if s.PenaltyTime != nil {
		rules.PenaltyTime = *s.PenaltyTime
	}
	if s.LazyEval != nil {
		rules.LazyEval = *s.LazyEval
	}
	if len(s.ResultsPrio) > 0 {
		rules.Priorities = verdict.Priorities{}
		for name, prio := range s.ResultsPrio {
			v, err := verdict.Parse(name)
			if err != nil {
				return Rules{}, fmt.Errorf("results_prio: %w", err)
			}
			rules.Priorities[v] = prio
		}
	}
	for from, to := range s.ResultsRemap {
		f, err := verdict.Parse(from)
		if err != nil {
			return Rules{}, fmt.Errorf("results_remap: %w", err)
		}
		t, err := verdict.Parse(to)
		if err != nil {
			return Rules{}, fmt.Errorf("results_remap: %w", err)
		}
		rules.Remap[f] = t
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	if r.PenaltyTime < 0 {
		return fmt.Errorf("penalty_time must not be negative, got %d", r.PenaltyTime)
	}
	if err := r.Priorities.Validate(); err != nil {
		return err
	}
	if err := r.Remap.Validate(); err != nil {
		return err
	}
	// every verdict a judgehost may report must be rankable once remapped
	for _, v := range verdict.All() {
		to := r.Remap.Apply(v)
		if to == verdict.CompilerError {
			continue
		}
		if _, ok := r.Priorities[to]; ok {
			continue
		}
		if to != v {
			return fmt.Errorf("results_remap target %q has no priority", to)
		}
		return fmt.Errorf("results_prio: %q has no priority", v)
	}
	return nil
}

func (r Rules) merge(o *RulesOverride) Rules {
	if o == nil {
		return r
	}
	if o.PenaltyTime != nil {
		r.PenaltyTime = *o.PenaltyTime
	}
	if o.CompilePenalty != nil {
		r.CompilePenalty = *o.CompilePenalty
	}
	if o.ScoreInSeconds != nil {
		r.ScoreInSeconds = *o.ScoreInSeconds
	}
	if o.LazyEval != nil {
		r.LazyEval = *o.LazyEval
	}
	return r
}

// ScoreTime truncates a contest time to the scoring unit.
func (r Rules) ScoreTime(d time.Duration) int64 {
	if r.ScoreInSeconds {
		return int64(d / time.Second)
	}
	return int64(d / time.Minute)
}

// Penalty is the time charged for a solved problem that took submissions attempts.
func (r Rules) Penalty(solved bool, submissions int) int64 {
	if !solved || submissions <= 1 {
		return 0
	}
	p := int64(submissions-1) * int64(r.PenaltyTime)
	if r.ScoreInSeconds {
		p *= 60
	}
	return p
}
