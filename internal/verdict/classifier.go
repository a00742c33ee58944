package verdict

import (
	"fmt"
	"strings"
)

// Priorities maps run verdicts to their weight when folding runs into a
// judging result. Higher wins; the first of equal weights wins.
type Priorities map[Verdict]int

// DefaultPriorities ranks every failure above correct.
func DefaultPriorities() Priorities {
	return Priorities{
		MemoryLimit:       99,
		OutputLimit:       99,
		RunError:          99,
		TimeLimit:         99,
		WrongAnswer:       99,
		NoOutput:          99,
		PresentationError: 99,
		Correct:           1,
	}
}

func (p Priorities) max() int {
	m := 0
	for _, prio := range p {
		if prio > m {
			m = prio
		}
	}
	return m
}

// Validate rejects tables without a correct entry or with non-positive weights.
func (p Priorities) Validate() error {
	if _, ok := p[Correct]; !ok {
		return fmt.Errorf("results priorities: %q has no priority", Correct)
	}
	for v, prio := range p {
		if !v.Valid() {
			return fmt.Errorf("results priorities: %w: %q", ErrUnknownVerdict, v)
		}
		if prio <= 0 {
			return fmt.Errorf("results priorities: %q must be positive, got %d", v, prio)
		}
	}
	return nil
}

// Classify folds per-test-case results into the judging result. A nil entry
// is a run that has not reported yet; scanning stops there. The returned
// verdict is nil while the outcome is still undecided.
func Classify(runs []*Verdict, prio Priorities) (*Verdict, error) {
	var (
		best     *Verdict
		bestPrio = -1
		pending  bool
	)
	for _, run := range runs {
		if run == nil {
			pending = true
			break
		}
		p, ok := prio[*run]
		if !ok || p <= 0 {
			return nil, fmt.Errorf("%w: %q has no priority", ErrUnknownVerdict, *run)
		}
		if p > bestPrio {
			v := *run
			best = &v
			bestPrio = p
		}
	}

	if pending && bestPrio < prio.max() {
		return nil, nil
	}
	return best, nil
}

// Remap rewrites reported verdicts before classification, e.g. to fold
// presentation-error into wrong-answer.
type Remap map[Verdict]Verdict

func (r Remap) Apply(v Verdict) Verdict {
	if to, ok := r[v]; ok {
		return to
	}
	return v
}

func (r Remap) Validate() error {
	var bad []string
	for from, to := range r {
		if !from.Valid() {
			bad = append(bad, string(from))
		}
		if !to.Valid() {
			bad = append(bad, string(to))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("results remap: %w: %s", ErrUnknownVerdict, strings.Join(bad, ", "))
	}
	return nil
}
