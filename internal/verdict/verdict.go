package verdict

import (
	"errors"
	"fmt"
	"strings"
)

// Verdict is the outcome of a single test case run or of a whole judging.
type Verdict string

const (
	Correct           Verdict = "correct"
	WrongAnswer       Verdict = "wrong-answer"
	TimeLimit         Verdict = "timelimit"
	RunError          Verdict = "run-error"
	NoOutput          Verdict = "no-output"
	CompilerError     Verdict = "compiler-error"
	MemoryLimit       Verdict = "memory-limit"
	OutputLimit       Verdict = "output-limit"
	PresentationError Verdict = "presentation-error"
)

var ErrUnknownVerdict = errors.New("unknown verdict")

var codes = map[Verdict]string{
	Correct:           "AC",
	WrongAnswer:       "WA",
	TimeLimit:         "TLE",
	RunError:          "RTE",
	NoOutput:          "NO",
	CompilerError:     "CE",
	MemoryLimit:       "MLE",
	OutputLimit:       "OLE",
	PresentationError: "PE",
}

// All returns every known verdict.
func All() []Verdict {
	return []Verdict{
		Correct, WrongAnswer, TimeLimit, RunError, NoOutput,
		CompilerError, MemoryLimit, OutputLimit, PresentationError,
	}
}

// Parse accepts either the long form ("wrong-answer") or the external code ("WA").
func Parse(s string) (Verdict, error) {
	v := Verdict(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := codes[v]; ok {
		return v, nil
	}
	return FromCode(s)
}

func FromCode(code string) (Verdict, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for v, c := range codes {
		if c == code {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVerdict, code)
}

func (v Verdict) Code() string {
	return codes[v]
}

func (v Verdict) Valid() bool {
	_, ok := codes[v]
	return ok
}

func (v Verdict) IsCorrect() bool {
	return v == Correct
}

// Ptr is a convenience for building run lists in which nil means pending.
func Ptr(v Verdict) *Verdict {
	return &v
}
