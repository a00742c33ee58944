package contest_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/verdict"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadContest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "contest.yaml"), `
id: wf
name: World Finals
starttime: "2024-04-18T09:00:00Z"
endtime: "+5:00:00"
freezetime: "+4:00"
unfreezetime: "2024-04-18T16:00:00Z"
problems: [a, b]
scoring:
  penalty_time: 10
`)
	writeFile(t, filepath.Join(dir, "teams.yaml"), `
- id: t1
  name: Alpha
  sortorder: 0
- id: t2
  sortorder: 1
  penalty: 5
`)
	writeFile(t, filepath.Join(dir, "a", "problem.yaml"), `
id: A
name: Apples
timelimit: 1.5
testcases:
  - {input: 1.in, output: 1.ans}
  - {input: 2.in, output: 2.ans}
`)
	writeFile(t, filepath.Join(dir, "b", "problem.yaml"), `
id: B
name: Bananas
allow_judge: false
`)

	c, problems, err := contest.LoadContest(dir)
	if err != nil {
		t.Fatalf("load contest: %v", err)
	}
	if c.ID != "wf" || len(c.ProblemIDs) != 2 || len(problems) != 2 {
		t.Fatalf("unexpected contest %+v", c)
	}

	start := time.Date(2024, 4, 18, 9, 0, 0, 0, time.UTC)
	if !c.Clock.Start.Equal(start) || !c.Clock.End.Equal(start.Add(5*time.Hour)) {
		t.Fatalf("unexpected clock %+v", c.Clock)
	}
	if c.Clock.Freeze == nil || !c.Clock.Freeze.Equal(start.Add(4*time.Hour)) {
		t.Fatalf("unexpected freeze %v", c.Clock.Freeze)
	}
	if !c.Clock.StartEnabled {
		t.Fatal("start must be enabled by default")
	}

	if len(c.Teams) != 2 || c.Teams[1].Name != "t2" || c.Teams[1].Penalty != 5 {
		t.Fatalf("unexpected teams %+v", c.Teams)
	}

	a := problems[0]
	if a.ContestID != "wf" || a.TimeLimitFor(1.5) != 3 || a.Testcases[1].Rank != 2 {
		t.Fatalf("unexpected problem %+v", a)
	}
	if problems[1].Judgeable() {
		t.Fatal("problem B is not judgeable")
	}

	rules, err := contest.RulesFromConfig(config.Scoring{})
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	reg := contest.NewRegistry(rules, []config.Language{{ID: "cpp", TimeFactor: 1}})
	reg.Set(map[string]*contest.Contest{c.ID: c}, map[string]*contest.Problem{"A": problems[0], "B": problems[1]})

	cc, err := reg.Context("wf")
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if cc.Rules.PenaltyTime != 10 || !cc.Rules.LazyEval {
		t.Fatalf("contest override not applied: %+v", cc.Rules)
	}
	if got := reg.JudgeableProblems([]*contest.Contest{c}); len(got) != 1 || got[0] != "A" {
		t.Fatalf("unexpected judgeable problems %v", got)
	}
	if _, err := reg.Context("nope"); !errors.Is(err, contest.ErrContestNotFound) {
		t.Fatalf("expected ErrContestNotFound, got %v", err)
	}
}

func TestLoadContestRejectsInvalidClock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "contest.yaml"), `
id: broken
starttime: "2024-04-18T09:00:00Z"
endtime: "+5:00:00"
freezetime: "+6:00"
`)
	if _, _, err := contest.LoadContest(dir); !errors.Is(err, contest.ErrInvalidClock) {
		t.Fatalf("expected ErrInvalidClock, got %v", err)
	}

	contests, _, err := contest.LoadAllContestsAndProblems([]string{dir})
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(contests) != 0 {
		t.Fatal("invalid contest must be skipped")
	}
}

func TestParseTimeSpec(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for in, want := range map[string]time.Time{
		"+1:30":                start.Add(90 * time.Minute),
		"-0:15:30":             start.Add(-15*time.Minute - 30*time.Second),
		"2024-01-01T12:00:00Z": start.Add(2 * time.Hour),
	} {
		spec, err := contest.ParseTimeSpec(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		got, ok := spec.Resolve(start)
		if !ok || !got.Equal(want) {
			t.Errorf("%q resolved to %v, want %v", in, got, want)
		}
	}

	for _, in := range []string{"+1", "+1:75", "tomorrow"} {
		if _, err := contest.ParseTimeSpec(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestRulesFromConfigPriorities(t *testing.T) {
	full := map[string]int{
		"correct": 1, "wrong-answer": 10, "timelimit": 10, "run-error": 10, "no-output": 10,
		"memory-limit": 10, "output-limit": 10, "presentation-error": 5,
	}
	rules, err := contest.RulesFromConfig(config.Scoring{ResultsPrio: full})
	if err != nil {
		t.Fatalf("complete table rejected: %v", err)
	}
	if rules.Priorities[verdict.PresentationError] != 5 {
		t.Fatalf("custom priorities not applied: %+v", rules.Priorities)
	}

	partial := make(map[string]int)
	for k, v := range full {
		if k != "no-output" {
			partial[k] = v
		}
	}
	if _, err := contest.RulesFromConfig(config.Scoring{ResultsPrio: partial}); err == nil || !strings.Contains(err.Error(), "no-output") {
		t.Fatalf("table without no-output must be rejected, got %v", err)
	}

	// a verdict remapped onto a ranked one needs no entry of its own
	remapped, err := contest.RulesFromConfig(config.Scoring{
		ResultsPrio:  partial,
		ResultsRemap: map[string]string{"no-output": "wrong-answer"},
	})
	if err != nil {
		t.Fatalf("remapped verdict rejected: %v", err)
	}
	if got := remapped.Remap.Apply(verdict.NoOutput); got != verdict.WrongAnswer {
		t.Fatalf("unexpected remap %s", got)
	}

	if _, err := contest.RulesFromConfig(config.Scoring{ResultsRemap: map[string]string{"wrong-answer": "compiler-error"}}); err != nil {
		t.Fatalf("remap to compiler-error rejected: %v", err)
	}
	if _, err := contest.RulesFromConfig(config.Scoring{
		ResultsPrio:  partial,
		ResultsRemap: map[string]string{"wrong-answer": "no-output"},
	}); err == nil || !strings.Contains(err.Error(), "results_remap") {
		t.Fatalf("remap onto an unranked verdict must be rejected, got %v", err)
	}
}
