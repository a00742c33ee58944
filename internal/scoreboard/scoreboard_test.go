package scoreboard_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/verdict"
)

var start = time.Date(2024, 4, 18, 9, 0, 0, 0, time.UTC)

func at(minutes, seconds int) time.Time {
	return start.Add(time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second)
}

type memSource struct {
	mu   sync.Mutex
	recs []scoreboard.SubmissionRecord
}

func (m *memSource) add(id, team, problem string, t time.Time, result string, runtime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := scoreboard.SubmissionRecord{SubmissionID: id, TeamID: team, ProblemID: problem, SubmitTime: t, Runtime: runtime}
	if result != "" {
		rec.Result = verdict.Ptr(verdict.Verdict(result))
	}
	m.recs = append(m.recs, rec)
}

func (m *memSource) setResult(id, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recs {
		if m.recs[i].SubmissionID == id {
			if result == "" {
				m.recs[i].Result = nil
			} else {
				m.recs[i].Result = verdict.Ptr(verdict.Verdict(result))
			}
		}
	}
}

func (m *memSource) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recs {
		if m.recs[i].SubmissionID == id {
			m.recs = append(m.recs[:i], m.recs[i+1:]...)
			return
		}
	}
}

func (m *memSource) ContestSubmissions(_ context.Context, _ string) ([]scoreboard.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scoreboard.SubmissionRecord(nil), m.recs...), nil
}

func (m *memSource) CellSubmissions(_ context.Context, _ string, team, problem string) ([]scoreboard.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scoreboard.SubmissionRecord
	for _, r := range m.recs {
		if r.TeamID == team && r.ProblemID == problem {
			out = append(out, r)
		}
	}
	return out, nil
}

func newContext(freeze time.Duration) *contest.Context {
	c := &contest.Contest{
		ID:         "wf",
		ProblemIDs: []string{"P0", "P1", "P2"},
		Teams: []*contest.Team{
			{ID: "A", Name: "Team A"},
			{ID: "B", Name: "Team B"},
			{ID: "C", Name: "Team C"},
		},
		Clock: contest.Clock{Start: start, StartEnabled: true, End: start.Add(5 * time.Hour)},
	}
	if freeze > 0 {
		f := start.Add(freeze)
		c.Clock.Freeze = &f
	}
	return &contest.Context{
		Contest: c,
		Rules: contest.Rules{
			PenaltyTime: 20,
			LazyEval:    true,
			Priorities:  verdict.DefaultPriorities(),
			Remap:       verdict.Remap{},
		},
	}
}

func scenarioSource() *memSource {
	src := &memSource{}
	src.add("s1", "A", "P0", at(53, 15), "no-output", 0)
	src.add("s2", "A", "P0", at(53, 57), "", 0)
	src.add("s3", "B", "P0", at(69, 0), "correct", 0.5)
	src.add("s4", "B", "P0", at(72, 7), "wrong-answer", 0.2)
	src.add("s5", "B", "P1", at(72, 39), "wrong-answer", 0.1)
	src.add("s6", "B", "P1", at(72, 59), "correct", 0.3)
	src.add("s7", "B", "P2", at(84, 42), "", 0)
	return src
}

func mustRow(t *testing.T, snap *scoreboard.Snapshot, team string) *scoreboard.Row {
	t.Helper()
	row, ok := snap.Row(team)
	if !ok {
		t.Fatalf("team %s missing from scoreboard", team)
	}
	return row
}

func TestScenarioLive(t *testing.T) {
	ctx := context.Background()
	cc := newContext(0)
	cache := scoreboard.NewCache(scenarioSource())

	if err := cache.Refresh(ctx, cc); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap, err := cache.GetSnapshot(ctx, cc, scoreboard.AudienceJury, at(90, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	b := mustRow(t, snap, "B")
	if b.Rank != 1 || b.Solved != 2 || b.TotalTime != 161 {
		t.Fatalf("team B: rank %d solved %d time %d, want 1/2/161", b.Rank, b.Solved, b.TotalTime)
	}
	if p1 := b.Cells[1]; p1.Submissions != 2 || p1.SolveTime != 72 || p1.Penalty != 20 {
		t.Fatalf("team B P1 cell %+v", p1)
	}
	// team A still has an earlier pending submission on P0
	if p0 := b.Cells[0]; p0.Submissions != 1 || p0.FirstToSolve || p0.Runtime != 500 {
		t.Fatalf("team B P0 cell %+v", p0)
	}
	if !b.Cells[1].FirstToSolve {
		t.Fatal("team B is first to solve P1")
	}

	a := mustRow(t, snap, "A")
	if a.Rank != 2 || a.Solved != 0 {
		t.Fatalf("team A: rank %d solved %d, want 2/0", a.Rank, a.Solved)
	}
	if p0 := a.Cells[0]; p0.Submissions != 1 || p0.Pending != 1 || p0.Correct {
		t.Fatalf("team A P0 cell %+v", p0)
	}
	if c := mustRow(t, snap, "C"); c.Rank != 2 {
		t.Fatalf("team C rank %d, want 2", c.Rank)
	}
	if snap.Rows[0].TeamID != "B" || snap.Rows[1].TeamID != "A" || snap.Rows[2].TeamID != "C" {
		t.Fatalf("unexpected order %s %s %s", snap.Rows[0].TeamID, snap.Rows[1].TeamID, snap.Rows[2].TeamID)
	}
}

func TestScenarioFrozen(t *testing.T) {
	ctx := context.Background()
	cc := newContext(70 * time.Minute)
	cache := scoreboard.NewCache(scenarioSource())

	public, err := cache.GetSnapshot(ctx, cc, scoreboard.AudiencePublic, at(90, 0))
	if err != nil {
		t.Fatalf("public snapshot: %v", err)
	}
	if !public.Frozen {
		t.Fatal("public snapshot should be frozen")
	}
	b := mustRow(t, public, "B")
	if b.Solved != 1 || b.TotalTime != 69 {
		t.Fatalf("public team B: solved %d time %d, want 1/69", b.Solved, b.TotalTime)
	}
	if p1 := b.Cells[1]; p1.Correct || p1.Submissions != 0 || p1.Pending != 2 {
		t.Fatalf("public team B P1 leaks frozen results: %+v", p1)
	}
	if p0 := b.Cells[0]; !p0.Correct || p0.Pending != 0 || p0.Submissions != 1 {
		t.Fatalf("public team B P0 cell %+v", p0)
	}

	jury, err := cache.GetSnapshot(ctx, cc, scoreboard.AudienceJury, at(90, 0))
	if err != nil {
		t.Fatalf("jury snapshot: %v", err)
	}
	if b := mustRow(t, jury, "B"); b.Solved != 2 || b.TotalTime != 161 {
		t.Fatalf("jury team B: solved %d time %d, want 2/161", b.Solved, b.TotalTime)
	}

	juryFrozen, err := cache.GetSnapshot(ctx, cc, scoreboard.AudienceJuryFrozen, at(90, 0))
	if err != nil {
		t.Fatalf("jury-frozen snapshot: %v", err)
	}
	if !reflect.DeepEqual(juryFrozen.Rows, public.Rows) {
		t.Fatal("jury-frozen view must equal the public view")
	}
}

func TestFreezeConfidentiality(t *testing.T) {
	ctx := context.Background()
	cc := newContext(70 * time.Minute)
	src := scenarioSource()
	cache := scoreboard.NewCache(src)

	before, err := cache.GetSnapshot(ctx, cc, scoreboard.AudiencePublic, at(100, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	src.add("s8", "C", "P2", at(95, 0), "", 0)
	if err := cache.OnJudgingFinalized(ctx, cc, "C", "P2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, err := cache.GetSnapshot(ctx, cc, scoreboard.AudiencePublic, at(100, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	src.setResult("s8", "correct")
	src.setResult("s7", "correct")
	for _, k := range [][2]string{{"C", "P2"}, {"B", "P2"}} {
		if err := cache.OnJudgingFinalized(ctx, cc, k[0], k[1]); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	after, err := cache.GetSnapshot(ctx, cc, scoreboard.AudiencePublic, at(100, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if !reflect.DeepEqual(pending.Rows, after.Rows) {
		t.Fatal("public view changed when frozen submissions were judged")
	}
	if c := mustRow(t, after, "C"); c.Cells[2].Pending != 1 || c.Solved != 0 {
		t.Fatalf("team C public cell %+v", c.Cells[2])
	}
	if b0, b1 := mustRow(t, before, "B"), mustRow(t, after, "B"); b0.Solved != b1.Solved || b0.TotalTime != b1.TotalTime {
		t.Fatal("team B public totals changed during freeze")
	}

	jury, err := cache.GetSnapshot(ctx, cc, scoreboard.AudienceJury, at(100, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if b := mustRow(t, jury, "B"); b.Solved != 3 {
		t.Fatalf("jury team B solved %d, want 3", b.Solved)
	}

	// after thaw the public sees everything
	thaw := start.Add(6 * time.Hour)
	cc.Contest.Clock.Unfreeze = &thaw
	final, err := cache.GetSnapshot(ctx, cc, scoreboard.AudiencePublic, thaw)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if final.Frozen || !reflect.DeepEqual(final.Rows, jury.Rows) {
		t.Fatal("thawed public view must equal the jury view")
	}
}

func TestPublicBeforeStart(t *testing.T) {
	cc := newContext(0)
	cache := scoreboard.NewCache(&memSource{})
	_, err := cache.GetSnapshot(context.Background(), cc, scoreboard.AudiencePublic, start.Add(-time.Minute))
	if !errors.Is(err, scoreboard.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := cache.GetSnapshot(context.Background(), cc, scoreboard.AudienceJury, start.Add(-time.Minute)); err != nil {
		t.Fatalf("jury must see the board before start: %v", err)
	}
}

func TestRefreshDeterminism(t *testing.T) {
	ctx := context.Background()
	cc := newContext(70 * time.Minute)
	src := scenarioSource()

	var snaps []*scoreboard.Snapshot
	for i := 0; i < 2; i++ {
		cache := scoreboard.NewCache(src)
		if err := cache.Refresh(ctx, cc); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if err := cache.Refresh(ctx, cc); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		snap, err := cache.GetSnapshot(ctx, cc, scoreboard.AudiencePublic, at(90, 0))
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		snaps = append(snaps, snap)
	}
	if !reflect.DeepEqual(snaps[0].Rows, snaps[1].Rows) {
		t.Fatal("refresh is not deterministic")
	}
}

func TestIncrementalMatchesRefresh(t *testing.T) {
	ctx := context.Background()
	cc := newContext(4 * time.Hour)
	cc.Contest.Teams = append(cc.Contest.Teams, &contest.Team{ID: "D", Name: "Team D", SortOrder: 1})
	src := &memSource{}
	incremental := scoreboard.NewCache(src)
	if err := incremental.Refresh(ctx, cc); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	teams := []string{"A", "B", "C", "D"}
	problems := cc.Contest.ProblemIDs
	results := []string{"", "correct", "wrong-answer", "timelimit", "compiler-error"}

	type sub struct{ id, team, problem string }
	var subs []sub
	for i := 0; i < 300; i++ {
		var target sub
		switch op := rng.Intn(10); {
		case op < 5 || len(subs) == 0:
			target = sub{fmt.Sprintf("s%03d", i), teams[rng.Intn(len(teams))], problems[rng.Intn(len(problems))]}
			// some submissions land after the end of the contest
			minute := rng.Intn(320)
			src.add(target.id, target.team, target.problem, at(minute, rng.Intn(60)), results[rng.Intn(len(results))], float64(rng.Intn(2000))/1000)
			subs = append(subs, target)
		case op < 8:
			target = subs[rng.Intn(len(subs))]
			src.setResult(target.id, results[rng.Intn(len(results))])
		default:
			idx := rng.Intn(len(subs))
			target = subs[idx]
			src.remove(target.id)
			subs = append(subs[:idx], subs[idx+1:]...)
		}
		if err := incremental.OnJudgingFinalized(ctx, cc, target.team, target.problem); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	fresh := scoreboard.NewCache(src)
	if err := fresh.Refresh(ctx, cc); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	for _, audience := range []scoreboard.Audience{scoreboard.AudienceJury, scoreboard.AudiencePublic} {
		got, err := incremental.GetSnapshot(ctx, cc, audience, at(250, 0))
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		want, err := fresh.GetSnapshot(ctx, cc, audience, at(250, 0))
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if !reflect.DeepEqual(got.Rows, want.Rows) {
			t.Fatalf("%s: incremental state diverged from full refresh", audience)
		}
	}
}

func TestSolveHookFiresOnce(t *testing.T) {
	ctx := context.Background()
	cc := newContext(0)
	src := &memSource{}
	cache := scoreboard.NewCache(src)

	var events []scoreboard.SolveEvent
	cache.OnNewCorrectSolve(func(e scoreboard.SolveEvent) { events = append(events, e) })
	var changes int
	cache.OnChange(func(string, uint64) { changes++ })

	if err := cache.Refresh(ctx, cc); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	src.add("s1", "A", "P1", at(10, 0), "wrong-answer", 0)
	src.add("s2", "A", "P1", at(12, 0), "correct", 0)
	if err := cache.OnJudgingFinalized(ctx, cc, "A", "P1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	src.add("s3", "A", "P1", at(20, 0), "correct", 0)
	if err := cache.OnJudgingFinalized(ctx, cc, "A", "P1"); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 solve event, got %d", len(events))
	}
	e := events[0]
	if e.TeamID != "A" || e.ProblemID != "P1" || e.SubmissionID != "s2" || !e.FirstToSolve || e.ContestTime != 12*time.Minute {
		t.Fatalf("unexpected event %+v", e)
	}
	if changes != 3 {
		t.Fatalf("expected 3 change notifications, got %d", changes)
	}

	// a full rebuild never re-announces solves
	if err := cache.Refresh(ctx, cc); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("refresh emitted solve events")
	}
}

func TestCompilePenalty(t *testing.T) {
	ctx := context.Background()
	src := &memSource{}
	src.add("s1", "A", "P0", at(10, 0), "compiler-error", 0)
	src.add("s2", "A", "P0", at(30, 30), "correct", 0)

	for _, tc := range []struct {
		penalty bool
		want    int64
	}{{false, 30}, {true, 50}} {
		cc := newContext(0)
		cc.Rules.CompilePenalty = tc.penalty
		cache := scoreboard.NewCache(src)
		snap, err := cache.GetSnapshot(ctx, cc, scoreboard.AudienceJury, at(60, 0))
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if a := mustRow(t, snap, "A"); a.TotalTime != tc.want {
			t.Errorf("compile_penalty=%v: total %d, want %d", tc.penalty, a.TotalTime, tc.want)
		}
	}
}

func TestScoreInSecondsAndTeamPenalty(t *testing.T) {
	ctx := context.Background()
	cc := newContext(0)
	cc.Rules.ScoreInSeconds = true
	cc.Contest.Teams[0].Penalty = 7
	src := &memSource{}
	src.add("s1", "A", "P0", at(1, 5), "wrong-answer", 0)
	src.add("s2", "A", "P0", at(2, 5), "correct", 0)

	snap, err := scoreboard.NewCache(src).GetSnapshot(ctx, cc, scoreboard.AudienceJury, at(60, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	// 7 + 125s + 1 * 20min
	if a := mustRow(t, snap, "A"); a.TotalTime != 7+125+1200 {
		t.Fatalf("total %d", a.TotalTime)
	}
}

func TestTooLateSubmissionsIgnored(t *testing.T) {
	src := &memSource{}
	src.add("s1", "A", "P0", start.Add(5*time.Hour), "correct", 0)
	src.add("s2", "A", "P1", start.Add(5*time.Hour+time.Minute), "", 0)

	snap, err := scoreboard.NewCache(src).GetSnapshot(context.Background(), newContext(0), scoreboard.AudienceJury, start.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	a := mustRow(t, snap, "A")
	if a.Solved != 0 || a.Cells[0].Submissions != 0 || a.Cells[1].Pending != 0 {
		t.Fatalf("too-late submissions counted: %+v", a)
	}
}

func TestFirstToSolveBlockedByEarlierPending(t *testing.T) {
	src := &memSource{}
	src.add("s1", "A", "P0", at(10, 0), "", 0)
	src.add("s2", "B", "P0", at(20, 0), "correct", 0)

	snap, err := scoreboard.NewCache(src).GetSnapshot(context.Background(), newContext(0), scoreboard.AudienceJury, at(30, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if b := mustRow(t, snap, "B"); b.Cells[0].FirstToSolve {
		t.Fatal("an earlier pending submission might still be first")
	}
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	ctx := context.Background()
	cc := newContext(0)
	src := scenarioSource()
	cache := scoreboard.NewCache(src)
	if err := cache.Refresh(ctx, cc); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			team := []string{"A", "B", "C"}[i%3]
			if err := cache.OnJudgingFinalized(ctx, cc, team, "P0"); err != nil {
				t.Errorf("update: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := cache.GetSnapshot(ctx, cc, scoreboard.AudienceJury, at(90, 0)); err != nil {
				t.Errorf("snapshot: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, err := cache.GetSnapshot(ctx, cc, scoreboard.AudienceJury, at(90, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if b := mustRow(t, snap, "B"); b.TotalTime != 161 {
		t.Fatalf("team B total %d after concurrent updates", b.TotalTime)
	}
	if cache.Version("wf") != 9 {
		t.Fatalf("expected version 9, got %d", cache.Version("wf"))
	}
}
