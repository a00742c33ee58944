package contest_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
)

var base = time.Date(2024, 4, 18, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return base.Add(d) }

func ptr(t time.Time) *time.Time { return &t }

func frozenClock() *contest.Clock {
	return &contest.Clock{
		Start:        base,
		StartEnabled: true,
		Freeze:       ptr(at(4 * time.Hour)),
		End:          at(5 * time.Hour),
		Unfreeze:     ptr(at(6 * time.Hour)),
	}
}

func TestClockPhases(t *testing.T) {
	c := frozenClock()

	cases := []struct {
		name        string
		now         time.Time
		started     bool
		stopped     bool
		frozen      bool
		finalPublic bool
		finalJury   bool
		state       contest.State
	}{
		{"before start", at(-time.Minute), false, false, false, false, false, contest.StateNotStarted},
		{"running", at(time.Hour), true, false, false, false, false, contest.StateRunning},
		{"at freeze", at(4 * time.Hour), true, false, true, false, false, contest.StateFrozen},
		{"ended while frozen", at(5 * time.Hour), true, true, true, false, true, contest.StateStopped},
		{"thawed", at(6 * time.Hour), true, true, false, true, true, contest.StateFinal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Started(tc.now); got != tc.started {
				t.Errorf("Started = %v, want %v", got, tc.started)
			}
			if got := c.Stopped(tc.now); got != tc.stopped {
				t.Errorf("Stopped = %v, want %v", got, tc.stopped)
			}
			if got := c.ShowFrozen(tc.now); got != tc.frozen {
				t.Errorf("ShowFrozen = %v, want %v", got, tc.frozen)
			}
			if got := c.ShowFinal(tc.now, false); got != tc.finalPublic {
				t.Errorf("ShowFinal(public) = %v, want %v", got, tc.finalPublic)
			}
			if got := c.ShowFinal(tc.now, true); got != tc.finalJury {
				t.Errorf("ShowFinal(jury) = %v, want %v", got, tc.finalJury)
			}
			if got := c.State(tc.now); got != tc.state {
				t.Errorf("State = %q, want %q", got, tc.state)
			}
		})
	}
}

func TestClockWithoutFreeze(t *testing.T) {
	c := &contest.Clock{Start: base, StartEnabled: true, End: at(5 * time.Hour)}

	if c.ShowFrozen(at(4 * time.Hour)) {
		t.Fatal("no freeze configured, board must never be frozen")
	}
	if c.ShowFinal(at(4*time.Hour), false) {
		t.Fatal("final results shown before end")
	}
	if !c.ShowFinal(at(5*time.Hour), false) {
		t.Fatal("final results must be public at end when no freeze is configured")
	}
	if c.AfterFreeze(at(4*time.Hour + 59*time.Minute)) {
		t.Fatal("no submission can be after a missing freeze")
	}
}

func TestClockFreezeWithoutThaw(t *testing.T) {
	c := frozenClock()
	c.Unfreeze = nil

	if !c.ShowFrozen(at(10 * time.Hour)) {
		t.Fatal("board stays frozen forever without unfreeze time")
	}
	if c.ShowFinal(at(10*time.Hour), false) {
		t.Fatal("public must not see final results without unfreeze time")
	}
}

func TestClockStartDisabled(t *testing.T) {
	c := frozenClock()
	c.StartEnabled = false

	if c.Started(at(time.Hour)) || c.ShowFinal(at(7*time.Hour), true) {
		t.Fatal("a contest with start disabled never starts")
	}
	if got := c.Progress(at(time.Hour)); got != -1 {
		t.Fatalf("Progress = %d, want -1", got)
	}
}

func TestClockProgressAndContestTime(t *testing.T) {
	c := frozenClock()

	if got := c.Progress(at(150 * time.Minute)); got != 50 {
		t.Fatalf("Progress = %d, want 50", got)
	}
	if got := c.Progress(at(9 * time.Hour)); got != 100 {
		t.Fatalf("Progress = %d, want 100", got)
	}
	if got := c.ContestTime(at(-time.Hour)); got != 0 {
		t.Fatalf("ContestTime before start = %v, want 0", got)
	}
	if got := c.ContestTime(at(69 * time.Minute)); got != 69*time.Minute {
		t.Fatalf("ContestTime = %v", got)
	}
	if !c.AfterFreeze(at(4*time.Hour)) || c.AfterFreeze(at(4*time.Hour-time.Second)) {
		t.Fatal("AfterFreeze boundary is inclusive of the freeze instant")
	}
}

func TestClockNextChange(t *testing.T) {
	c := frozenClock()
	cases := []struct {
		now  time.Time
		want time.Time
		ok   bool
	}{
		{at(-time.Hour), base, true},
		{base, at(4 * time.Hour), true},
		{at(4 * time.Hour), at(5 * time.Hour), true},
		{at(5*time.Hour + time.Minute), at(6 * time.Hour), true},
		{at(6 * time.Hour), time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := c.NextChange(tc.now)
		if ok != tc.ok || !got.Equal(tc.want) {
			t.Errorf("NextChange(%s) = %s, %v; want %s, %v", tc.now, got, ok, tc.want, tc.ok)
		}
	}

	c.StartEnabled = false
	if got, ok := c.NextChange(at(-time.Hour)); !ok || !got.Equal(at(4*time.Hour)) {
		t.Errorf("start disabled: got %s, %v", got, ok)
	}
}

func TestClockValidate(t *testing.T) {
	if err := frozenClock().Validate(); err != nil {
		t.Fatalf("valid clock rejected: %v", err)
	}

	bad := []func(c *contest.Clock){
		func(c *contest.Clock) { c.End = at(-time.Hour) },
		func(c *contest.Clock) { c.Freeze = ptr(at(6 * time.Hour)) },
		func(c *contest.Clock) { c.Unfreeze = ptr(at(3 * time.Hour)) },
		func(c *contest.Clock) { c.Deactivate = ptr(at(4 * time.Hour)) },
		func(c *contest.Clock) { c.Activate = ptr(at(time.Minute)) },
	}
	for i, mutate := range bad {
		c := frozenClock()
		mutate(c)
		if err := c.Validate(); !errors.Is(err, contest.ErrInvalidClock) {
			t.Errorf("case %d: expected ErrInvalidClock, got %v", i, err)
		}
	}
}
