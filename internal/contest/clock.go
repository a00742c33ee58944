package contest

import (
	"errors"
	"fmt"
	"time"
)

// Clock holds the resolved instants of a contest. Optional instants are nil
// when unset. All methods are pure functions of the argument instant.
type Clock struct {
	Activate     *time.Time
	Start        time.Time
	StartEnabled bool
	Freeze       *time.Time
	End          time.Time
	Unfreeze     *time.Time
	Finalize     *time.Time
	Deactivate   *time.Time
}

type State string

const (
	StateNotStarted  State = "not_started"
	StateRunning     State = "running"
	StateFrozen      State = "frozen"
	StateStopped     State = "stopped"
	StateFinal       State = "final"
	StateDeactivated State = "deactivated"
)

var ErrInvalidClock = errors.New("invalid contest times")

func reached(now time.Time, t *time.Time) bool {
	return t != nil && !now.Before(*t)
}

func (c *Clock) Started(now time.Time) bool {
	return c.StartEnabled && !now.Before(c.Start)
}

func (c *Clock) Stopped(now time.Time) bool {
	return c.StartEnabled && !now.Before(c.End)
}

func (c *Clock) Running(now time.Time) bool {
	return c.Started(now) && !c.Stopped(now)
}

// ShowFinal reports whether final results may be shown. The jury sees them
// as soon as the contest ends; the public only once the board is thawed, or
// at the end when no freeze is configured.
func (c *Clock) ShowFinal(now time.Time, jury bool) bool {
	if !c.StartEnabled {
		return false
	}
	if jury {
		return !now.Before(c.End)
	}
	if c.Freeze == nil && !now.Before(c.End) {
		return true
	}
	return reached(now, c.Unfreeze)
}

func (c *Clock) ShowFrozen(now time.Time) bool {
	return reached(now, c.Freeze) && !c.ShowFinal(now, false)
}

func (c *Clock) Finalized(now time.Time) bool {
	return reached(now, c.Finalize)
}

func (c *Clock) Active(now time.Time) bool {
	if c.Activate != nil && now.Before(*c.Activate) {
		return false
	}
	return !c.Deactivated(now)
}

func (c *Clock) Deactivated(now time.Time) bool {
	return reached(now, c.Deactivate)
}

// AfterFreeze reports whether a submission made at t falls into the frozen
// period and must stay hidden from the public until thaw.
func (c *Clock) AfterFreeze(t time.Time) bool {
	return reached(t, c.Freeze)
}

// ContestTime is the elapsed contest time at t, clamped at zero.
func (c *Clock) ContestTime(t time.Time) time.Duration {
	d := t.Sub(c.Start)
	if d < 0 {
		return 0
	}
	return d
}

func (c *Clock) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Progress is -1 before start, otherwise the elapsed percentage capped at 100.
func (c *Clock) Progress(now time.Time) int {
	if !c.Started(now) {
		return -1
	}
	total := c.Duration()
	if total <= 0 {
		return 100
	}
	p := int(now.Sub(c.Start) * 100 / total)
	if p > 100 {
		return 100
	}
	return p
}

func (c *Clock) State(now time.Time) State {
	switch {
	case c.Deactivated(now):
		return StateDeactivated
	case !c.Started(now):
		return StateNotStarted
	case c.ShowFinal(now, false):
		return StateFinal
	case c.Stopped(now):
		return StateStopped
	case c.ShowFrozen(now):
		return StateFrozen
	default:
		return StateRunning
	}
}

// NextChange returns the first clock instant after now at which the
// visible state of the contest may change.
func (c *Clock) NextChange(now time.Time) (time.Time, bool) {
	instants := []*time.Time{c.Activate, c.Freeze, c.Unfreeze, c.Finalize, c.Deactivate}
	if c.StartEnabled {
		start, end := c.Start, c.End
		instants = append(instants, &start, &end)
	}
	var next time.Time
	for _, t := range instants {
		if t == nil || !t.After(now) {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = *t
		}
	}
	return next, !next.IsZero()
}

func (c *Clock) Validate() error {
	if c.End.Before(c.Start) {
		return fmt.Errorf("%w: endtime before starttime", ErrInvalidClock)
	}
	if c.Activate != nil && c.Activate.After(c.Start) {
		return fmt.Errorf("%w: activatetime after starttime", ErrInvalidClock)
	}
	if c.Freeze != nil {
		if c.Freeze.Before(c.Start) || c.Freeze.After(c.End) {
			return fmt.Errorf("%w: freezetime outside contest", ErrInvalidClock)
		}
	}
	if c.Unfreeze != nil {
		if c.Freeze == nil {
			return fmt.Errorf("%w: unfreezetime without freezetime", ErrInvalidClock)
		}
		if c.Unfreeze.Before(*c.Freeze) {
			return fmt.Errorf("%w: unfreezetime before freezetime", ErrInvalidClock)
		}
	}
	if c.Finalize != nil && c.Finalize.Before(c.End) {
		return fmt.Errorf("%w: finalizetime before endtime", ErrInvalidClock)
	}
	if c.Deactivate != nil && c.Deactivate.Before(c.End) {
		return fmt.Errorf("%w: deactivatetime before endtime", ErrInvalidClock)
	}
	return nil
}
