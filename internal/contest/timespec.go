package contest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// TimeSpec is a contest instant as written in contest.yaml: either absolute
// or relative to the start time ("+4:00:00", "-0:30").
type TimeSpec struct {
	raw      string
	abs      time.Time
	offset   time.Duration
	relative bool
}

func (t TimeSpec) IsZero() bool {
	return t.raw == ""
}

func (t TimeSpec) String() string {
	return t.raw
}

func (t *TimeSpec) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	spec, err := ParseTimeSpec(s)
	if err != nil {
		return err
	}
	*t = spec
	return nil
}

func ParseTimeSpec(s string) (TimeSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeSpec{}, nil
	}
	if s[0] == '+' || s[0] == '-' {
		d, err := parseOffset(s[1:])
		if err != nil {
			return TimeSpec{}, fmt.Errorf("relative time %q: %w", s, err)
		}
		if s[0] == '-' {
			d = -d
		}
		return TimeSpec{raw: s, offset: d, relative: true}, nil
	}
	for _, layout := range absoluteLayouts {
		if abs, err := time.Parse(layout, s); err == nil {
			return TimeSpec{raw: s, abs: abs}, nil
		}
	}
	return TimeSpec{}, fmt.Errorf("cannot parse time %q", s)
}

// parseOffset reads H:MM or H:MM:SS with an optional fractional second.
func parseOffset(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("expected H:MM[:SS]")
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("bad hours %q", parts[0])
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("bad minutes %q", parts[1])
	}
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if len(parts) == 3 {
		secs, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || secs < 0 || secs >= 60 {
			return 0, fmt.Errorf("bad seconds %q", parts[2])
		}
		d += time.Duration(secs * float64(time.Second))
	}
	return d, nil
}

// Resolve turns the time spec into an absolute instant. ok is false when unset.
func (t TimeSpec) Resolve(start time.Time) (at time.Time, ok bool) {
	if t.IsZero() {
		return time.Time{}, false
	}
	if t.relative {
		return start.Add(t.offset), true
	}
	return t.abs, true
}

func (t TimeSpec) resolvePtr(start time.Time) *time.Time {
	at, ok := t.Resolve(start)
	if !ok {
		return nil
	}
	return &at
}
