package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// When is a parsed natural-language time expression. Interval is
// non-zero for recurring expressions ("every hour"); At is the first
// due time in either case.
type When struct {
	At       time.Time
	Interval time.Duration
}

// Canonical renders the expression in the single format handlers parse:
// "every <duration>" for recurring, RFC3339 otherwise.
func (w When) Canonical() string {
	if w.Interval > 0 {
		return "every " + w.Interval.String()
	}
	return w.At.Format(time.RFC3339)
}

// ParseWhen interprets a natural-language time expression relative to
// the current wall clock.
func ParseWhen(s string) (When, error) {
	return parseWhenAt(s, time.Now())
}

var (
	relRe   = regexp.MustCompile(`^in\s+(\d+)\s*(second|sec|s|minute|min|m|hour|hr|h|day|d|week|w)s?$`)
	everyRe = regexp.MustCompile(`^(?:@?every)\s+(?:(\d+)\s*)?(second|sec|s|minute|min|m|hour|hr|h|day|d|week|w)s?$`)
	clockRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

func parseWhenAt(s string, now time.Time) (When, error) {
	orig := s
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return When{}, fmt.Errorf("empty time expression")
	}

	// Absolute timestamps. Every other branch derives a future time
	// from now; this is the one place a past time can sneak in.
	if t, err := time.Parse(time.RFC3339, orig); err == nil {
		if !t.After(now) {
			return When{}, fmt.Errorf("time %q is in the past", orig)
		}
		return When{At: t}, nil
	}

	// "every 10 minutes", "every hour", "@every 30s"
	if m := everyRe.FindStringSubmatch(s); m != nil {
		n := int64(1)
		if m[1] != "" {
			n, _ = strconv.ParseInt(m[1], 10, 64)
		}
		iv := time.Duration(n) * unitDuration(m[2])
		if iv < time.Second {
			return When{}, fmt.Errorf("interval %q too short", orig)
		}
		return When{At: now.Add(iv), Interval: iv}, nil
	}

	// "every 1h30m" (also the Canonical recurring form)
	if rest, ok := strings.CutPrefix(s, "every "); ok {
		if iv, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && iv >= time.Second {
			return When{At: now.Add(iv), Interval: iv}, nil
		}
	}

	// "in 10 minutes", "in 2 hours"
	if m := relRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		d := time.Duration(n) * unitDuration(m[2])
		if d <= 0 {
			return When{}, fmt.Errorf("non-positive delay %q", orig)
		}
		return When{At: now.Add(d)}, nil
	}

	// Bare Go duration: "10m", "1h30m"
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return When{At: now.Add(d)}, nil
	}

	// "tomorrow", "tomorrow at 9am"
	if rest, ok := strings.CutPrefix(s, "tomorrow"); ok {
		rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "at"))
		hh, mm := 9, 0
		if rest != "" {
			var err error
			hh, mm, err = parseClock(rest)
			if err != nil {
				return When{}, err
			}
		}
		day := now.AddDate(0, 0, 1)
		return When{At: time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, now.Location())}, nil
	}

	// "at 9am", "at 18:30", "9:30pm"
	rest := strings.TrimSpace(strings.TrimPrefix(s, "at "))
	if hh, mm, err := parseClock(rest); err == nil {
		at := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return When{At: at}, nil
	}

	return When{}, fmt.Errorf("unrecognized time expression %q", orig)
}

func parseClock(s string) (hh, mm int, err error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("not a clock time: %q", s)
	}
	hh, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		mm, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if hh < 12 {
			hh += 12
		}
	case "am":
		if hh == 12 {
			hh = 0
		}
	case "":
		// 24h clock, nothing to adjust
	}
	if hh > 23 || mm > 59 {
		return 0, 0, fmt.Errorf("clock out of range: %q", s)
	}
	return hh, mm, nil
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "second", "sec", "s":
		return time.Second
	case "minute", "min", "m":
		return time.Minute
	case "hour", "hr", "h":
		return time.Hour
	case "day", "d":
		return 24 * time.Hour
	case "week", "w":
		return 7 * 24 * time.Hour
	}
	return 0
}
