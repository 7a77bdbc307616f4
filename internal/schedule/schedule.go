// Package schedule parses the catch-up fetch schedule.
//
// Supported forms:
//   - Interval duration: "5m", "90s", "1h30m"
//   - Interval HH:MM: "00:05" (5 minutes), "01:30" (1 hour 30 minutes)
//   - Cron: "*/5 * * * *", "@hourly", "@every 5m"
//
// Optional prefixes "cron:" and "interval:"/"every:" force one form.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindInterval Kind = iota
	KindCron
)

func (k Kind) String() string {
	if k == KindCron {
		return "cron"
	}
	return "interval"
}

// Spec is a parsed schedule. Next is inherited from the underlying cron
// schedule, so both forms are driven the same way.
type Spec struct {
	cron.Schedule

	Kind  Kind
	Raw   string
	Every time.Duration // KindInterval only
}

func (s Spec) String() string { return s.Kind.String() + "(" + s.Raw + ")" }

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

	parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Parse turns raw into a Spec.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Whitespace or a leading '@' can only be cron.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	spec, err := parseInterval(s)
	if err != nil {
		return Spec{}, fmt.Errorf(
			"invalid schedule %q (use a duration like '5m', HH:MM like '00:05', or cron like '*/5 * * * *')",
			raw,
		)
	}
	return spec, nil
}

func parseCron(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Schedule: sched, Kind: KindCron, Raw: expr}, nil
}

func parseInterval(v string) (Spec, error) {
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		err error
	)
	if reHHMM.MatchString(v) {
		d, err = parseHHMM(v)
	} else {
		d, err = time.ParseDuration(v)
	}
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	return Every(d)
}

// Every builds an interval Spec. Intervals below one second are rejected
// because the cron engine rounds them up anyway.
func Every(d time.Duration) (Spec, error) {
	if d < time.Second {
		return Spec{}, fmt.Errorf("interval must be at least 1s, got %s", d)
	}
	return Spec{Schedule: cron.Every(d), Kind: KindInterval, Raw: d.String(), Every: d}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
