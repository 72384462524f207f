package reporting

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/uptime-garden/internal/uptime"
)

// Window limits.
const (
	DefaultUptimeWindow = uptime.DefaultFleetWindow
	MaxUptimeWindow     = maxWindowDays * 24 * time.Hour

	maxWindowDays = 366
)

// DefaultHistoryDays is the status history length when ?days= is omitted.
const DefaultHistoryDays = 30

var errBadParam = errors.New("bad query parameter")

// parseWindowDuration accepts a number of days ("30d") or a Go duration ("12h").
func parseWindowDuration(s string) (time.Duration, error) {
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("%w: window %q", errBadParam, s)
		}
		if n < 1 {
			return 0, fmt.Errorf("%w: window must be positive", errBadParam)
		}
		if n > maxWindowDays {
			return 0, fmt.Errorf("%w: window must not exceed %d days", errBadParam, maxWindowDays)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: window %q", errBadParam, s)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: window must be positive", errBadParam)
	}
	if d > MaxUptimeWindow {
		return 0, fmt.Errorf("%w: window must not exceed %d days", errBadParam, maxWindowDays)
	}
	return d, nil
}

// uptimeQuery is a parsed uptime request: either an explicit window or a
// trailing duration ending now.
type uptimeQuery struct {
	window   *uptime.Window
	trailing time.Duration
}

// parseUptimeQuery reads ?window= or ?from=&to= (RFC3339). A missing "to"
// means now. Mixing both forms is rejected.
func parseUptimeQuery(q url.Values, now time.Time) (uptimeQuery, error) {
	window := q.Get("window")
	from := q.Get("from")
	to := q.Get("to")

	if window != "" && (from != "" || to != "") {
		return uptimeQuery{}, fmt.Errorf("%w: use either window or from/to", errBadParam)
	}

	if from == "" && to == "" {
		if window == "" {
			return uptimeQuery{trailing: DefaultUptimeWindow}, nil
		}
		d, err := parseWindowDuration(window)
		if err != nil {
			return uptimeQuery{}, err
		}
		return uptimeQuery{trailing: d}, nil
	}

	if from == "" {
		return uptimeQuery{}, fmt.Errorf("%w: from is required with to", errBadParam)
	}
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return uptimeQuery{}, fmt.Errorf("%w: from must be an RFC3339 timestamp", errBadParam)
	}
	end := now
	if to != "" {
		end, err = time.Parse(time.RFC3339, to)
		if err != nil {
			return uptimeQuery{}, fmt.Errorf("%w: to must be an RFC3339 timestamp", errBadParam)
		}
	}
	return uptimeQuery{window: &uptime.Window{Start: start, End: end}}, nil
}

// parseDays reads ?days=, defaulting to DefaultHistoryDays and capping at limit.
func parseDays(q url.Values, limit int) (int, error) {
	v := q.Get("days")
	if v == "" {
		return min(DefaultHistoryDays, limit), nil
	}
	days, err := strconv.Atoi(v)
	if err != nil || days < 1 {
		return 0, fmt.Errorf("%w: days must be a positive integer", errBadParam)
	}
	return min(days, limit), nil
}
