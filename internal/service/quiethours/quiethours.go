// Package quiethours computes whether a moment falls inside a user's
// configured quiet window and when that window ends. All arithmetic is in
// minutes since midnight in the user's own timezone.
package quiethours

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edulane/notify-service/internal/model"
)

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// InWindow reports whether now falls inside the quiet window. A window whose
// start is after its end wraps midnight (22:00-08:00 covers evening and the
// following morning).
func InWindow(now time.Time, qh model.QuietHours) (bool, error) {
	if !qh.Enabled {
		return false, nil
	}

	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", qh.Timezone, err)
	}

	start, err := parseClock(qh.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(qh.End)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()

	if start > end {
		return current >= start || current <= end, nil
	}
	return current >= start && current <= end, nil
}

// WindowEnd returns the next moment the quiet window ends: today if the end
// has not yet passed in the user's zone, otherwise tomorrow.
func WindowEnd(now time.Time, qh model.QuietHours) (time.Time, error) {
	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", qh.Timezone, err)
	}

	end, err := parseClock(qh.End)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(loc)
	endToday := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	switch {
	case endToday.After(local):
		return endToday, nil
	case local.Before(endToday.Add(time.Minute)):
		// Inside the end minute itself, where InWindow is still true; the
		// window closes when the minute rolls over, not tomorrow.
		return endToday.Add(time.Minute), nil
	default:
		return endToday.AddDate(0, 0, 1), nil
	}
}
