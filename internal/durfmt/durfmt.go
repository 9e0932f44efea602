// Package durfmt parses the IRC-style duration strings used by KLINE,
// XLINE, RESV, and channel/account suspension durations (e.g. "1d2h").
package durfmt

import (
	"fmt"
	"regexp"
	"time"
)

var componentRe = regexp.MustCompile(`(\d+)([smhdwy])`)

// Parse parses a duration string composed of one or more
// <number><unit> components (s, m, h, d, w, y), e.g. "3d12h". A bare
// integer is interpreted as a count of seconds, matching the source
// daemon's KLINE/XLINE numeric-duration argument.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("durfmt: empty duration")
	}
	if matched := componentRe.FindAllStringSubmatchIndex(s, -1); matched != nil {
		if spansAll(s, matched) {
			return parseComponents(s), nil
		}
	}
	// fall back to a bare integer count of seconds
	var seconds int64
	if _, err := fmt.Sscanf(s, "%d", &seconds); err != nil {
		return 0, fmt.Errorf("durfmt: invalid duration %q", s)
	}
	return time.Duration(seconds) * time.Second, nil
}

func spansAll(s string, idx [][]int) bool {
	pos := 0
	for _, m := range idx {
		if m[0] != pos {
			return false
		}
		pos = m[1]
	}
	return pos == len(s)
}

func parseComponents(s string) time.Duration {
	var total time.Duration
	for _, m := range componentRe.FindAllStringSubmatch(s, -1) {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		total += time.Duration(n) * unitDuration(m[2])
	}
	return total
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "s":
		return time.Second
	case "m":
		return time.Minute
	case "h":
		return time.Hour
	case "d":
		return 24 * time.Hour
	case "w":
		return 7 * 24 * time.Hour
	case "y":
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}
