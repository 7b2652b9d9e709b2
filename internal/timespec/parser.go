// Package timespec interprets the --since/--until values accepted by
// `rookery events` (and any future log-windowing flag): either a relative
// lookback such as "45m" or "2h30m", or an absolute RFC3339 instant.
package timespec

import (
	"fmt"
	"time"
)

// Parse resolves one flag value to Unix milliseconds, the timestamp unit
// event records carry. A bare duration is a lookback from now ("1h" means
// one hour ago); anything else must be an RFC3339 timestamp.
func Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if lookback, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-lookback).UnixMilli(), nil
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	return 0, fmt.Errorf("cannot interpret %q as a time: pass a lookback like '45m' or an RFC3339 instant like '2026-08-29T13:00:00Z'", spec)
}

// ParseRange resolves the --since/--until pair into an event-log window.
// An empty flag leaves that end of the window open (reported as 0, which the
// event filter treats as unbounded). A window that closes before it opens is
// rejected here so the query layer never sees one.
func ParseRange(since, until string) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		if sinceMS, err = Parse(since); err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if untilMS, err = Parse(until); err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since (%s) does not precede --until (%s)", since, until)
	}

	return sinceMS, untilMS, nil
}
