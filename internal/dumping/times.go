package dumping

import "time"

// DumpTimes pins the logical timestamps of one invocation: the last
// successful dump time read from the tracker (nil on the very first run) and
// the current time, captured once at engine construction so every comparison
// within the run uses the same reference. Both are UTC.
type DumpTimes struct {
	Last    *time.Time
	Current time.Time
}

// NewDumpTimes captures the current time and normalizes the last dump time.
func NewDumpTimes(last *time.Time) DumpTimes {
	times := DumpTimes{Current: time.Now().UTC()}
	if last != nil {
		utc := last.UTC()
		times.Last = &utc
	}
	return times
}
