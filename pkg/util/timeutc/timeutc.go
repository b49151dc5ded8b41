// Copyright (C) 2017 ScyllaDB

package timeutc

import "time"

// Now returns current time in UTC truncated to milliseconds, the precision
// of CQL timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return time.Now().UTC().Sub(t.UTC())
}
