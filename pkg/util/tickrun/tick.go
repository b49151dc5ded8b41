// Copyright (C) 2017 ScyllaDB

package tickrun

import (
	"time"
)

// NewTicker calls f on every d tick in a separate goroutine. Calls to f never
// overlap, a tick that arrives while f is still running is dropped.
// The returned stop function blocks until the goroutine exits.
func NewTicker(d time.Duration, f func()) (stop func()) {
	ticker := time.NewTicker(d)
	c := ticker.C
	if overrideTickerChanTestHook != nil {
		c = overrideTickerChanTestHook()
	}

	done := make(chan struct{})
	quit := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			case <-c:
				f()
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(quit)
		<-done
	}
}

// for test purposes.
var overrideTickerChanTestHook func() <-chan time.Time
