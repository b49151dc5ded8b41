// Copyright (C) 2017 ScyllaDB

package tickrun

import (
	"testing"
	"time"

	"go.uber.org/atomic"
)

func eventually(counter *atomic.Int64, expected int64) bool {
	for i := 0; i < 10; i++ {
		if counter.Load() == expected {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestTickerCallsFuncOnEveryTick(t *testing.T) {
	c := make(chan time.Time)
	OverrideTickerChan(c)
	defer func() { overrideTickerChanTestHook = nil }()

	var calls atomic.Int64
	stop := NewTicker(time.Hour, func() { calls.Inc() })

	c <- time.Now()
	if !eventually(&calls, 1) {
		t.Fatalf("calls = %d, expected 1", calls.Load())
	}
	c <- time.Now()
	if !eventually(&calls, 2) {
		t.Fatalf("calls = %d, expected 2", calls.Load())
	}

	stop()
	if v := calls.Load(); v != 2 {
		t.Fatalf("calls after stop = %d, expected 2", v)
	}
}
