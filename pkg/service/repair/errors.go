// Copyright (C) 2017 ScyllaDB

package repair

import (
	"github.com/pkg/errors"
	"github.com/scylladb/ringrepair/pkg/service"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = service.ErrNotFound
	// ErrProtocol is returned when a node sends a notification that can
	// not be interpreted.
	ErrProtocol = errors.New("invalid repair notification")
	// ErrTimeout is returned when a repair job did not finish in time.
	ErrTimeout = errors.New("repair job timeout")
	// ErrRetryBudgetExceeded is returned when a segment failed too many times.
	ErrRetryBudgetExceeded = errors.New("segment failure limit exceeded")
)
