// Copyright (C) 2017 ScyllaDB

package service

import (
	"github.com/gocql/gocql"
	"github.com/pkg/errors"
)

// Common errors.
var (
	ErrNotFound = gocql.ErrNotFound
	ErrNilPtr   = errors.New("nil")
)

// errValidate marks error as a validation error.
type errValidate struct {
	error
}

// ErrValidate marks error as a validation error, nil is not wrapped.
func ErrValidate(err error) error {
	if err == nil {
		return nil
	}
	return errValidate{err}
}

// IsErrValidate returns true if err was created by ErrValidate.
func IsErrValidate(err error) bool {
	var ev errValidate
	return errors.As(err, &ev)
}

// Unwrap returns the wrapped error.
func (e errValidate) Unwrap() error {
	return e.error
}
