// Copyright (C) 2017 ScyllaDB

package uuid

import (
	"bytes"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
)

// Nil UUID is special form of UUID that is specified to have all
// 128 bits set to zero.
var Nil UUID

// UUID identifies clusters, repair units, runs and segments. It wraps
// gocql.UUID so that values can be bound to CQL queries directly.
type UUID struct {
	gocql.UUID
}

// NewRandom returns a random (Version 4) UUID.
func NewRandom() (UUID, error) {
	u, err := gocql.RandomUUID()
	if err != nil {
		return Nil, err
	}
	return UUID{UUID: u}, nil
}

// MustRandom is like NewRandom but panics on error.
func MustRandom() UUID {
	u, err := NewRandom()
	if err != nil {
		panic(err)
	}
	return u
}

// NewTime returns a time based (Version 1) UUID, runs are ordered by it.
func NewTime() UUID {
	return UUID{UUID: gocql.TimeUUID()}
}

// Parse creates a new UUID from string.
func Parse(s string) (UUID, error) {
	u, err := gocql.ParseUUID(s)
	if err != nil {
		return Nil, errors.Wrapf(err, "parse uuid %q", s)
	}
	return UUID{UUID: u}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Compare returns an integer comparing two UUIDs. Time based UUIDs are
// compared by time first.
func Compare(a, b UUID) int {
	if a.Version() == 1 && b.Version() == 1 {
		switch ta, tb := a.Time(), b.Time(); {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
	}
	return bytes.Compare(a.UUID[:], b.UUID[:])
}

// MarshalCQL implements gocql.Marshaler.
func (u UUID) MarshalCQL(info gocql.TypeInfo) ([]byte, error) {
	if u == Nil {
		return nil, nil
	}
	return u.UUID[:], nil
}

// UnmarshalCQL implements gocql.Unmarshaler.
func (u *UUID) UnmarshalCQL(info gocql.TypeInfo, data []byte) error {
	if len(data) == 0 {
		*u = Nil
		return nil
	}

	v, err := gocql.UUIDFromBytes(data)
	if err != nil {
		return err
	}
	u.UUID = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UUID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = Nil
		return nil
	}
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
